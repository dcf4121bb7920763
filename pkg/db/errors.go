package db

import "strings"

// IsUniqueViolation reports whether err is a Postgres unique violation. When
// constraintName is given, the match is restricted to that constraint; the
// orders service relies on this to tell a client_token replay apart from a
// gateway_charge_id collision.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}
