package enums

import "fmt"

// BusinessStatus is the customer/accounting-facing order state. It only moves
// through the lifecycle transition table; gateway noise never touches it directly.
type BusinessStatus string

const (
	BusinessStatusPending     BusinessStatus = "PENDING"
	BusinessStatusPaid        BusinessStatus = "PAID"
	BusinessStatusRefunded    BusinessStatus = "REFUNDED"
	BusinessStatusChargedBack BusinessStatus = "CHARGED_BACK"
	BusinessStatusCancelled   BusinessStatus = "CANCELLED"

	// BusinessStatusUnchanged is a mapping sentinel, not a storable state: an
	// event carrying it updates the technical status only.
	BusinessStatusUnchanged BusinessStatus = "UNCHANGED"
)

var validBusinessStatuses = []BusinessStatus{
	BusinessStatusPending,
	BusinessStatusPaid,
	BusinessStatusRefunded,
	BusinessStatusChargedBack,
	BusinessStatusCancelled,
}

// IsValid reports whether the value is a storable business status. The
// UNCHANGED sentinel is deliberately excluded.
func (b BusinessStatus) IsValid() bool {
	for _, candidate := range validBusinessStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no outgoing transitions exist from this status.
func (b BusinessStatus) IsTerminal() bool {
	switch b {
	case BusinessStatusRefunded, BusinessStatusChargedBack, BusinessStatusCancelled:
		return true
	}
	return false
}

// ParseBusinessStatus converts the raw string to BusinessStatus.
func ParseBusinessStatus(value string) (BusinessStatus, error) {
	for _, candidate := range validBusinessStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid business status %q", value)
}
