package enums

import "fmt"

// EventSource records which ingestion path produced a gateway event. Webhook
// and reconciliation events get separate idempotency namespaces so neither
// path can starve the other; the transition table arbitrates conflicts.
type EventSource string

const (
	EventSourceWebhook   EventSource = "webhook"
	EventSourceReconcile EventSource = "reconcile"
)

var validEventSources = []EventSource{
	EventSourceWebhook,
	EventSourceReconcile,
}

// IsValid reports whether the value matches a known ingestion path.
func (s EventSource) IsValid() bool {
	for _, candidate := range validEventSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEventSource converts the raw string to EventSource.
func ParseEventSource(value string) (EventSource, error) {
	for _, candidate := range validEventSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event source %q", value)
}
