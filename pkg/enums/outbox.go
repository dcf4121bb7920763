package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres. These are the side
// effects downstream collaborators consume; the vocabulary mirrors the vendor
// facing webhook events.
type OutboxEventType string

const (
	EventPurchaseApproved OutboxEventType = "purchase_approved"
	EventRefund           OutboxEventType = "refund"
	EventChargeback       OutboxEventType = "chargeback"
	EventPixGenerated     OutboxEventType = "pix_generated"
	EventAccessGrant      OutboxEventType = "access_grant"
	EventAccessRevoke     OutboxEventType = "access_revoke"
	EventPurchaseTracking OutboxEventType = "purchase_tracking"
	EventOrderCreated     OutboxEventType = "order_created"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPurchaseApproved,
	EventRefund,
	EventChargeback,
	EventPixGenerated,
	EventAccessGrant,
	EventAccessRevoke,
	EventPurchaseTracking,
	EventOrderCreated,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
