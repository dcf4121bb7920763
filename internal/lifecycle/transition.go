package lifecycle

import (
	"fmt"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
)

// Outcome is the decision produced by Transition. It never touches storage;
// the service applies it.
type Outcome struct {
	BusinessStatus  enums.BusinessStatus
	TechnicalStatus string

	// StatusChanged is true when the business status moves. A false value
	// with a non-empty TechnicalStatus still updates the technical track.
	StatusChanged bool

	// Effects are the outbox events the commit must queue.
	Effects []enums.OutboxEventType
}

// reachable encodes the one-way business status graph. A settled order can
// only move to a post-settlement state; nothing ever moves backwards.
var reachable = map[enums.BusinessStatus][]enums.BusinessStatus{
	enums.BusinessStatusPending: {enums.BusinessStatusPaid, enums.BusinessStatusCancelled},
	enums.BusinessStatusPaid:    {enums.BusinessStatusRefunded, enums.BusinessStatusChargedBack},
}

func canReach(from, to enums.BusinessStatus) bool {
	for _, candidate := range reachable[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// effectsFor lists the side effects a committed move queues. Every business
// transition also notifies the vendor through its own event type.
func effectsFor(to enums.BusinessStatus) []enums.OutboxEventType {
	switch to {
	case enums.BusinessStatusPaid:
		return []enums.OutboxEventType{
			enums.EventPurchaseApproved,
			enums.EventAccessGrant,
			enums.EventPurchaseTracking,
		}
	case enums.BusinessStatusRefunded:
		return []enums.OutboxEventType{
			enums.EventRefund,
			enums.EventAccessRevoke,
		}
	case enums.BusinessStatusChargedBack:
		return []enums.OutboxEventType{
			enums.EventChargeback,
			enums.EventAccessRevoke,
		}
	default:
		return nil
	}
}

// Transition decides how a gateway event moves an order. It is pure: no I/O,
// no clock, no mutation of the order.
//
// An UNCHANGED mapping only refreshes the technical status. A target equal to
// the current status is a no-op (gateways redeliver). A target the current
// status cannot reach is a conflict; the order is left untouched and the
// event is recorded by the caller so redeliveries stay quiet.
func Transition(order *models.Order, event gateways.Event) (Outcome, error) {
	if order == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "order is required")
	}

	target := event.BusinessStatus

	if target == enums.BusinessStatusUnchanged || target == order.BusinessStatus {
		return Outcome{
			BusinessStatus:  order.BusinessStatus,
			TechnicalStatus: event.TechnicalStatus,
			StatusChanged:   false,
		}, nil
	}

	if !target.IsValid() {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid target status %q", target))
	}

	if !canReach(order.BusinessStatus, target) {
		return Outcome{}, pkgerrors.New(
			pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.BusinessStatus, target),
		)
	}

	return Outcome{
		BusinessStatus:  target,
		TechnicalStatus: event.TechnicalStatus,
		StatusChanged:   true,
		Effects:         effectsFor(target),
	}, nil
}
