package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
	outboxpkg "github.com/risecheckout/payments-backend/pkg/outbox"
	"github.com/risecheckout/payments-backend/pkg/outbox/payloads"
)

// errVersionConflict signals a lost optimistic write inside one attempt. It
// never leaves Apply.
var errVersionConflict = errors.New("order version conflict")

// Result reports what Apply did with an event.
type Result struct {
	OrderID        uuid.UUID
	BusinessStatus enums.BusinessStatus

	// Duplicate means the idempotency key was already processed; nothing was
	// written.
	Duplicate bool

	// Conflicted means the event targeted a state the order cannot reach. The
	// event is recorded so redeliveries stay quiet, the order is untouched.
	Conflicted bool

	StatusChanged bool
}

// Service applies gateway events to orders. Every apply runs in a single
// transaction: duplicate check, transition, version-guarded update, processed
// event record, and outbox side effects commit or roll back together.
type Service struct {
	conn   *gorm.DB
	outbox *outboxpkg.Service
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(conn *gorm.DB, outbox *outboxpkg.Service, logg *logger.Logger) *Service {
	return &Service{
		conn:   conn,
		outbox: outbox,
		logg:   logg,
		now:    time.Now,
	}
}

// Apply routes one gateway event through the lifecycle. A lost optimistic
// write re-reads the order and retries once; both webhook delivery and
// reconciliation go through this same path.
func (s *Service) Apply(ctx context.Context, event gateways.Event, source enums.EventSource) (*Result, error) {
	if event.ChargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is missing charge id")
	}
	if !source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid event source")
	}

	key := event.DedupeKey(source)

	var result *Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		result, err = s.applyOnce(ctx, event, source, key)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		break
	}
	// Losing the race twice is contention, not an invalid transition; a 503
	// tells the provider to redeliver instead of dropping the event.
	if errors.Is(err, errVersionConflict) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order changed concurrently, retry later")
	}
	return result, err
}

func (s *Service) applyOnce(ctx context.Context, event gateways.Event, source enums.EventSource, key string) (*Result, error) {
	var result Result

	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		duplicate, err := s.alreadyProcessed(tx, key, &result)
		if err != nil || duplicate {
			return err
		}

		order, err := s.findOrder(tx, event)
		if err != nil {
			return err
		}
		result.OrderID = order.ID
		result.BusinessStatus = order.BusinessStatus

		outcome, err := Transition(order, event)
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			result.Conflicted = true
			s.logConflict(ctx, order, event, err)
			return s.recordProcessed(tx, key, order, event, source)
		}

		if err := s.persistOutcome(tx, order, outcome); err != nil {
			return err
		}
		result.BusinessStatus = order.BusinessStatus
		result.StatusChanged = outcome.StatusChanged

		if err := s.recordProcessed(tx, key, order, event, source); err != nil {
			return err
		}

		if outcome.StatusChanged {
			if err := s.emitEffects(ctx, tx, order, outcome.Effects); err != nil {
				return err
			}
			s.logTransition(ctx, order, event, source)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) alreadyProcessed(tx *gorm.DB, key string, result *Result) (bool, error) {
	var processed models.ProcessedEvent
	err := tx.Where("idempotency_key = ?", key).First(&processed).Error
	if err == nil {
		result.Duplicate = true
		result.OrderID = processed.OrderID
		result.BusinessStatus = processed.ResultingStatus
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking processed events")
}

func (s *Service) findOrder(tx *gorm.DB, event gateways.Event) (*models.Order, error) {
	var order models.Order
	err := tx.Where("gateway = ? AND gateway_charge_id = ?", event.Gateway, event.ChargeID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order matches the gateway charge")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return &order, nil
}

// persistOutcome writes the new statuses with an optimistic version guard and
// mutates order in memory to match what was committed.
func (s *Service) persistOutcome(tx *gorm.DB, order *models.Order, outcome Outcome) error {
	now := s.now().UTC()

	updates := map[string]any{
		"version":    order.Version + 1,
		"updated_at": now,
	}
	if outcome.TechnicalStatus != "" && outcome.TechnicalStatus != order.TechnicalStatus {
		updates["technical_status"] = outcome.TechnicalStatus
	}
	if outcome.StatusChanged {
		updates["business_status"] = outcome.BusinessStatus
		updates["last_transition_at"] = now
		switch outcome.BusinessStatus {
		case enums.BusinessStatusPaid:
			updates["paid_at"] = now
		case enums.BusinessStatusRefunded:
			updates["refunded_at"] = now
		case enums.BusinessStatusChargedBack:
			updates["charged_back_at"] = now
		case enums.BusinessStatusCancelled:
			updates["cancelled_at"] = now
		}
	} else if len(updates) == 2 {
		// Nothing to write beyond the bookkeeping columns.
		return nil
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "updating order")
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}

	order.Version++
	order.UpdatedAt = now
	if outcome.TechnicalStatus != "" {
		order.TechnicalStatus = outcome.TechnicalStatus
	}
	if outcome.StatusChanged {
		order.BusinessStatus = outcome.BusinessStatus
		order.LastTransitionAt = now
		switch outcome.BusinessStatus {
		case enums.BusinessStatusPaid:
			order.PaidAt = &now
		case enums.BusinessStatusRefunded:
			order.RefundedAt = &now
		case enums.BusinessStatusChargedBack:
			order.ChargedBackAt = &now
		case enums.BusinessStatusCancelled:
			order.CancelledAt = &now
		}
	}
	return nil
}

func (s *Service) recordProcessed(tx *gorm.DB, key string, order *models.Order, event gateways.Event, source enums.EventSource) error {
	row := models.ProcessedEvent{
		IdempotencyKey:  key,
		OrderID:         order.ID,
		Gateway:         event.Gateway,
		GatewayChargeID: event.ChargeID,
		RawStatus:       event.RawStatus,
		Source:          source,
		ResultingStatus: order.BusinessStatus,
		AppliedAt:       s.now().UTC(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording processed event")
	}
	return nil
}

func (s *Service) emitEffects(ctx context.Context, tx *gorm.DB, order *models.Order, effects []enums.OutboxEventType) error {
	for _, effect := range effects {
		payload, err := s.effectPayload(order, effect)
		if err != nil {
			return err
		}
		domainEvent := outboxpkg.DomainEvent{
			EventType:     effect,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          payload,
			OccurredAt:    order.LastTransitionAt,
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, domainEvent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing outbox effect")
		}
	}
	return nil
}

func (s *Service) effectPayload(order *models.Order, effect enums.OutboxEventType) (any, error) {
	switch effect {
	case enums.EventPurchaseApproved:
		paidAt := order.LastTransitionAt
		if order.PaidAt != nil {
			paidAt = *order.PaidAt
		}
		return payloads.PurchaseApprovedEvent{
			OrderID:                  order.ID,
			VendorID:                 order.VendorID,
			ProductID:                order.ProductID,
			Gateway:                  order.Gateway,
			AmountCents:              order.AmountCents,
			PlatformFeeCents:         order.PlatformFeeCents,
			AffiliateCommissionCents: order.AffiliateCommissionCents,
			NetCents:                 order.NetCents,
			AffiliateID:              order.AffiliateID,
			PaidAt:                   paidAt,
		}, nil
	case enums.EventAccessGrant:
		return payloads.AccessGrantEvent{
			OrderID:       order.ID,
			ProductID:     order.ProductID,
			CustomerEmail: order.CustomerEmail,
			GrantedAt:     order.LastTransitionAt,
		}, nil
	case enums.EventAccessRevoke:
		reason := "refund"
		if order.BusinessStatus == enums.BusinessStatusChargedBack {
			reason = "chargeback"
		}
		return payloads.AccessRevokeEvent{
			OrderID:       order.ID,
			ProductID:     order.ProductID,
			CustomerEmail: order.CustomerEmail,
			Reason:        reason,
			RevokedAt:     order.LastTransitionAt,
		}, nil
	case enums.EventPurchaseTracking:
		return payloads.PurchaseTrackingEvent{
			OrderID:       order.ID,
			VendorID:      order.VendorID,
			ProductID:     order.ProductID,
			Gateway:       order.Gateway,
			PaymentMethod: order.PaymentMethod,
			AmountCents:   order.AmountCents,
			Currency:      order.Currency,
			AffiliateID:   order.AffiliateID,
		}, nil
	case enums.EventRefund:
		refundedAt := order.LastTransitionAt
		if order.RefundedAt != nil {
			refundedAt = *order.RefundedAt
		}
		return payloads.RefundEvent{
			OrderID:     order.ID,
			VendorID:    order.VendorID,
			Gateway:     order.Gateway,
			AmountCents: order.AmountCents,
			RefundedAt:  refundedAt,
		}, nil
	case enums.EventChargeback:
		chargedBackAt := order.LastTransitionAt
		if order.ChargedBackAt != nil {
			chargedBackAt = *order.ChargedBackAt
		}
		return payloads.ChargebackEvent{
			OrderID:       order.ID,
			VendorID:      order.VendorID,
			Gateway:       order.Gateway,
			AmountCents:   order.AmountCents,
			ChargedBackAt: chargedBackAt,
		}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "no payload builder for effect "+string(effect))
	}
}

func (s *Service) logTransition(ctx context.Context, order *models.Order, event gateways.Event, source enums.EventSource) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":        order.ID.String(),
		"gateway":         event.Gateway,
		"charge_id":       event.ChargeID,
		"raw_status":      event.RawStatus,
		"business_status": order.BusinessStatus,
		"source":          source,
	})
	s.logg.Info(logCtx, "order transitioned")
}

func (s *Service) logConflict(ctx context.Context, order *models.Order, event gateways.Event, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":        order.ID.String(),
		"gateway":         event.Gateway,
		"charge_id":       event.ChargeID,
		"raw_status":      event.RawStatus,
		"business_status": order.BusinessStatus,
		"target_status":   event.BusinessStatus,
	})
	s.logg.Warn(logCtx, "conflicting transition ignored: "+err.Error())
}
