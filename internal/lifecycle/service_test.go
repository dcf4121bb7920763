package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	outboxpkg "github.com/risecheckout/payments-backend/pkg/outbox"
)

func setupLifecycleDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  client_token TEXT NOT NULL UNIQUE,
  business_status TEXT NOT NULL DEFAULT 'PENDING',
  technical_status TEXT NOT NULL DEFAULT '',
  gateway TEXT NOT NULL,
  gateway_charge_id TEXT,
  payment_method TEXT NOT NULL DEFAULT 'pix',
  currency TEXT NOT NULL DEFAULT 'BRL',
  amount_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL DEFAULT 0,
  affiliate_commission_cents INTEGER NOT NULL DEFAULT 0,
  net_cents INTEGER NOT NULL DEFAULT 0,
  platform_fee_percent TEXT NOT NULL DEFAULT '0',
  affiliate_commission_percent TEXT NOT NULL DEFAULT '0',
  affiliate_id TEXT,
  customer_email TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  provider_payload TEXT,
  version INTEGER NOT NULL DEFAULT 0,
  last_transition_at DATETIME NOT NULL,
  last_checked_at DATETIME,
  paid_at DATETIME,
  refunded_at DATETIME,
  charged_back_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	processedEvents := `
CREATE TABLE IF NOT EXISTS processed_events (
  idempotency_key TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  gateway TEXT NOT NULL,
  gateway_charge_id TEXT NOT NULL,
  raw_status TEXT NOT NULL,
  source TEXT NOT NULL,
  resulting_status TEXT NOT NULL,
  applied_at DATETIME
);`
	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	for _, stmt := range []string{orders, processedEvents, outboxEvents} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newTestLifecycleService(db *gorm.DB) *Service {
	outboxService := outboxpkg.NewService(outboxpkg.NewRepository(db), nil)
	return NewService(db, outboxService, nil)
}

func seedOrder(t *testing.T, db *gorm.DB, status enums.BusinessStatus, chargeID string) *models.Order {
	t.Helper()

	charge := chargeID
	order := models.Order{
		ID:               uuid.New(),
		VendorID:         uuid.New(),
		ProductID:        uuid.New(),
		ClientToken:      uuid.NewString(),
		BusinessStatus:   status,
		Gateway:          enums.GatewayMercadoPago,
		GatewayChargeID:  &charge,
		PaymentMethod:    enums.PaymentMethodPix,
		Currency:         "BRL",
		AmountCents:      10000,
		PlatformFeeCents: 1000,
		NetCents:         9000,
		CustomerEmail:    "buyer@example.com",
		Version:          1,
		LastTransitionAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&order).Error)
	return &order
}

func paidEvent(chargeID string) gateways.Event {
	return gateways.Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        chargeID,
		EventType:       "payment.updated:approved",
		RawStatus:       "approved",
		BusinessStatus:  enums.BusinessStatusPaid,
		TechnicalStatus: "approved",
		OccurredAt:      time.Now().UTC(),
	}
}

func outboxEventTypes(t *testing.T, db *gorm.DB, orderID uuid.UUID) []string {
	t.Helper()
	var types []string
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ?", orderID).
		Order("event_type ASC").
		Pluck("event_type", &types).Error)
	return types
}

func TestApplyPendingToPaid(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-1")

	result, err := service.Apply(context.Background(), paidEvent("ch-1"), enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.True(t, result.StatusChanged)
	assert.Equal(t, enums.BusinessStatusPaid, result.BusinessStatus)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPaid, reloaded.BusinessStatus)
	assert.Equal(t, "approved", reloaded.TechnicalStatus)
	assert.Equal(t, order.Version+1, reloaded.Version)
	require.NotNil(t, reloaded.PaidAt)

	assert.Equal(t, []string{"access_grant", "purchase_approved", "purchase_tracking"}, outboxEventTypes(t, db, order.ID))

	var processed models.ProcessedEvent
	require.NoError(t, db.First(&processed, "order_id = ?", order.ID).Error)
	assert.Equal(t, "mercadopago:ch-1:payment.updated:approved", processed.IdempotencyKey)
	assert.Equal(t, enums.BusinessStatusPaid, processed.ResultingStatus)
}

func TestApplyDuplicateEventIsNoOp(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-2")

	_, err := service.Apply(context.Background(), paidEvent("ch-2"), enums.EventSourceWebhook)
	require.NoError(t, err)

	result, err := service.Apply(context.Background(), paidEvent("ch-2"), enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, enums.BusinessStatusPaid, result.BusinessStatus)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, order.Version+1, reloaded.Version)
	assert.Len(t, outboxEventTypes(t, db, order.ID), 3)
}

func TestApplyNegativeSignalKeepsOrderPayable(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-3")

	rejected := gateways.Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        "ch-3",
		EventType:       "payment.updated:rejected",
		RawStatus:       "rejected",
		BusinessStatus:  enums.BusinessStatusUnchanged,
		TechnicalStatus: "rejected",
	}
	result, err := service.Apply(context.Background(), rejected, enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.False(t, result.StatusChanged)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPending, reloaded.BusinessStatus)
	assert.Equal(t, "rejected", reloaded.TechnicalStatus)
	assert.Empty(t, outboxEventTypes(t, db, order.ID))

	// The buyer retries and the same order still settles.
	result, err = service.Apply(context.Background(), paidEvent("ch-3"), enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)
	assert.Equal(t, enums.BusinessStatusPaid, result.BusinessStatus)
}

func TestApplyConflictingTransitionIsRecorded(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-4")

	refund := gateways.Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        "ch-4",
		EventType:       "payment.updated:refunded",
		RawStatus:       "refunded",
		BusinessStatus:  enums.BusinessStatusRefunded,
		TechnicalStatus: "refunded",
	}
	result, err := service.Apply(context.Background(), refund, enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.True(t, result.Conflicted)
	assert.Equal(t, enums.BusinessStatusPending, result.BusinessStatus)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPending, reloaded.BusinessStatus)
	assert.Equal(t, order.Version, reloaded.Version)
	assert.Empty(t, outboxEventTypes(t, db, order.ID))

	// A redelivery of the same conflicting event is a quiet duplicate.
	result, err = service.Apply(context.Background(), refund, enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
}

func TestApplyPaidToRefunded(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPaid, "ch-5")

	refund := gateways.Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        "ch-5",
		EventType:       "payment.updated:refunded",
		RawStatus:       "refunded",
		BusinessStatus:  enums.BusinessStatusRefunded,
		TechnicalStatus: "refunded",
	}
	result, err := service.Apply(context.Background(), refund, enums.EventSourceWebhook)
	require.NoError(t, err)
	assert.True(t, result.StatusChanged)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusRefunded, reloaded.BusinessStatus)
	require.NotNil(t, reloaded.RefundedAt)

	assert.Equal(t, []string{"access_revoke", "refund"}, outboxEventTypes(t, db, order.ID))
}

func TestApplyUnknownChargeReturnsNotFound(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)

	_, err := service.Apply(context.Background(), paidEvent("ch-missing"), enums.EventSourceWebhook)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestApplyPersistentVersionRaceReturnsDependency(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-race")

	// A rival writer bumps the version just before every guarded update, so
	// each attempt loses the optimistic race.
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("rival_writer", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "orders" {
			tx.Session(&gorm.Session{NewDB: true}).
				Exec("UPDATE orders SET version = version + 1 WHERE id = ?", order.ID)
		}
	}))
	defer func() {
		require.NoError(t, db.Callback().Update().Remove("rival_writer"))
	}()

	_, err := service.Apply(context.Background(), paidEvent("ch-race"), enums.EventSourceWebhook)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	// The order is untouched; the provider retries the delivery.
	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPending, reloaded.BusinessStatus)
}

func TestApplyWebhookThenReconcileSameStatus(t *testing.T) {
	db := setupLifecycleDB(t)
	service := newTestLifecycleService(db)
	order := seedOrder(t, db, enums.BusinessStatusPending, "ch-6")

	_, err := service.Apply(context.Background(), paidEvent("ch-6"), enums.EventSourceWebhook)
	require.NoError(t, err)

	// The reconciler sees the same settled charge under its own idempotency
	// namespace. It must not double-emit any effect.
	reconcileEvent := gateways.Event{
		Gateway:         enums.GatewayMercadoPago,
		ChargeID:        "ch-6",
		EventType:       "payment.fetched:approved",
		RawStatus:       "approved",
		BusinessStatus:  enums.BusinessStatusPaid,
		TechnicalStatus: "approved",
	}
	result, err := service.Apply(context.Background(), reconcileEvent, enums.EventSourceReconcile)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.False(t, result.StatusChanged)

	assert.Len(t, outboxEventTypes(t, db, order.ID), 3)

	var processedCount int64
	require.NoError(t, db.Model(&models.ProcessedEvent{}).Where("order_id = ?", order.ID).Count(&processedCount).Error)
	assert.Equal(t, int64(2), processedCount)
}

func TestTransitionTable(t *testing.T) {
	base := &models.Order{ID: uuid.New(), BusinessStatus: enums.BusinessStatusPaid}

	outcome, err := Transition(base, gateways.Event{BusinessStatus: enums.BusinessStatusChargedBack, TechnicalStatus: "charged_back"})
	require.NoError(t, err)
	assert.True(t, outcome.StatusChanged)
	assert.Equal(t, []enums.OutboxEventType{enums.EventChargeback, enums.EventAccessRevoke}, outcome.Effects)

	_, err = Transition(&models.Order{BusinessStatus: enums.BusinessStatusRefunded}, gateways.Event{BusinessStatus: enums.BusinessStatusPaid})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	outcome, err = Transition(base, gateways.Event{BusinessStatus: enums.BusinessStatusUnchanged, TechnicalStatus: "in_mediation"})
	require.NoError(t, err)
	assert.False(t, outcome.StatusChanged)
	assert.Equal(t, "in_mediation", outcome.TechnicalStatus)
	assert.Empty(t, outcome.Effects)
}
