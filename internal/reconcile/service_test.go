package reconcile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/lifecycle"
	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
	outboxpkg "github.com/risecheckout/payments-backend/pkg/outbox"
)

func setupReconcileDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	stmts := []string{`
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
);`, `
CREATE TABLE IF NOT EXISTS processed_events (
  idempotency_key TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  gateway TEXT NOT NULL,
  gateway_charge_id TEXT NOT NULL,
  raw_status TEXT NOT NULL,
  source TEXT NOT NULL,
  resulting_status TEXT NOT NULL,
  applied_at DATETIME
);`, `
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
);`}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fetchAdapter struct {
	gateway enums.Gateway
	status  string
	mapped  enums.BusinessStatus
	err     error
	calls   int
}

func (f *fetchAdapter) Gateway() enums.Gateway { return f.gateway }

func (f *fetchAdapter) CreateCharge(ctx context.Context, req gateways.ChargeRequest) (*gateways.Charge, error) {
	return nil, nil
}

func (f *fetchAdapter) FetchStatus(ctx context.Context, chargeID string) (*gateways.Event, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &gateways.Event{
		Gateway:         f.gateway,
		ChargeID:        chargeID,
		EventType:       "payment.fetched:" + f.status,
		RawStatus:       f.status,
		BusinessStatus:  f.mapped,
		TechnicalStatus: f.status,
		OccurredAt:      time.Now().UTC(),
	}, nil
}

func (f *fetchAdapter) VerifyWebhook(header http.Header, body []byte) error { return nil }

func (f *fetchAdapter) MapEvent(ctx context.Context, header http.Header, body []byte) (*gateways.Event, error) {
	return nil, nil
}

// seedReconcileOrder inserts a PENDING order the way production leaves them:
// last_transition_at frozen at creation, last_checked_at only set once a
// sweep has polled the charge.
func seedReconcileOrder(t *testing.T, db *gorm.DB, chargeID string, createdAt time.Time, checkedAt *time.Time) *models.Order {
	t.Helper()
	charge := chargeID
	order := models.Order{
		ID:               uuid.New(),
		VendorID:         uuid.New(),
		ProductID:        uuid.New(),
		ClientToken:      uuid.NewString(),
		BusinessStatus:   enums.BusinessStatusPending,
		Gateway:          enums.GatewayMercadoPago,
		GatewayChargeID:  &charge,
		PaymentMethod:    enums.PaymentMethodPix,
		Currency:         "BRL",
		AmountCents:      10000,
		Version:          1,
		LastTransitionAt: createdAt,
		LastCheckedAt:    checkedAt,
		CreatedAt:        createdAt,
	}
	require.NoError(t, db.Create(&order).Error)
	return &order
}

func checkedAt(at time.Time) *time.Time {
	return &at
}

func testReconcileConfig() config.ReconcileConfig {
	return config.ReconcileConfig{
		MinAge:          3 * time.Minute,
		HourlyAfter:     time.Hour,
		DailyAfter:      24 * time.Hour,
		BatchSize:       50,
		Workers:         4,
		PerOrderTimeout: 2 * time.Second,
		StuckThreshold:  24 * time.Hour,
	}
}

func newTestService(t *testing.T, db *gorm.DB, adapter *fetchAdapter, now func() time.Time) *Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard})
	cfg := testReconcileConfig()
	lifecycleService := lifecycle.NewService(db, outboxpkg.NewService(outboxpkg.NewRepository(db), nil), nil)
	service, err := NewService(ServiceParams{
		Logger:    logg,
		Repo:      NewRepository(db, cfg.MinAge, cfg.HourlyAfter, cfg.DailyAfter),
		Registry:  gateways.NewRegistry(adapter),
		Lifecycle: lifecycleService,
		Config:    cfg,
		Now:       now,
	})
	require.NoError(t, err)
	return service
}

func TestListStaleTiers(t *testing.T) {
	db := setupReconcileDB(t)
	cfg := testReconcileConfig()
	repo := NewRepository(db, cfg.MinAge, cfg.HourlyAfter, cfg.DailyAfter)
	now := time.Now().UTC()

	// Young order never polled: eligible.
	young := seedReconcileOrder(t, db, "ch-young", now.Add(-10*time.Minute), nil)
	// Too fresh: created a minute ago.
	seedReconcileOrder(t, db, "ch-fresh", now.Add(-time.Minute), nil)
	// Mid-tier order polled half an hour ago: not eligible yet.
	seedReconcileOrder(t, db, "ch-mid-recent", now.Add(-2*time.Hour), checkedAt(now.Add(-30*time.Minute)))
	// Mid-tier order never polled: eligible.
	mid := seedReconcileOrder(t, db, "ch-mid-stale", now.Add(-2*time.Hour), nil)
	// Ancient order last polled thirty hours ago: daily tier, eligible.
	old := seedReconcileOrder(t, db, "ch-old", now.Add(-72*time.Hour), checkedAt(now.Add(-30*time.Hour)))
	// Ancient order polled an hour ago: not eligible.
	seedReconcileOrder(t, db, "ch-old-recent", now.Add(-72*time.Hour), checkedAt(now.Add(-time.Hour)))

	stale, err := repo.ListStale(context.Background(), now, 50)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool, len(stale))
	for _, order := range stale {
		ids[order.ID] = true
	}
	assert.Len(t, stale, 3)
	assert.True(t, ids[young.ID])
	assert.True(t, ids[mid.ID])
	assert.True(t, ids[old.ID])
}

func TestRunTransitionsPaidOrder(t *testing.T) {
	db := setupReconcileDB(t)
	adapter := &fetchAdapter{
		gateway: enums.GatewayMercadoPago,
		status:  "approved",
		mapped:  enums.BusinessStatusPaid,
	}
	service := newTestService(t, db, adapter, nil)
	now := time.Now().UTC()

	order := seedReconcileOrder(t, db, "ch-run-1", now.Add(-10*time.Minute), nil)

	summary, err := service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Transitioned)
	assert.Equal(t, 0, summary.Failed)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPaid, reloaded.BusinessStatus)
	require.NotNil(t, reloaded.LastCheckedAt)

	var effectCount int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", order.ID).Count(&effectCount).Error)
	assert.Equal(t, int64(3), effectCount)
}

func TestRunSwallowsGatewayUnavailable(t *testing.T) {
	db := setupReconcileDB(t)
	adapter := &fetchAdapter{
		gateway: enums.GatewayMercadoPago,
		err:     pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable"),
	}
	service := newTestService(t, db, adapter, nil)
	now := time.Now().UTC()

	order := seedReconcileOrder(t, db, "ch-down-1", now.Add(-10*time.Minute), nil)

	summary, err := service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Unavailable)
	assert.Equal(t, 0, summary.Transitioned)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.BusinessStatusPending, reloaded.BusinessStatus)
	// A failed fetch leaves the order unstamped so the next sweep retries it.
	assert.Nil(t, reloaded.LastCheckedAt)
}

func TestRunRepeatSweepIsQuiet(t *testing.T) {
	db := setupReconcileDB(t)
	adapter := &fetchAdapter{
		gateway: enums.GatewayMercadoPago,
		status:  "pending",
		mapped:  enums.BusinessStatusUnchanged,
	}
	current := time.Now().UTC()
	service := newTestService(t, db, adapter, func() time.Time { return current })

	seedReconcileOrder(t, db, "ch-repeat", current.Add(-10*time.Minute), nil)

	for i := 0; i < 2; i++ {
		summary, err := service.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Scanned)
		assert.Equal(t, 0, summary.Transitioned)
		// Next sweep runs a cycle later, past the min-age throttle.
		current = current.Add(5 * time.Minute)
	}

	// Identical raw status twice produces one processed event.
	var processedCount int64
	require.NoError(t, db.Model(&models.ProcessedEvent{}).Count(&processedCount).Error)
	assert.Equal(t, int64(1), processedCount)
}

func TestRunThrottlesUnchangedOrderBetweenSweeps(t *testing.T) {
	db := setupReconcileDB(t)
	adapter := &fetchAdapter{
		gateway: enums.GatewayMercadoPago,
		status:  "pending",
		mapped:  enums.BusinessStatusUnchanged,
	}
	service := newTestService(t, db, adapter, nil)
	now := time.Now().UTC()

	// Old order that never transitioned: last_transition_at == created_at.
	seedReconcileOrder(t, db, "ch-throttle", now.Add(-72*time.Hour), nil)

	first, err := service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Scanned)

	// The poll was recorded, so a back-to-back sweep must skip the order;
	// the daily tier owns it for the next 24 hours.
	second, err := service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Equal(t, 1, adapter.calls)
}

func TestScanStuck(t *testing.T) {
	db := setupReconcileDB(t)
	adapter := &fetchAdapter{gateway: enums.GatewayMercadoPago}
	service := newTestService(t, db, adapter, nil)
	now := time.Now().UTC()

	seedReconcileOrder(t, db, "ch-stuck", now.Add(-48*time.Hour), nil)
	seedReconcileOrder(t, db, "ch-ok", now.Add(-time.Hour), nil)

	count, err := service.ScanStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
