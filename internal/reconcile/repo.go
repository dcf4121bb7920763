package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
)

// Repository selects orders the reconciliation loop should look at and
// records each poll so the tier throttle has something to key off.
type Repository interface {
	ListStale(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListStuckPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	MarkChecked(ctx context.Context, orderID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB

	minAge      time.Duration
	hourlyAfter time.Duration
	dailyAfter  time.Duration
}

// NewRepository builds a reconcile repository. The durations control the
// polling tiers: young orders are re-checked every cycle, older ones hourly,
// ancient ones daily.
func NewRepository(db *gorm.DB, minAge, hourlyAfter, dailyAfter time.Duration) Repository {
	return &repository{
		db:          db,
		minAge:      minAge,
		hourlyAfter: hourlyAfter,
		dailyAfter:  dailyAfter,
	}
}

// ListStale returns PENDING orders with a bound charge whose last poll is
// older than their tier allows. A never-polled order falls back to its last
// transition time. Orders without a charge have nothing to reconcile against.
func (r *repository) ListStale(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	minAgeCutoff := now.Add(-r.minAge)
	hourlyCutoff := now.Add(-r.hourlyAfter)
	dailyCutoff := now.Add(-r.dailyAfter)

	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("business_status = ? AND gateway_charge_id IS NOT NULL", enums.BusinessStatusPending).
		Where("created_at <= ?", minAgeCutoff).
		Where(`
			(created_at > ? AND COALESCE(last_checked_at, last_transition_at) <= ?)
			OR (created_at <= ? AND created_at > ? AND COALESCE(last_checked_at, last_transition_at) <= ?)
			OR (created_at <= ? AND COALESCE(last_checked_at, last_transition_at) <= ?)`,
			hourlyCutoff, minAgeCutoff,
			hourlyCutoff, dailyCutoff, hourlyCutoff,
			dailyCutoff, dailyCutoff,
		).
		Order("COALESCE(last_checked_at, last_transition_at) ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkChecked stamps the poll time on an order. Run this after every gateway
// fetch, transition or not, so the tiers actually space the polls out.
func (r *repository) MarkChecked(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("last_checked_at", at).Error
}

// ListStuckPending returns PENDING orders older than the cutoff regardless of
// charge state. These are surfaced for operators, never auto-cancelled.
func (r *repository) ListStuckPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("business_status = ? AND created_at <= ?", enums.BusinessStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
