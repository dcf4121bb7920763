package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/lifecycle"
	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/db/models"
	"github.com/risecheckout/payments-backend/pkg/enums"
	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

type eventApplier interface {
	Apply(ctx context.Context, event gateways.Event, source enums.EventSource) (*lifecycle.Result, error)
}

type adapterResolver interface {
	Lookup(gateway enums.Gateway) (gateways.Adapter, error)
}

// Summary reports one reconciliation sweep.
type Summary struct {
	Scanned      int
	Transitioned int
	Unavailable  int
	Failed       int
}

// ServiceParams configures the reconciliation service.
type ServiceParams struct {
	Logger    *logger.Logger
	Repo      Repository
	Registry  adapterResolver
	Lifecycle eventApplier
	Config    config.ReconcileConfig
	Now       func() time.Time
}

// Service sweeps stale PENDING orders and asks each gateway for the truth.
// Webhooks are the fast path; this loop is the safety net that makes missed
// deliveries eventually consistent.
type Service struct {
	logg      *logger.Logger
	repo      Repository
	registry  adapterResolver
	lifecycle eventApplier
	cfg       config.ReconcileConfig
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("reconcile repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		repo:      params.Repo,
		registry:  params.Registry,
		lifecycle: params.Lifecycle,
		cfg:       params.Config,
		now:       now,
	}, nil
}

// Run performs one sweep. A gateway being unreachable only skips the affected
// orders; they stay stale and the next sweep picks them up again.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 8
	}

	stale, err := s.repo.ListStale(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("list stale orders: %w", err)
	}

	summary := Summary{Scanned: len(stale)}
	if len(stale) == 0 {
		return summary, nil
	}
	if workers > len(stale) {
		workers = len(stale)
	}

	var (
		mu   sync.Mutex
		errs error
	)
	jobs := make(chan models.Order)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for order := range jobs {
				transitioned, err := s.reconcileOrder(ctx, order)
				mu.Lock()
				switch {
				case err == nil:
					if transitioned {
						summary.Transitioned++
					}
				case pkgerrors.IsCode(err, pkgerrors.CodeDependency):
					summary.Unavailable++
				default:
					summary.Failed++
					errs = multierr.Append(errs, err)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range stale {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- stale[i]:
		}
	}
	close(jobs)
	wg.Wait()

	reportCtx := s.logg.WithFields(ctx, map[string]any{
		"scanned":      summary.Scanned,
		"transitioned": summary.Transitioned,
		"unavailable":  summary.Unavailable,
		"failed":       summary.Failed,
	})
	s.logg.Info(reportCtx, "reconcile sweep complete")
	return summary, errs
}

func (s *Service) reconcileOrder(ctx context.Context, order models.Order) (bool, error) {
	if order.GatewayChargeID == nil {
		return false, nil
	}

	timeout := s.cfg.PerOrderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	orderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logCtx := s.logg.WithFields(orderCtx, map[string]any{
		"order_id":  order.ID.String(),
		"gateway":   order.Gateway,
		"charge_id": *order.GatewayChargeID,
	})

	adapter, err := s.registry.Lookup(order.Gateway)
	if err != nil {
		return false, fmt.Errorf("order %s: %w", order.ID, err)
	}

	event, err := adapter.FetchStatus(logCtx, *order.GatewayChargeID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			s.logg.Warn(logCtx, "gateway unavailable, order left for next sweep")
			return false, err
		}
		return false, fmt.Errorf("fetch status for order %s: %w", order.ID, err)
	}

	// Stamp the poll even when nothing changes; the tier throttle reads this.
	if err := s.repo.MarkChecked(logCtx, order.ID, s.now().UTC()); err != nil {
		s.logg.Warn(logCtx, "failed to record poll time: "+err.Error())
	}

	result, err := s.lifecycle.Apply(logCtx, *event, enums.EventSourceReconcile)
	if err != nil {
		return false, fmt.Errorf("apply reconcile event for order %s: %w", order.ID, err)
	}
	if result.StatusChanged {
		s.logg.Info(logCtx, "reconcile transitioned order to "+string(result.BusinessStatus))
	}
	return result.StatusChanged, nil
}

// ScanStuck logs every PENDING order older than the stuck threshold so
// operators can chase it with the gateway. Nothing is mutated; an abandoned
// checkout is indistinguishable from a lost payment at this layer.
func (s *Service) ScanStuck(ctx context.Context) (int, error) {
	threshold := s.cfg.StuckThreshold
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	cutoff := s.now().UTC().Add(-threshold)
	stuck, err := s.repo.ListStuckPending(ctx, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stuck orders: %w", err)
	}

	for i := range stuck {
		order := stuck[i]
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"gateway":      order.Gateway,
			"amount_cents": order.AmountCents,
			"age_hours":    int(s.now().Sub(order.CreatedAt).Hours()),
		})
		s.logg.Warn(logCtx, "order stuck in PENDING past threshold")
	}
	return len(stuck), nil
}
