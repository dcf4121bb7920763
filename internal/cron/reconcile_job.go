package cron

import (
	"context"
	"fmt"

	"github.com/risecheckout/payments-backend/internal/reconcile"
	"github.com/risecheckout/payments-backend/pkg/logger"
)

type ReconcileJobParams struct {
	Logger  *logger.Logger
	Sweeper reconcileSweeper
}

type reconcileSweeper interface {
	Run(ctx context.Context) (reconcile.Summary, error)
}

// NewReconcileJob wraps the gateway reconciliation sweep as a cron job.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	return &reconcileJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
	}, nil
}

type reconcileJob struct {
	logg    *logger.Logger
	sweeper reconcileSweeper
}

func (j *reconcileJob) Name() string { return "gateway-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	summary, err := j.sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":      summary.Scanned,
		"transitioned": summary.Transitioned,
		"unavailable":  summary.Unavailable,
	})
	j.logg.Info(logCtx, "reconcile job finished")
	return nil
}
