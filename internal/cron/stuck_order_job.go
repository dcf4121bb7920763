package cron

import (
	"context"
	"fmt"

	"github.com/risecheckout/payments-backend/pkg/logger"
)

type StuckOrderJobParams struct {
	Logger  *logger.Logger
	Scanner stuckScanner
}

type stuckScanner interface {
	ScanStuck(ctx context.Context) (int, error)
}

// NewStuckOrderJob surfaces orders sitting in PENDING past the alert
// threshold. It only reports; cancelling a payable order is a human decision.
func NewStuckOrderJob(params StuckOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scanner == nil {
		return nil, fmt.Errorf("stuck scanner required")
	}
	return &stuckOrderJob{
		logg:    params.Logger,
		scanner: params.Scanner,
	}, nil
}

type stuckOrderJob struct {
	logg    *logger.Logger
	scanner stuckScanner
}

func (j *stuckOrderJob) Name() string { return "stuck-order-alert" }

func (j *stuckOrderJob) Run(ctx context.Context) error {
	count, err := j.scanner.ScanStuck(ctx)
	if err != nil {
		return fmt.Errorf("stuck order scan: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "stuck_orders", count)
	j.logg.Info(logCtx, "stuck order scan finished")
	return nil
}
