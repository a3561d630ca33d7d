package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

// Scheduler wires the interval driver with the sync use case.
type Scheduler struct {
	driver ports.Scheduler
	runner SyncRunner
	opts   domain.SyncOptions
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring incremental syncs.
func NewScheduler(driver ports.Scheduler, runner SyncRunner, opts domain.SyncOptions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, runner: runner, opts: opts, logger: logger}
}

// Start registers the sync job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		summary, err := s.runner.Run(ctx, s.opts)
		switch {
		case errors.Is(err, ErrSyncInProgress):
			s.logger.Info("scheduled sync skipped, another run is active", "trigger", trigger)
		case err != nil:
			s.logger.Error("scheduled sync failed", "trigger", trigger, "run_id", summary.RunID, "error", err)
		default:
			s.logger.Info("scheduled sync finished", "trigger", trigger, "run_id", summary.RunID, "fetched", summary.Fetched)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
