package usecase

import (
	"context"
	"errors"
	"sync"

	"TenderSync/internal/domain"
)

// ErrSyncInProgress is returned when another run holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncRunner is satisfied by Syncer and Exclusive.
type SyncRunner interface {
	Run(ctx context.Context, opts domain.SyncOptions) (domain.SyncSummary, error)
}

// Exclusive lets at most one run proceed at a time within the process.
// Attempts made while a run is active fail fast instead of queueing.
type Exclusive struct {
	mu     sync.Mutex
	runner SyncRunner
}

func NewExclusive(runner SyncRunner) *Exclusive {
	return &Exclusive{runner: runner}
}

func (e *Exclusive) Run(ctx context.Context, opts domain.SyncOptions) (domain.SyncSummary, error) {
	if !e.mu.TryLock() {
		return domain.SyncSummary{}, ErrSyncInProgress
	}
	defer e.mu.Unlock()
	return e.runner.Run(ctx, opts)
}
