package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRunFinalized is returned when a run is completed or failed twice.
var ErrRunFinalized = errors.New("sync run already finalized")

// RunStatus enumerates ledger states.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// SyncOptions are the caller-supplied parameters of one run.
// A nil WindowDays takes the configured default; Limit 0 means no limit.
type SyncOptions struct {
	WindowDays *int `json:"windowDays,omitempty" validate:"omitempty,gte=0"`
	FullSync   bool `json:"fullSync"`
	Limit      int  `json:"limit" validate:"gte=0"`
}

// DefaultSyncOptions returns an incremental seven-day run.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{WindowDays: Days(7)}
}

// Days returns a window length for SyncOptions.
func Days(n int) *int {
	return &n
}

// SyncParams are the resolved parameters recorded in the ledger.
type SyncParams struct {
	WindowDays  int        `json:"windowDays"`
	FullSync    bool       `json:"fullSync"`
	Limit       int        `json:"limit"`
	UpdatedFrom *time.Time `json:"updatedFrom,omitempty"`
}

// SyncCounts are the run counters, non-decreasing during a run.
type SyncCounts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// SyncSummary is returned to the orchestrator's caller.
type SyncSummary struct {
	RunID uuid.UUID `json:"runId"`
	SyncCounts
}

// SyncRun is one ledger entry.
type SyncRun struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Status       RunStatus  `json:"status"`
	Params       SyncParams `json:"params"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	SyncCounts
}
