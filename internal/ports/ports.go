package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"TenderSync/internal/domain"
)

// TenderSource fetches pages of raw releases from the procurement API and
// normalizes a single release into a TenderRecord.
type TenderSource interface {
	FetchPage(ctx context.Context, cursor string, updatedFrom *time.Time) (domain.SourcePage, error)
	Normalize(raw json.RawMessage) (domain.TenderRecord, error)
}

// TenderStore persists tender records keyed by external id.
// Upsert never fails a run: a write error comes back as OutcomeSkipped with the cause.
type TenderStore interface {
	Upsert(ctx context.Context, record domain.TenderRecord) (domain.UpsertOutcome, error)
}

// TenderReader serves read-side queries over stored tenders.
type TenderReader interface {
	Get(ctx context.Context, externalID string) (domain.TenderRecord, error)
	Search(ctx context.Context, query domain.TenderQuery) ([]domain.TenderRecord, error)
	Count(ctx context.Context) (int, error)
}

// SyncLedger records each orchestrator run.
type SyncLedger interface {
	Begin(ctx context.Context, params domain.SyncParams) (uuid.UUID, error)
	Complete(ctx context.Context, runID uuid.UUID, counts domain.SyncCounts) error
	Fail(ctx context.Context, runID uuid.UUID, counts domain.SyncCounts, message string) error
}

// SyncRunReader exposes the ledger to operators.
type SyncRunReader interface {
	Get(ctx context.Context, runID uuid.UUID) (domain.SyncRun, error)
	List(ctx context.Context, limit int) ([]domain.SyncRun, error)
}

// Scheduler controls when sync runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
