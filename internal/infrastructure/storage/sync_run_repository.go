package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

const (
	syncRunsTable = "sync_runs"

	defaultRunListLimit = 20
	maxRunListLimit     = 500
)

var syncRunColumns = []string{
	"id", "started_at", "completed_at", "status",
	"records_fetched", "records_inserted", "records_updated", "records_skipped",
	"error_message", "params",
}

// SyncRunRepository is the ledger of orchestrator runs.
type SyncRunRepository struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ ports.SyncLedger    = (*SyncRunRepository)(nil)
	_ ports.SyncRunReader = (*SyncRunRepository)(nil)
)

func NewSyncRunRepository(db *sqlx.DB, dialect Dialect, logger *slog.Logger) *SyncRunRepository {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SyncRunRepository{db: db, dialect: dialect, logger: logger, now: time.Now}
}

type syncRunRow struct {
	ID              string                        `db:"id"`
	StartedAt       time.Time                     `db:"started_at"`
	CompletedAt     sql.NullTime                  `db:"completed_at"`
	Status          string                        `db:"status"`
	RecordsFetched  int                           `db:"records_fetched"`
	RecordsInserted int                           `db:"records_inserted"`
	RecordsUpdated  int                           `db:"records_updated"`
	RecordsSkipped  int                           `db:"records_skipped"`
	ErrorMessage    sql.NullString                `db:"error_message"`
	Params          jsonColumn[domain.SyncParams] `db:"params"`
}

// Begin records a new running entry with zero counters.
func (r *SyncRunRepository) Begin(ctx context.Context, params domain.SyncParams) (uuid.UUID, error) {
	id := uuid.New()
	query, args, err := r.dialect.builder.
		Insert(syncRunsTable).
		Columns("id", "started_at", "status", "records_fetched", "records_inserted", "records_updated", "records_skipped", "params").
		Values(id.String(), r.now().UTC(), string(domain.RunRunning), 0, 0, 0, 0, jsonColumn[domain.SyncParams]{Data: params}).
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build begin: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return uuid.Nil, fmt.Errorf("begin sync run: %w", err)
	}
	r.logger.Debug("sync run started", "run_id", id)
	return id, nil
}

// Complete finalizes a running entry as completed.
func (r *SyncRunRepository) Complete(ctx context.Context, runID uuid.UUID, counts domain.SyncCounts) error {
	return r.finish(ctx, runID, domain.RunCompleted, counts, nil)
}

// Fail finalizes a running entry as error with the given message.
func (r *SyncRunRepository) Fail(ctx context.Context, runID uuid.UUID, counts domain.SyncCounts, message string) error {
	return r.finish(ctx, runID, domain.RunError, counts, &message)
}

func (r *SyncRunRepository) finish(ctx context.Context, runID uuid.UUID, status domain.RunStatus, counts domain.SyncCounts, message *string) error {
	query, args, err := r.dialect.builder.
		Update(syncRunsTable).
		Set("status", string(status)).
		Set("completed_at", r.now().UTC()).
		Set("records_fetched", counts.Fetched).
		Set("records_inserted", counts.Inserted).
		Set("records_updated", counts.Updated).
		Set("records_skipped", counts.Skipped).
		Set("error_message", message).
		Where(sq.Eq{"id": runID.String(), "status": string(domain.RunRunning)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", runID, err)
	}
	if affected == 0 {
		// distinguish a missing run from one that is no longer running
		if _, err := r.Get(ctx, runID); err != nil {
			return err
		}
		return fmt.Errorf("sync run %s: %w", runID, domain.ErrRunFinalized)
	}

	r.logger.Debug("sync run finished", "run_id", runID, "status", status)
	return nil
}

// Get returns one ledger entry or domain.ErrNotFound.
func (r *SyncRunRepository) Get(ctx context.Context, runID uuid.UUID) (domain.SyncRun, error) {
	query, args, err := r.dialect.builder.
		Select(syncRunColumns...).
		From(syncRunsTable).
		Where(sq.Eq{"id": runID.String()}).
		ToSql()
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("build get run: %w", err)
	}

	var row syncRunRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncRun{}, fmt.Errorf("sync run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("get sync run %s: %w", runID, err)
	}
	return row.toDomain()
}

// List returns the most recent runs first.
func (r *SyncRunRepository) List(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	limit = min(limit, maxRunListLimit)

	query, args, err := r.dialect.builder.
		Select(syncRunColumns...).
		From(syncRunsTable).
		OrderBy("started_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}

	var rows []syncRunRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}

	runs := make([]domain.SyncRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (row syncRunRow) toDomain() (domain.SyncRun, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("parse run id %q: %w", row.ID, err)
	}
	return domain.SyncRun{
		ID:           id,
		StartedAt:    row.StartedAt.UTC(),
		CompletedAt:  nullTime(row.CompletedAt),
		Status:       domain.RunStatus(row.Status),
		Params:       row.Params.Data,
		ErrorMessage: nullString(row.ErrorMessage),
		SyncCounts: domain.SyncCounts{
			Fetched:  row.RecordsFetched,
			Inserted: row.RecordsInserted,
			Updated:  row.RecordsUpdated,
			Skipped:  row.RecordsSkipped,
		},
	}, nil
}
