package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/metrics"
	"TenderSync/internal/ports"
)

const defaultWindowDays = 7

// ErrInvalidOptions wraps validation failures of SyncOptions.
var ErrInvalidOptions = errors.New("invalid sync options")

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SyncerDeps wires the driven adapters into the sync use case.
type SyncerDeps struct {
	Source ports.TenderSource
	Store  ports.TenderStore
	Ledger ports.SyncLedger
	Logger *slog.Logger

	// WindowDays applies when options omit it.
	WindowDays int
	// PageDelay is the pause between consecutive page requests.
	PageDelay time.Duration

	Clock func() time.Time
	Sleep SleepFunc
}

// Syncer runs one synchronization of the tender source into the store.
type Syncer struct {
	source     ports.TenderSource
	store      ports.TenderStore
	ledger     ports.SyncLedger
	logger     *slog.Logger
	validate   *validator.Validate
	windowDays int
	pageDelay  time.Duration
	now        func() time.Time
	sleep      SleepFunc
}

// NewSyncer constructs the orchestration component.
func NewSyncer(deps SyncerDeps) *Syncer {
	s := &Syncer{
		source:     deps.Source,
		store:      deps.Store,
		ledger:     deps.Ledger,
		logger:     deps.Logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		windowDays: deps.WindowDays,
		pageDelay:  deps.PageDelay,
		now:        deps.Clock,
		sleep:      deps.Sleep,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.windowDays <= 0 {
		s.windowDays = defaultWindowDays
	}
	if s.pageDelay < 0 {
		s.pageDelay = 0
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleep
	}
	return s
}

// Run executes one sync. The ledger entry is finalized exactly once whether the
// run completes or fails; a fatal error is returned after finalization.
func (s *Syncer) Run(ctx context.Context, opts domain.SyncOptions) (domain.SyncSummary, error) {
	if err := s.validate.Struct(opts); err != nil {
		return domain.SyncSummary{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	started := s.now()
	params := s.resolveParams(opts, started)

	runID, err := s.ledger.Begin(ctx, params)
	if err != nil {
		return domain.SyncSummary{}, fmt.Errorf("begin sync run: %w", err)
	}

	logger := s.logger.With("run_id", runID)
	logger.Info("sync started",
		"full_sync", params.FullSync,
		"window_days", params.WindowDays,
		"limit", params.Limit,
		"updated_from", params.UpdatedFrom)

	counts, runErr := s.syncPages(ctx, logger, params)
	summary := domain.SyncSummary{RunID: runID, SyncCounts: counts}
	elapsed := s.now().Sub(started)

	// the caller's context may already be cancelled; the ledger still has to be finalized
	finalizeCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		if err := s.ledger.Complete(finalizeCtx, runID, counts); err != nil {
			runErr = fmt.Errorf("complete sync run: %w", err)
		}
	}

	if runErr != nil {
		metrics.SyncRunsTotal.WithLabelValues(string(domain.RunError)).Inc()
		metrics.SyncRunDuration.Observe(elapsed.Seconds())

		if err := s.ledger.Fail(finalizeCtx, runID, counts, runErr.Error()); err != nil {
			logger.Error("finalize failed sync run", "error", err, "run_error", runErr)
			return summary, errors.Join(runErr, fmt.Errorf("fail sync run: %w", err))
		}
		logger.Error("sync failed", "error", runErr, "fetched", counts.Fetched, "duration", elapsed)
		return summary, runErr
	}

	metrics.SyncRunsTotal.WithLabelValues(string(domain.RunCompleted)).Inc()
	metrics.SyncRunDuration.Observe(elapsed.Seconds())
	logger.Info("sync completed",
		"fetched", counts.Fetched,
		"inserted", counts.Inserted,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"duration", elapsed)
	return summary, nil
}

func (s *Syncer) resolveParams(opts domain.SyncOptions, now time.Time) domain.SyncParams {
	params := domain.SyncParams{FullSync: opts.FullSync, Limit: opts.Limit}
	if opts.FullSync {
		return params
	}
	params.WindowDays = s.windowDays
	if opts.WindowDays != nil {
		params.WindowDays = *opts.WindowDays
	}
	from := now.UTC().AddDate(0, 0, -params.WindowDays)
	params.UpdatedFrom = &from
	return params
}

// syncPages walks the cursor chain and returns the counts accumulated until it
// stops or fails.
func (s *Syncer) syncPages(ctx context.Context, logger *slog.Logger, params domain.SyncParams) (domain.SyncCounts, error) {
	var (
		counts domain.SyncCounts
		cursor string
	)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		result, err := s.source.FetchPage(ctx, cursor, params.UpdatedFrom)
		if err != nil {
			return counts, fmt.Errorf("fetch page %d: %w", page, err)
		}

		var limitReached bool
		counts, limitReached, err = s.processPage(ctx, logger, result, counts, params.Limit)
		logger.Info("page processed",
			"page", page,
			"records", len(result.Records),
			"fetched", counts.Fetched,
			"inserted", counts.Inserted,
			"updated", counts.Updated,
			"skipped", counts.Skipped)
		if err != nil {
			return counts, err
		}

		if limitReached || result.NextPageToken == "" {
			return counts, nil
		}
		cursor = result.NextPageToken

		if err := s.sleep(ctx, s.pageDelay); err != nil {
			return counts, err
		}
	}
}

// processPage applies one page to the accumulator. Only cancellation aborts it;
// record-level failures become skipped.
func (s *Syncer) processPage(ctx context.Context, logger *slog.Logger, page domain.SourcePage, counts domain.SyncCounts, limit int) (domain.SyncCounts, bool, error) {
	for _, raw := range page.Records {
		if limit > 0 && counts.Fetched >= limit {
			return counts, true, nil
		}
		if err := ctx.Err(); err != nil {
			return counts, false, err
		}

		counts.Fetched++
		outcome := s.apply(ctx, logger, raw)
		switch outcome {
		case domain.OutcomeInserted:
			counts.Inserted++
		case domain.OutcomeUpdated:
			counts.Updated++
		default:
			counts.Skipped++
		}
		metrics.RecordsTotal.WithLabelValues(string(outcome)).Inc()
	}
	return counts, limit > 0 && counts.Fetched >= limit, nil
}

func (s *Syncer) apply(ctx context.Context, logger *slog.Logger, raw json.RawMessage) domain.UpsertOutcome {
	record, err := s.source.Normalize(raw)
	if err != nil {
		logger.Warn("skipping malformed release", "error", err)
		return domain.OutcomeSkipped
	}

	outcome, err := s.store.Upsert(ctx, record)
	if err != nil {
		logger.Warn("skipping tender after store error", "external_id", record.ExternalID, "error", err)
		return domain.OutcomeSkipped
	}
	return outcome
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
