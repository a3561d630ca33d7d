package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"TenderSync/internal/config"
	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/httpapi"
	"TenderSync/internal/infrastructure/ocds"
	"TenderSync/internal/infrastructure/scheduler"
	"TenderSync/internal/infrastructure/storage"
	"TenderSync/internal/logging"
	"TenderSync/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *sqlx.DB
	tenders *storage.TenderRepository
	runs    *storage.SyncRunRepository
	syncer  *usecase.Exclusive
}

// New connects the store, applies migrations when enabled and builds the sync pipeline.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}

	if cfg.Database.Migrate() {
		if err := storage.Migrate(cfg.Database, baseLogger.With("component", "migrate")); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	db, dialect, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	tenders := storage.NewTenderRepository(db, dialect, baseLogger.With("component", "store"))
	runs := storage.NewSyncRunRepository(db, dialect, baseLogger.With("component", "ledger"))
	source := ocds.NewClient(cfg.Source, nil, baseLogger.With("component", "source"))

	syncer := usecase.NewSyncer(usecase.SyncerDeps{
		Source:     source,
		Store:      tenders,
		Ledger:     runs,
		Logger:     baseLogger.With("component", "sync"),
		WindowDays: cfg.Sync.WindowDays,
		PageDelay:  cfg.Sync.PageDelay,
	})

	return &Application{
		cfg:     cfg,
		logger:  baseLogger,
		db:      db,
		tenders: tenders,
		runs:    runs,
		syncer:  usecase.NewExclusive(syncer),
	}, nil
}

// Sync performs a single run with the given options.
func (a *Application) Sync(ctx context.Context, opts domain.SyncOptions) (domain.SyncSummary, error) {
	return a.syncer.Run(ctx, opts)
}

// Serve runs the HTTP API and, when enabled, the interval scheduler until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if a.cfg.Scheduler.Enabled {
		driver := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval, a.cfg.Scheduler.Location())
		sched := usecase.NewScheduler(driver, a.syncer, domain.SyncOptions{WindowDays: domain.Days(a.cfg.Sync.WindowDays)},
			a.logger.With("component", "scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("scheduler stop", "error", err)
			}
		}()
		a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval, "timezone", a.cfg.Scheduler.Location())
	}

	server := httpapi.NewServer(a.cfg.HTTP.Address, httpapi.Deps{
		Tenders: a.tenders,
		Runs:    a.runs,
		Syncer:  a.syncer,
		DB:      a.db,
		Logger:  a.logger.With("component", "http"),
	})
	return server.Run(ctx)
}

// Close releases the database connection.
func (a *Application) Close() error {
	return a.db.Close()
}
