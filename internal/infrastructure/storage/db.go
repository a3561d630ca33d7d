package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"TenderSync/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	Name string
	// builder carries the placeholder format.
	builder sq.StatementBuilderType
	// like is the case-insensitive LIKE operator.
	like string
	// codesText renders classification_codes as text for pattern matching.
	codesText string
}

var (
	PostgresDialect = Dialect{
		Name:      config.DriverPostgres,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		like:      "ILIKE",
		codesText: "classification_codes::text",
	}
	SQLiteDialect = Dialect{
		Name:      config.DriverSQLite,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		like:      "LIKE",
		codesText: "classification_codes",
	}
)

// DialectFor maps a driver name onto its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.DriverPostgres:
		return PostgresDialect, nil
	case config.DriverSQLite:
		return SQLiteDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open connects to the configured database and verifies the connection.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	if dialect.Name == config.DriverSQLite {
		// A single writer connection avoids SQLITE_BUSY between the upsert transaction and other statements.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, dialect, nil
}

// Migrate applies the embedded migrations for the configured driver up to the latest version.
// It uses its own connection, released when the migration finishes.
func Migrate(cfg config.DatabaseConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+dialect.Name)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	conn, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}

	var driver database.Driver
	switch dialect.Name {
	case config.DriverPostgres:
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	case config.DriverSQLite:
		driver, err = sqlite.WithInstance(conn, &sqlite.Config{})
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect.Name, driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrationLogger{logger: logger}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("applied migrations", "driver", dialect.Name, "version", version, "dirty", dirty)
	return nil
}

type migrationLogger struct {
	logger *slog.Logger
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrationLogger) Verbose() bool {
	return false
}
