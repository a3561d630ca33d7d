package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"TenderSync/internal/domain"
	"TenderSync/internal/ports"
)

const (
	tendersTable = "tenders"

	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

var tenderColumns = []string{
	"external_id", "revision_id", "title", "description", "status", "stage",
	"buyer_id", "buyer_name",
	"value_amount", "value_currency", "value_min", "value_max",
	"published_at", "tender_start", "tender_end", "contract_start", "contract_end",
	"classification_codes", "region", "raw",
	"first_seen_at", "last_synced_at",
}

// mutableTenderColumns are overwritten wholesale on conflict.
var mutableTenderColumns = []string{
	"revision_id", "title", "description", "status", "stage",
	"buyer_id", "buyer_name",
	"value_amount", "value_currency", "value_min", "value_max",
	"published_at", "tender_start", "tender_end", "contract_start", "contract_end",
	"classification_codes", "region", "raw",
	"last_synced_at",
}

// TenderRepository persists tender records keyed by external id.
type TenderRepository struct {
	db      *sqlx.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ ports.TenderStore  = (*TenderRepository)(nil)
	_ ports.TenderReader = (*TenderRepository)(nil)
)

// NewTenderRepository wires a sqlx.DB for the given dialect.
func NewTenderRepository(db *sqlx.DB, dialect Dialect, logger *slog.Logger) *TenderRepository {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TenderRepository{db: db, dialect: dialect, logger: logger, now: time.Now}
}

type tenderRow struct {
	ExternalID          string               `db:"external_id"`
	RevisionID          string               `db:"revision_id"`
	Title               string               `db:"title"`
	Description         string               `db:"description"`
	Status              string               `db:"status"`
	Stage               string               `db:"stage"`
	BuyerID             sql.NullString       `db:"buyer_id"`
	BuyerName           sql.NullString       `db:"buyer_name"`
	ValueAmount         sql.NullFloat64      `db:"value_amount"`
	ValueCurrency       string               `db:"value_currency"`
	ValueMin            sql.NullFloat64      `db:"value_min"`
	ValueMax            sql.NullFloat64      `db:"value_max"`
	PublishedAt         sql.NullTime         `db:"published_at"`
	TenderStart         sql.NullTime         `db:"tender_start"`
	TenderEnd           sql.NullTime         `db:"tender_end"`
	ContractStart       sql.NullTime         `db:"contract_start"`
	ContractEnd         sql.NullTime         `db:"contract_end"`
	ClassificationCodes jsonColumn[[]string] `db:"classification_codes"`
	Region              string               `db:"region"`
	Raw                 rawJSON              `db:"raw"`
	FirstSeenAt         time.Time            `db:"first_seen_at"`
	LastSyncedAt        time.Time            `db:"last_synced_at"`
}

// Upsert inserts or fully overwrites the record. Write failures are logged
// and reported as OutcomeSkipped together with the cause.
func (r *TenderRepository) Upsert(ctx context.Context, record domain.TenderRecord) (domain.UpsertOutcome, error) {
	if strings.TrimSpace(record.ExternalID) == "" {
		err := errors.New("tender has no external id")
		r.logger.Error("upsert tender failed", "error", err)
		return domain.OutcomeSkipped, err
	}

	var (
		outcome domain.UpsertOutcome
		err     error
	)
	if r.dialect.Name == PostgresDialect.Name {
		outcome, err = r.upsertReturning(ctx, record)
	} else {
		outcome, err = r.upsertInTx(ctx, record)
	}
	if err != nil {
		r.logger.Error("upsert tender failed", "external_id", record.ExternalID, "error", err)
		return domain.OutcomeSkipped, fmt.Errorf("upsert tender %s: %w", record.ExternalID, err)
	}

	r.logger.Debug("upserted tender", "external_id", record.ExternalID, "outcome", outcome)
	return outcome, nil
}

// upsertReturning relies on xmax being zero only for freshly inserted rows.
func (r *TenderRepository) upsertReturning(ctx context.Context, record domain.TenderRecord) (domain.UpsertOutcome, error) {
	query, args, err := r.upsertReturningSQL(record)
	if err != nil {
		return "", fmt.Errorf("build upsert: %w", err)
	}

	var inserted bool
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&inserted); err != nil {
		return "", err
	}
	if inserted {
		return domain.OutcomeInserted, nil
	}
	return domain.OutcomeUpdated, nil
}

func (r *TenderRepository) upsertReturningSQL(record domain.TenderRecord) (string, []any, error) {
	return r.upsertBuilder(record).Suffix("RETURNING (xmax = 0) AS inserted").ToSql()
}

func (r *TenderRepository) upsertInTx(ctx context.Context, record domain.TenderRecord) (domain.UpsertOutcome, error) {
	existsQuery, existsArgs, err := r.dialect.builder.
		Select("COUNT(1)").
		From(tendersTable).
		Where(sq.Eq{"external_id": record.ExternalID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build exists: %w", err)
	}
	query, args, err := r.upsertBuilder(record).ToSql()
	if err != nil {
		return "", fmt.Errorf("build upsert: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowxContext(ctx, existsQuery, existsArgs...).Scan(&existing); err != nil {
		return "", fmt.Errorf("check existing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	if existing > 0 {
		return domain.OutcomeUpdated, nil
	}
	return domain.OutcomeInserted, nil
}

func (r *TenderRepository) upsertBuilder(record domain.TenderRecord) sq.InsertBuilder {
	now := r.now().UTC()
	codes := record.ClassificationCodes
	if codes == nil {
		codes = []string{}
	}

	set := make([]string, 0, len(mutableTenderColumns))
	for _, col := range mutableTenderColumns {
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return r.dialect.builder.
		Insert(tendersTable).
		Columns(tenderColumns...).
		Values(
			record.ExternalID, record.RevisionID, record.Title, record.Description, record.Status, string(record.Stage),
			record.Buyer.ID, record.Buyer.Name,
			record.Value.Amount, record.Value.Currency, record.Value.Min, record.Value.Max,
			utc(record.PublishedAt),
			utc(record.TenderWindow.Start), utc(record.TenderWindow.End),
			utc(record.ContractWindow.Start), utc(record.ContractWindow.End),
			jsonColumn[[]string]{Data: codes}, record.Region, rawJSON(record.Raw),
			now, now,
		).
		Suffix("ON CONFLICT (external_id) DO UPDATE SET " + strings.Join(set, ", "))
}

// Get returns the stored tender or domain.ErrNotFound.
func (r *TenderRepository) Get(ctx context.Context, externalID string) (domain.TenderRecord, error) {
	query, args, err := r.dialect.builder.
		Select(tenderColumns...).
		From(tendersTable).
		Where(sq.Eq{"external_id": externalID}).
		ToSql()
	if err != nil {
		return domain.TenderRecord{}, fmt.Errorf("build get: %w", err)
	}

	var row tenderRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TenderRecord{}, fmt.Errorf("tender %s: %w", externalID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TenderRecord{}, fmt.Errorf("get tender %s: %w", externalID, err)
	}
	return row.toDomain(), nil
}

// Search filters stored tenders, newest publication first.
func (r *TenderRepository) Search(ctx context.Context, q domain.TenderQuery) ([]domain.TenderRecord, error) {
	query, args, err := r.searchSQL(q)
	if err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}

	var rows []tenderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("search tenders: %w", err)
	}

	records := make([]domain.TenderRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

func (r *TenderRepository) searchSQL(q domain.TenderQuery) (string, []any, error) {
	sb := r.dialect.builder.Select(tenderColumns...).From(tendersTable)

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		sb = sb.Where(sq.Or{
			sq.Expr("title "+r.dialect.like+" ? ESCAPE '\\'", pattern),
			sq.Expr("description "+r.dialect.like+" ? ESCAPE '\\'", pattern),
		})
	}
	if q.Stage != "" {
		sb = sb.Where(sq.Eq{"stage": q.Stage})
	}
	if q.Region != "" {
		sb = sb.Where(sq.Eq{"region": q.Region})
	}
	if prefix := strings.TrimSpace(q.CPVPrefix); prefix != "" {
		// codes are stored as a JSON array, so every element starts after a quote
		sb = sb.Where(sq.Expr(r.dialect.codesText+" LIKE ? ESCAPE '\\'", `%"`+escapeLike(prefix)+"%"))
	}
	if q.PublishedFrom != nil {
		sb = sb.Where(sq.GtOrEq{"published_at": q.PublishedFrom.UTC()})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)
	sb = sb.OrderBy("published_at DESC NULLS LAST", "external_id").Limit(uint64(limit))
	if q.Offset > 0 {
		sb = sb.Offset(uint64(q.Offset))
	}
	return sb.ToSql()
}

// Count returns the number of stored tenders.
func (r *TenderRepository) Count(ctx context.Context) (int, error) {
	query, args, err := r.dialect.builder.Select("COUNT(*)").From(tendersTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count tenders: %w", err)
	}
	return n, nil
}

func (row tenderRow) toDomain() domain.TenderRecord {
	codes := row.ClassificationCodes.Data
	if codes == nil {
		codes = []string{}
	}
	return domain.TenderRecord{
		ExternalID:  row.ExternalID,
		RevisionID:  row.RevisionID,
		Title:       row.Title,
		Description: row.Description,
		Status:      row.Status,
		Stage:       domain.Stage(row.Stage),
		Buyer: domain.Buyer{
			ID:   nullString(row.BuyerID),
			Name: nullString(row.BuyerName),
		},
		Value: domain.Value{
			Amount:   nullFloat(row.ValueAmount),
			Currency: row.ValueCurrency,
			Min:      nullFloat(row.ValueMin),
			Max:      nullFloat(row.ValueMax),
		},
		PublishedAt:         nullTime(row.PublishedAt),
		TenderWindow:        domain.Window{Start: nullTime(row.TenderStart), End: nullTime(row.TenderEnd)},
		ContractWindow:      domain.Window{Start: nullTime(row.ContractStart), End: nullTime(row.ContractEnd)},
		ClassificationCodes: codes,
		Region:              row.Region,
		Raw:                 []byte(row.Raw),
		FirstSeenAt:         row.FirstSeenAt.UTC(),
		LastSyncedAt:        row.LastSyncedAt.UTC(),
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
