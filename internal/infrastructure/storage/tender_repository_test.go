package storage

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderSync/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func sampleTender(id string) domain.TenderRecord {
	published := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	return domain.TenderRecord{
		ExternalID:  id,
		RevisionID:  id + "-r1",
		Title:       "Grounds maintenance",
		Description: "Parks and verges",
		Status:      "active",
		Stage:       domain.StageTender,
		Buyer:       domain.Buyer{ID: ptr("GB-1"), Name: ptr("Leeds City Council")},
		Value: domain.Value{
			Amount:   ptr(250000.0),
			Currency: "GBP",
			Min:      ptr(100000.0),
		},
		PublishedAt:         &published,
		TenderWindow:        domain.Window{Start: &published},
		ClassificationCodes: []string{"77310000", "45112710"},
		Region:              "UKE42",
		Raw:                 json.RawMessage(`{"ocid":"` + id + `","tender":{"title":"Grounds maintenance"}}`),
	}
}

func TestTenderUpsertInsertThenOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewTenderRepository(newTestDB(t), SQLiteDialect, nil)
	first := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	repo.now = stepClock(first, time.Hour)

	outcome, err := repo.Upsert(ctx, sampleTender("ocds-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, outcome)

	updated := domain.TenderRecord{
		ExternalID: "ocds-1",
		Title:      "Untitled",
		Stage:      domain.StageAward,
		Value:      domain.Value{Currency: "GBP"},
		Raw:        json.RawMessage(`{"ocid":"ocds-1"}`),
	}
	outcome, err = repo.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)

	got, err := repo.Get(ctx, "ocds-1")
	require.NoError(t, err)

	// everything but the key and first_seen_at is replaced wholesale
	assert.Equal(t, "Untitled", got.Title)
	assert.Empty(t, got.Description)
	assert.Empty(t, got.RevisionID)
	assert.Equal(t, domain.StageAward, got.Stage)
	assert.Nil(t, got.Buyer.ID)
	assert.Nil(t, got.Buyer.Name)
	assert.Nil(t, got.Value.Amount)
	assert.Nil(t, got.Value.Min)
	assert.Nil(t, got.PublishedAt)
	assert.Nil(t, got.TenderWindow.Start)
	assert.Equal(t, []string{}, got.ClassificationCodes)
	assert.Empty(t, got.Region)
	assert.JSONEq(t, `{"ocid":"ocds-1"}`, string(got.Raw))
	assert.True(t, got.FirstSeenAt.Equal(first), "first seen %s", got.FirstSeenAt)
	assert.True(t, got.LastSyncedAt.Equal(first.Add(time.Hour)), "last synced %s", got.LastSyncedAt)
}

func TestTenderUpsertIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewTenderRepository(newTestDB(t), SQLiteDialect, nil)
	rec := sampleTender("ocds-2")

	outcome, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInserted, outcome)
	before, err := repo.Get(ctx, rec.ExternalID)
	require.NoError(t, err)

	outcome, err = repo.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)
	after, err := repo.Get(ctx, rec.ExternalID)
	require.NoError(t, err)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after.LastSyncedAt = before.LastSyncedAt
	assert.Equal(t, before, after)
	assert.Equal(t, rec.ClassificationCodes, after.ClassificationCodes)
	assert.Equal(t, *rec.Value.Amount, *after.Value.Amount)
	assert.True(t, rec.PublishedAt.Equal(*after.PublishedAt))
	assert.Equal(t, string(rec.Raw), string(after.Raw))
}

func TestTenderUpsertFailureIsSkipped(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewTenderRepository(db, SQLiteDialect, nil)
	require.NoError(t, db.Close())

	outcome, err := repo.Upsert(context.Background(), sampleTender("ocds-3"))
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeSkipped, outcome)

	outcome, err = repo.Upsert(context.Background(), domain.TenderRecord{})
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeSkipped, outcome)
}

func TestTenderGetNotFound(t *testing.T) {
	t.Parallel()

	repo := NewTenderRepository(newTestDB(t), SQLiteDialect, nil)
	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTenderSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := NewTenderRepository(newTestDB(t), SQLiteDialect, nil)

	day := func(d int) *time.Time {
		v := time.Date(2025, 3, d, 12, 0, 0, 0, time.UTC)
		return &v
	}

	parks := sampleTender("ocds-a")
	parks.PublishedAt = day(1)

	roads := sampleTender("ocds-b")
	roads.Title = "Road resurfacing 100%"
	roads.Description = "Highways"
	roads.Stage = domain.StageAward
	roads.Region = "UKI31"
	roads.ClassificationCodes = []string{"45233142"}
	roads.PublishedAt = day(5)

	undated := sampleTender("ocds-c")
	undated.Title = "Library books"
	undated.Description = ""
	undated.ClassificationCodes = []string{}
	undated.PublishedAt = nil

	for _, rec := range []domain.TenderRecord{parks, roads, undated} {
		_, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	ids := func(q domain.TenderQuery) []string {
		t.Helper()
		records, err := repo.Search(ctx, q)
		require.NoError(t, err)
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.ExternalID)
		}
		return out
	}

	assert.Equal(t, []string{"ocds-b", "ocds-a", "ocds-c"}, ids(domain.TenderQuery{}))
	assert.Equal(t, []string{"ocds-a"}, ids(domain.TenderQuery{Text: "verges"}))
	assert.Equal(t, []string{"ocds-b"}, ids(domain.TenderQuery{Text: "100%"}))
	assert.Equal(t, []string{"ocds-b"}, ids(domain.TenderQuery{Stage: "award"}))
	assert.Equal(t, []string{"ocds-b"}, ids(domain.TenderQuery{Region: "UKI31"}))
	assert.Equal(t, []string{"ocds-b", "ocds-a"}, ids(domain.TenderQuery{CPVPrefix: "45"}))
	assert.Equal(t, []string{"ocds-a"}, ids(domain.TenderQuery{CPVPrefix: "7731"}))
	assert.Empty(t, ids(domain.TenderQuery{CPVPrefix: "310000"}))
	assert.Equal(t, []string{"ocds-b"}, ids(domain.TenderQuery{PublishedFrom: day(3)}))
	assert.Equal(t, []string{"ocds-a"}, ids(domain.TenderQuery{Limit: 1, Offset: 1}))
}

func TestPostgresUpsertStatement(t *testing.T) {
	t.Parallel()

	repo := NewTenderRepository(nil, PostgresDialect, nil)
	query, args, err := repo.upsertReturningSQL(sampleTender("ocds-pg"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO tenders (external_id,"), query)
	assert.Contains(t, query, "$22")
	assert.NotContains(t, query, "?")
	assert.Contains(t, query, "ON CONFLICT (external_id) DO UPDATE SET revision_id = EXCLUDED.revision_id")
	assert.Contains(t, query, "last_synced_at = EXCLUDED.last_synced_at")
	assert.NotContains(t, query, "first_seen_at = EXCLUDED")
	assert.True(t, strings.HasSuffix(query, "RETURNING (xmax = 0) AS inserted"), query)
	require.Len(t, args, len(tenderColumns))
	assert.Equal(t, "ocds-pg", args[0])
}

func TestPostgresSearchStatement(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	repo := NewTenderRepository(nil, PostgresDialect, nil)
	query, args, err := repo.searchSQL(domain.TenderQuery{
		Text:          "park_s",
		Stage:         "tender",
		Region:        "UKE42",
		CPVPrefix:     "45",
		PublishedFrom: &from,
		Limit:         500,
		Offset:        10,
	})
	require.NoError(t, err)

	assert.Contains(t, query, `(title ILIKE $1 ESCAPE '\' OR description ILIKE $2 ESCAPE '\')`)
	assert.Contains(t, query, "stage = $3")
	assert.Contains(t, query, "region = $4")
	assert.Contains(t, query, `classification_codes::text LIKE $5 ESCAPE '\'`)
	assert.Contains(t, query, "published_at >= $6")
	assert.Contains(t, query, "ORDER BY published_at DESC NULLS LAST, external_id")
	assert.Contains(t, query, "LIMIT 200")
	assert.Contains(t, query, "OFFSET 10")
	assert.Equal(t, []any{`%park\_s%`, `%park\_s%`, "tender", "UKE42", `%"45%`, from}, args)
}

func TestSQLiteSearchStatementUsesLike(t *testing.T) {
	t.Parallel()

	repo := NewTenderRepository(nil, SQLiteDialect, nil)
	query, _, err := repo.searchSQL(domain.TenderQuery{Text: "roof", CPVPrefix: "45"})
	require.NoError(t, err)
	assert.Contains(t, query, `title LIKE ? ESCAPE '\'`)
	assert.Contains(t, query, `classification_codes LIKE ? ESCAPE '\'`)
	assert.NotContains(t, query, "ILIKE")
	assert.Contains(t, query, "LIMIT 50")
}
