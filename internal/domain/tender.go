package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// DefaultTitle replaces a missing source title.
const DefaultTitle = "Untitled"

// DefaultCurrency applies when the source omits a value currency.
const DefaultCurrency = "GBP"

// ErrNotFound signals a missing tender or sync run.
var ErrNotFound = errors.New("not found")

// Stage is the derived lifecycle label of a tender.
type Stage string

const (
	StagePlanning Stage = "planning"
	StageTender   Stage = "tender"
	StageAward    Stage = "award"
	StageUnknown  Stage = "unknown"
)

// Buyer identifies the contracting authority.
type Buyer struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// Value holds the monetary size of a tender.
type Value struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
}

// Window is a start/end period; either bound may be absent.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// TenderRecord is the normalized unit persisted by the store.
// ExternalID is the only identity field; everything else is overwritten on update.
type TenderRecord struct {
	ExternalID          string          `json:"externalId"`
	RevisionID          string          `json:"revisionId,omitempty"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Status              string          `json:"status,omitempty"`
	Stage               Stage           `json:"stage"`
	Buyer               Buyer           `json:"buyer"`
	Value               Value           `json:"value"`
	PublishedAt         *time.Time      `json:"publishedAt,omitempty"`
	TenderWindow        Window          `json:"tenderWindow"`
	ContractWindow      Window          `json:"contractWindow"`
	ClassificationCodes []string        `json:"classificationCodes"`
	Region              string          `json:"region,omitempty"`
	Raw                 json.RawMessage `json:"raw,omitempty"`
	FirstSeenAt         time.Time       `json:"firstSeenAt"`
	LastSyncedAt        time.Time       `json:"lastSyncedAt"`
}

// SourcePage is one page of raw source records plus the cursor of the next page.
// NextPageToken is empty on the last page.
type SourcePage struct {
	Records       []json.RawMessage
	NextPageToken string
}

// UpsertOutcome classifies a single store write.
type UpsertOutcome string

const (
	OutcomeInserted UpsertOutcome = "inserted"
	OutcomeUpdated  UpsertOutcome = "updated"
	OutcomeSkipped  UpsertOutcome = "skipped"
)

// TenderQuery filters tender searches. Empty fields are ignored.
type TenderQuery struct {
	Text          string
	Stage         string
	Region        string
	CPVPrefix     string
	PublishedFrom *time.Time
	Limit         int
	Offset        int
}
