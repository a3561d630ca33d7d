package ocds

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"TenderSync/internal/domain"
)

const cpvScheme = "CPV"

// ErrMissingOCID rejects releases that cannot be keyed.
var ErrMissingOCID = errors.New("release has no ocid")

// timeLayouts are tried in order; zone-less forms are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	time.DateOnly,
}

// Normalize decodes one raw release and maps it onto a TenderRecord.
// The raw bytes are kept verbatim on the record.
func Normalize(raw json.RawMessage) (domain.TenderRecord, error) {
	return normalize(raw, nil)
}

// normalize drops a date it cannot parse instead of the whole release.
func normalize(raw json.RawMessage, logger *slog.Logger) (domain.TenderRecord, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var rel Release
	if err := json.Unmarshal(raw, &rel); err != nil {
		return domain.TenderRecord{}, fmt.Errorf("decode release: %w", err)
	}
	if strings.TrimSpace(rel.OCID) == "" {
		return domain.TenderRecord{}, ErrMissingOCID
	}

	record := domain.TenderRecord{
		ExternalID:          rel.OCID,
		RevisionID:          rel.ID,
		Title:               domain.DefaultTitle,
		Stage:               DeriveStage(rel.Tag),
		Value:               domain.Value{Currency: domain.DefaultCurrency},
		ClassificationCodes: []string{},
		Raw:                 append(json.RawMessage(nil), raw...),
	}

	if rel.Buyer != nil {
		record.Buyer = domain.Buyer{ID: optional(rel.Buyer.ID), Name: optional(rel.Buyer.Name)}
	}

	parse := func(field, value string) *time.Time {
		t, err := parseTime(value)
		if err != nil {
			logger.Warn("dropping unparseable release date", "ocid", rel.OCID, "field", field, "error", err)
			return nil
		}
		return t
	}

	record.PublishedAt = parse("date", rel.Date)

	t := rel.Tender
	if t == nil {
		return record, nil
	}

	if t.Title != "" {
		record.Title = t.Title
	}
	record.Description = t.Description
	record.Status = t.Status

	if t.Value != nil {
		record.Value.Amount = t.Value.Amount
		if t.Value.Currency != "" {
			record.Value.Currency = t.Value.Currency
		}
	}
	if t.MinValue != nil {
		record.Value.Min = t.MinValue.Amount
	}
	if t.MaxValue != nil {
		record.Value.Max = t.MaxValue.Amount
	}

	if p := t.TenderPeriod; p != nil {
		record.TenderWindow = domain.Window{
			Start: parse("tenderPeriod.startDate", p.StartDate),
			End:   parse("tenderPeriod.endDate", p.EndDate),
		}
	}
	if p := t.ContractPeriod; p != nil {
		record.ContractWindow = domain.Window{
			Start: parse("contractPeriod.startDate", p.StartDate),
			End:   parse("contractPeriod.endDate", p.EndDate),
		}
	}

	record.ClassificationCodes = CPVCodes(t.Items)
	record.Region = firstRegion(t.Items)

	return record, nil
}

// DeriveStage picks award over tender over planning, then the first tag, then unknown.
func DeriveStage(tags []string) domain.Stage {
	for _, stage := range []domain.Stage{domain.StageAward, domain.StageTender, domain.StagePlanning} {
		if slices.Contains(tags, string(stage)) {
			return stage
		}
	}
	if len(tags) > 0 {
		return domain.Stage(tags[0])
	}
	return domain.StageUnknown
}

// CPVCodes collects the primary CPV classification id of each item in order.
func CPVCodes(items []Item) []string {
	codes := []string{}
	for _, item := range items {
		c := item.Classification
		if c == nil || c.Scheme != cpvScheme || strings.TrimSpace(c.ID) == "" {
			continue
		}
		codes = append(codes, c.ID)
	}
	return codes
}

func firstRegion(items []Item) string {
	for _, item := range items {
		if len(item.DeliveryAddresses) > 0 {
			return item.DeliveryAddresses[0].Region
		}
	}
	return ""
}

func parseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp %q", value)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
