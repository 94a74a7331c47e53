package telemetry

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"
)

// LineItem is one curtailment acceptance contributing to a curtailment record.
type LineItem struct {
	Reference string  `json:"reference"`
	Volume    float64 `json:"volume"`
}

// RawRecord is a single upstream observation as delivered by a source.
type RawRecord struct {
	ID            int64
	Source        Source
	SourceType    SourceType
	Stream        Stream
	Identifier    string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	PeriodKind    PeriodKind
	Value         float64
	UnitOfMeasure string
	Direction     Direction
	LineItems     []LineItem
	Payload       json.RawMessage
	IngestedAt    time.Time
}

// Key is the natural conflict key of a raw record.
type Key struct {
	Source      Source
	Stream      Stream
	Identifier  string
	PeriodStart time.Time
}

// Key returns the natural key of the record.
func (r RawRecord) Key() Key {
	return Key{
		Source:      r.Source,
		Stream:      r.Stream,
		Identifier:  r.Identifier,
		PeriodStart: r.PeriodStart.UTC(),
	}
}

// Validate checks the record invariants that hold for every source.
func (r RawRecord) Validate() error {
	fail := func(field, reason string) error {
		return &ValidationError{Identifier: r.Identifier, PeriodStart: r.PeriodStart, Field: field, Reason: reason}
	}
	switch {
	case !r.Source.IsValid():
		return fail("source", "unknown source")
	case !r.SourceType.IsValid():
		return fail("source_type", "unknown source type")
	case !r.Stream.IsValid():
		return fail("stream", "unknown stream")
	case !r.PeriodKind.IsValid():
		return fail("period_kind", "unknown period kind")
	case r.Identifier == "":
		return fail("identifier", "missing identifier")
	case r.PeriodStart.IsZero():
		return fail("period_start", "missing period start")
	case r.PeriodKind != PeriodSnapshot && !r.PeriodEnd.After(r.PeriodStart):
		return fail("period_end", "period end must be after period start")
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return fail("value", "value must be finite")
	}
	if r.Direction != "" && r.Direction != DirectionExport && r.Direction != DirectionImport {
		return fail("direction", "unknown direction")
	}
	seen := make(map[string]struct{}, len(r.LineItems))
	for _, item := range r.LineItems {
		if item.Reference == "" {
			return fail("line_items", "missing acceptance reference")
		}
		if math.IsNaN(item.Volume) || math.IsInf(item.Volume, 0) {
			return fail("line_items", "volume must be finite")
		}
		if _, ok := seen[item.Reference]; ok {
			return fail("line_items", "duplicate acceptance reference "+item.Reference)
		}
		seen[item.Reference] = struct{}{}
	}
	return nil
}

// SignedValue returns the metered value with import flows negative.
func (r RawRecord) SignedValue() float64 {
	if r.Direction == DirectionImport {
		return -math.Abs(r.Value)
	}
	return r.Value
}

// CurtailedVolume returns the absolute curtailed volume carried by the record.
func (r RawRecord) CurtailedVolume() float64 {
	if len(r.LineItems) == 0 {
		return math.Abs(r.Value)
	}
	var total float64
	for _, item := range r.LineItems {
		total += math.Abs(item.Volume)
	}
	return total
}

// LineItemTotal sums the line item volumes.
func LineItemTotal(items []LineItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Volume
	}
	return total
}

// SortLineItems orders line items by reference.
func SortLineItems(items []LineItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Reference < items[j].Reference })
}

// RawQuery selects raw records. Empty filters match everything.
type RawQuery struct {
	Source      Source
	Streams     []Stream
	Identifiers []string
	From        time.Time
	To          time.Time
}

// RawRepository persists raw records keyed by their natural key.
type RawRepository interface {
	UpsertRaw(ctx context.Context, records []RawRecord) (int, error)
	QueryRaw(ctx context.Context, query RawQuery) ([]RawRecord, error)
	DeleteRaw(ctx context.Context, query RawQuery) (int64, error)
}
