package telemetry

import (
	"fmt"
	"strings"
)

// Precedence is a total order over source types. A record replaces a stored
// record for the same key only when its rank is greater or equal.
type Precedence struct {
	rank map[SourceType]int
}

// DefaultPrecedence ranks manual over live-api over file-backfill.
func DefaultPrecedence() Precedence {
	p, _ := NewPrecedence([]SourceType{SourceTypeManual, SourceTypeLiveAPI, SourceTypeFileBackfill})
	return p
}

// NewPrecedence builds a precedence from an order listed highest first. Every
// source type must appear exactly once.
func NewPrecedence(order []SourceType) (Precedence, error) {
	all := []SourceType{SourceTypeLiveAPI, SourceTypeFileBackfill, SourceTypeManual}
	if len(order) != len(all) {
		return Precedence{}, fmt.Errorf("%w: want %d source types, got %d", ErrInvalidPrecedence, len(all), len(order))
	}
	rank := make(map[SourceType]int, len(order))
	for i, t := range order {
		if !t.IsValid() {
			return Precedence{}, fmt.Errorf("%w: unknown source type %q", ErrInvalidPrecedence, t)
		}
		if _, ok := rank[t]; ok {
			return Precedence{}, fmt.Errorf("%w: duplicate source type %q", ErrInvalidPrecedence, t)
		}
		rank[t] = len(order) - i
	}
	return Precedence{rank: rank}, nil
}

// ParsePrecedence parses a comma separated order such as "manual,live-api,file-backfill".
func ParsePrecedence(value string) (Precedence, error) {
	var order []SourceType
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		order = append(order, SourceType(part))
	}
	return NewPrecedence(order)
}

// Rank returns the rank of a source type; unknown types rank lowest.
func (p Precedence) Rank(t SourceType) int {
	if p.rank == nil {
		return DefaultPrecedence().Rank(t)
	}
	return p.rank[t]
}

// Merge applies the dedup rules to an incoming record against the stored record
// for the same key. It returns the record that should be stored and whether the
// store changes. stored is nil when the key is new.
//
// Non-curtailment records are replaced wholesale when the incoming rank is
// greater or equal. Curtailment records merge line items by acceptance
// reference: an incoming item wins on the same reference only with greater or
// equal rank, and new references are always added. The record value is the sum
// of its line items.
func Merge(stored *RawRecord, incoming RawRecord, precedence Precedence) (RawRecord, bool) {
	if stored == nil {
		merged := incoming
		merged.LineItems = cloneLineItems(incoming.LineItems)
		if len(merged.LineItems) > 0 {
			SortLineItems(merged.LineItems)
			merged.Value = LineItemTotal(merged.LineItems)
		}
		return merged, true
	}

	wins := precedence.Rank(incoming.SourceType) >= precedence.Rank(stored.SourceType)
	curtailment := incoming.Stream == StreamCurtailment && (len(incoming.LineItems) > 0 || len(stored.LineItems) > 0)
	if !curtailment {
		if !wins {
			return *stored, false
		}
		merged := incoming
		merged.ID = stored.ID
		return merged, true
	}

	byRef := make(map[string]LineItem, len(stored.LineItems)+len(incoming.LineItems))
	for _, item := range stored.LineItems {
		byRef[item.Reference] = item
	}
	changed := false
	for _, item := range incoming.LineItems {
		existing, ok := byRef[item.Reference]
		if ok && !wins {
			continue
		}
		if !ok || existing.Volume != item.Volume {
			changed = true
		}
		byRef[item.Reference] = item
	}

	merged := *stored
	if wins {
		merged = incoming
		merged.ID = stored.ID
		changed = true
	}
	merged.LineItems = make([]LineItem, 0, len(byRef))
	for _, item := range byRef {
		merged.LineItems = append(merged.LineItems, item)
	}
	SortLineItems(merged.LineItems)
	merged.Value = LineItemTotal(merged.LineItems)
	return merged, changed
}

func cloneLineItems(items []LineItem) []LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
