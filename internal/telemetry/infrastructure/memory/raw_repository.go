package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "windgen-cloud/internal/telemetry/domain"
)

// RawRepository is an in-memory raw record store for demo/testing.
type RawRepository struct {
	mu         sync.RWMutex
	nextID     int64
	data       map[telemetry.Key]telemetry.RawRecord
	precedence telemetry.Precedence
	now        func() time.Time
}

// Option configures the repository.
type Option func(*RawRepository)

// WithPrecedence overrides the default source-type precedence.
func WithPrecedence(p telemetry.Precedence) Option {
	return func(r *RawRepository) { r.precedence = p }
}

// NewRawRepository constructs a repository.
func NewRawRepository(opts ...Option) *RawRepository {
	r := &RawRepository{
		data:       make(map[telemetry.Key]telemetry.RawRecord),
		precedence: telemetry.DefaultPrecedence(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertRaw merges records into the store and returns how many changed it.
func (r *RawRepository) UpsertRaw(ctx context.Context, records []telemetry.RawRecord) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	applied := 0
	for _, rec := range records {
		rec.PeriodStart = rec.PeriodStart.UTC()
		rec.PeriodEnd = rec.PeriodEnd.UTC()
		key := rec.Key()
		var stored *telemetry.RawRecord
		if existing, ok := r.data[key]; ok {
			stored = &existing
		}
		merged, changed := telemetry.Merge(stored, rec, r.precedence)
		if !changed {
			continue
		}
		if merged.ID == 0 {
			r.nextID++
			merged.ID = r.nextID
		}
		merged.IngestedAt = r.now()
		r.data[key] = merged
		applied++
	}
	return applied, nil
}

// QueryRaw returns records matching query ordered by identifier and period.
func (r *RawRepository) QueryRaw(ctx context.Context, query telemetry.RawQuery) ([]telemetry.RawRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []telemetry.RawRecord
	for _, rec := range r.data {
		if matches(rec, query) {
			rec.LineItems = append([]telemetry.LineItem(nil), rec.LineItems...)
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Identifier != b.Identifier {
			return a.Identifier < b.Identifier
		}
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		return a.Stream < b.Stream
	})
	return result, nil
}

// DeleteRaw removes records matching query.
func (r *RawRepository) DeleteRaw(ctx context.Context, query telemetry.RawQuery) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key, rec := range r.data {
		if matches(rec, query) {
			delete(r.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func matches(rec telemetry.RawRecord, query telemetry.RawQuery) bool {
	if query.Source != "" && rec.Source != query.Source {
		return false
	}
	if !query.From.IsZero() && rec.PeriodStart.Before(query.From) {
		return false
	}
	if !query.To.IsZero() && !rec.PeriodStart.Before(query.To) {
		return false
	}
	if len(query.Streams) > 0 && !containsStream(query.Streams, rec.Stream) {
		return false
	}
	if len(query.Identifiers) > 0 && !containsString(query.Identifiers, rec.Identifier) {
		return false
	}
	return true
}

func containsStream(values []telemetry.Stream, v telemetry.Stream) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
