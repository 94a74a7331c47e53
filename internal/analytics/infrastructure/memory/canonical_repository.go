package memory

import (
	"context"
	"sync"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
)

// CanonicalRepository is an in-memory canonical store for demo/testing.
// It holds hourly and monthly records side by side, keyed by granularity.
type CanonicalRepository struct {
	mu        sync.RWMutex
	data      map[canonical.Key]canonical.Record
	maxFactor float64
}

// Option configures the repository.
type Option func(*CanonicalRepository)

// WithMaxCapacityFactor sets the clamp used when an override recomputes the
// capacity factor.
func WithMaxCapacityFactor(limit float64) Option {
	return func(r *CanonicalRepository) { r.maxFactor = canonical.FactorLimit(limit) }
}

// NewCanonicalRepository constructs a repository.
func NewCanonicalRepository(opts ...Option) *CanonicalRepository {
	r := &CanonicalRepository{
		data:      make(map[canonical.Key]canonical.Record),
		maxFactor: canonical.MaxCapacityFactor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertCanonical stores records by key. A stored override survives and the
// incoming value becomes its original value.
func (r *CanonicalRepository) UpsertCanonical(ctx context.Context, records []canonical.Record) (int, error) {
	_ = ctx
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		rec.PeriodStart = rec.PeriodStart.UTC()
		key := rec.Key()
		if stored, ok := r.data[key]; ok {
			rec = canonical.KeepOverride(stored, rec, r.maxFactor)
		}
		r.data[key] = cloneRecord(rec)
	}
	return len(records), nil
}

// DeleteCanonical removes records in scope, keeping overrides.
func (r *CanonicalRepository) DeleteCanonical(ctx context.Context, scope canonical.Scope) (int64, error) {
	_ = ctx
	if !scope.Granularity.IsValid() {
		return 0, canonical.ErrInvalidGranularity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	units := unitSet(scope.UnitIDs)
	var deleted int64
	for key, rec := range r.data {
		if !inScope(rec, scope, units) || rec.IsOverride {
			continue
		}
		delete(r.data, key)
		deleted++
	}
	return deleted, nil
}

// QueryCanonical returns records in scope ordered by period, unit and source.
func (r *CanonicalRepository) QueryCanonical(ctx context.Context, scope canonical.Scope) ([]canonical.Record, error) {
	_ = ctx
	if !scope.Granularity.IsValid() {
		return nil, canonical.ErrInvalidGranularity
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	units := unitSet(scope.UnitIDs)
	result := make([]canonical.Record, 0)
	for _, rec := range r.data {
		if inScope(rec, scope, units) {
			result = append(result, cloneRecord(rec))
		}
	}
	canonical.SortRecords(result)
	return result, nil
}

// ApplyOverride sets a manual value on an existing record.
func (r *CanonicalRepository) ApplyOverride(ctx context.Context, key canonical.Key, value float64, reason, by string, at time.Time) error {
	_ = ctx
	key.PeriodStart = key.PeriodStart.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[key]
	if !ok {
		return canonical.ErrNotFound
	}
	rec.ApplyOverride(value, reason, by, at)
	if rec.CapacityMW != nil {
		rec.SetCapacity(*rec.CapacityMW, r.maxFactor)
	}
	r.data[key] = rec
	return nil
}

func inScope(rec canonical.Record, scope canonical.Scope, units map[string]struct{}) bool {
	if rec.Granularity != scope.Granularity {
		return false
	}
	if scope.Source != "" && rec.Source != scope.Source {
		return false
	}
	if !scope.From.IsZero() && rec.PeriodStart.Before(scope.From) {
		return false
	}
	if !scope.To.IsZero() && !rec.PeriodStart.Before(scope.To) {
		return false
	}
	if units != nil {
		if _, ok := units[rec.GenerationUnitID]; !ok {
			return false
		}
	}
	return true
}

func unitSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func cloneRecord(rec canonical.Record) canonical.Record {
	out := rec
	out.Provenance = append([]int64{}, rec.Provenance...)
	out.MeteredMWh = cloneFloat(rec.MeteredMWh)
	out.CurtailedMWh = cloneFloat(rec.CurtailedMWh)
	out.CapacityMW = cloneFloat(rec.CapacityMW)
	out.CapacityFactor = cloneFloat(rec.CapacityFactor)
	out.OriginalValue = cloneFloat(rec.OriginalValue)
	if rec.OverrideAt != nil {
		at := *rec.OverrideAt
		out.OverrideAt = &at
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
