package canonical

import (
	"context"
	"math"
	"sort"
	"time"
)

// Granularity is the canonical period length.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityMonth Granularity = "month"
)

// IsValid reports whether granularity is supported.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityHour, GranularityMonth:
		return true
	default:
		return false
	}
}

// QualityFlag summarises how a canonical value was derived.
type QualityFlag string

const (
	QualityHigh         QualityFlag = "HIGH"
	QualityMedium       QualityFlag = "MEDIUM"
	QualityLow          QualityFlag = "LOW"
	QualityInterpolated QualityFlag = "INTERPOLATED"
)

const (
	// MaxCapacityFactor is the largest capacity factor that fits NUMERIC(5,4).
	MaxCapacityFactor = 9.9999
	// BalanceTolerance bounds |generation - (metered + curtailed)|.
	BalanceTolerance = 0.01
)

// FlagForScore maps a quality score to a flag.
func FlagForScore(score float64) QualityFlag {
	switch {
	case score >= 0.95:
		return QualityHigh
	case score >= 0.5:
		return QualityMedium
	default:
		return QualityLow
	}
}

// Record is one reconciled hourly or monthly fact for a generation unit.
type Record struct {
	PeriodStart      time.Time   `json:"period_start"`
	Granularity      Granularity `json:"granularity"`
	GenerationUnitID string      `json:"generation_unit_id"`
	ParentAssetID    string      `json:"parent_asset_id,omitempty"`
	Source           string      `json:"source"`
	SourceResolution string      `json:"source_resolution"`
	GenerationMWh    float64     `json:"generation_mwh"`
	MeteredMWh       *float64    `json:"metered_mwh,omitempty"`
	CurtailedMWh     *float64    `json:"curtailed_mwh,omitempty"`
	CapacityMW       *float64    `json:"capacity_mw,omitempty"`
	CapacityFactor   *float64    `json:"capacity_factor,omitempty"`
	QualityFlag      QualityFlag `json:"quality_flag"`
	QualityScore     float64     `json:"quality_score"`
	Completeness     float64     `json:"completeness"`
	Provenance       []int64     `json:"provenance"`
	IsOverride       bool        `json:"is_override"`
	OriginalValue    *float64    `json:"override_original_value,omitempty"`
	OverrideReason   string      `json:"override_reason,omitempty"`
	OverrideBy       string      `json:"override_by,omitempty"`
	OverrideAt       *time.Time  `json:"override_at,omitempty"`
}

// Key is the uniqueness key of a canonical record within its granularity.
type Key struct {
	Granularity      Granularity
	PeriodStart      time.Time
	GenerationUnitID string
	Source           string
}

// Key returns the record key.
func (r Record) Key() Key {
	return Key{
		Granularity:      r.Granularity,
		PeriodStart:      r.PeriodStart.UTC(),
		GenerationUnitID: r.GenerationUnitID,
		Source:           r.Source,
	}
}

// HoursInPeriod returns the number of hours covered by the record.
func (r Record) HoursInPeriod() float64 {
	if r.Granularity == GranularityMonth {
		start := r.PeriodStart.UTC()
		end := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return end.Sub(start).Hours()
	}
	return 1
}

// Validate checks record invariants. Overridden records are exempt from the
// metered plus curtailed balance.
func (r Record) Validate() error {
	if !r.Granularity.IsValid() {
		return ErrInvalidGranularity
	}
	if r.PeriodStart.IsZero() {
		return ErrInvalidPeriodStart
	}
	if r.GenerationUnitID == "" {
		return ErrEmptyUnit
	}
	if r.Source == "" {
		return ErrEmptySource
	}
	if math.IsNaN(r.GenerationMWh) || math.IsInf(r.GenerationMWh, 0) {
		return ErrNonFiniteValue
	}
	if r.QualityScore < 0 || r.QualityScore > 1 || r.Completeness < 0 || r.Completeness > 1 {
		return ErrQualityOutOfRange
	}
	if !r.IsOverride && r.MeteredMWh != nil && r.CurtailedMWh != nil {
		if math.Abs(r.GenerationMWh-(*r.MeteredMWh+*r.CurtailedMWh)) > BalanceTolerance {
			return ErrUnbalanced
		}
	}
	return nil
}

// SetCapacity records the capacity and the derived capacity factor, clamped
// to [0, maxFactor].
func (r *Record) SetCapacity(capacityMW, maxFactor float64) {
	if capacityMW <= 0 {
		r.CapacityMW = nil
		r.CapacityFactor = nil
		return
	}
	if maxFactor <= 0 {
		maxFactor = MaxCapacityFactor
	}
	capacity := capacityMW
	r.CapacityMW = &capacity
	factor := r.GenerationMWh / (capacityMW * r.HoursInPeriod())
	factor = math.Max(0, math.Min(factor, maxFactor))
	factor = math.Round(factor*10000) / 10000
	r.CapacityFactor = &factor
}

// FactorLimit returns limit when it fits the stored precision, otherwise
// MaxCapacityFactor.
func FactorLimit(limit float64) float64 {
	if limit <= 0 || limit > MaxCapacityFactor {
		return MaxCapacityFactor
	}
	return limit
}

// ApplyOverride replaces the generation value by hand, keeping the derived value.
func (r *Record) ApplyOverride(value float64, reason, by string, at time.Time) {
	if !r.IsOverride {
		original := r.GenerationMWh
		r.OriginalValue = &original
	}
	r.IsOverride = true
	r.GenerationMWh = value
	r.OverrideReason = reason
	r.OverrideBy = by
	at = at.UTC()
	r.OverrideAt = &at
}

// KeepOverride carries the override of stored onto a rebuilt record. The
// rebuilt value becomes the new original value and the capacity factor is
// recomputed from the override, clamped to maxFactor.
func KeepOverride(stored, rebuilt Record, maxFactor float64) Record {
	if !stored.IsOverride {
		return rebuilt
	}
	original := rebuilt.GenerationMWh
	rebuilt.OriginalValue = &original
	rebuilt.GenerationMWh = stored.GenerationMWh
	rebuilt.IsOverride = true
	rebuilt.OverrideReason = stored.OverrideReason
	rebuilt.OverrideBy = stored.OverrideBy
	rebuilt.OverrideAt = stored.OverrideAt
	if rebuilt.CapacityMW != nil {
		rebuilt.SetCapacity(*rebuilt.CapacityMW, maxFactor)
	}
	return rebuilt
}

// SortProvenance orders and deduplicates raw record ids.
func SortProvenance(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// SortRecords orders records by period, unit and source.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		if a.GenerationUnitID != b.GenerationUnitID {
			return a.GenerationUnitID < b.GenerationUnitID
		}
		return a.Source < b.Source
	})
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Scope selects canonical records. Empty UnitIDs match every unit.
type Scope struct {
	Granularity Granularity
	Source      string
	From        time.Time
	To          time.Time
	UnitIDs     []string
}

// Repository persists canonical records.
type Repository interface {
	UpsertCanonical(ctx context.Context, records []Record) (int, error)
	DeleteCanonical(ctx context.Context, scope Scope) (int64, error)
	QueryCanonical(ctx context.Context, scope Scope) ([]Record, error)
	ApplyOverride(ctx context.Context, key Key, value float64, reason, by string, at time.Time) error
}
