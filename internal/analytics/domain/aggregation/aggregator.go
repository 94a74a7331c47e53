package aggregation

import (
	"errors"
	"sort"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/period"
	masterdata "windgen-cloud/internal/masterdata/domain"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

// Resolver attributes a source identifier to the phase operational at ts.
type Resolver interface {
	Resolve(identifier string, ts time.Time) (masterdata.Phase, error)
}

// Outcome is the result of aggregating one batch of raw records.
type Outcome struct {
	Records       []canonical.Record
	MappingErrors []error
	Skipped       int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMaxCapacityFactor overrides the capacity factor clamp.
func WithMaxCapacityFactor(limit float64) Option {
	return func(a *Aggregator) {
		if limit > 0 {
			a.maxCapacityFactor = limit
		}
	}
}

// WithSnapshotsPerHour sets the number of snapshots expected per hour.
func WithSnapshotsPerHour(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.snapshotsPerHour = n
		}
	}
}

// WithLocation sets the civil timezone used when a monthly record has no end.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// Aggregator collapses raw generation records into hourly canonical records.
type Aggregator struct {
	resolver          Resolver
	maxCapacityFactor float64
	snapshotsPerHour  int
	loc               *time.Location
}

// NewAggregator constructs an Aggregator.
func NewAggregator(resolver Resolver, opts ...Option) (*Aggregator, error) {
	if resolver == nil {
		return nil, errors.New("aggregator: nil resolver")
	}
	a := &Aggregator{
		resolver:          resolver,
		maxCapacityFactor: canonical.MaxCapacityFactor,
		snapshotsPerHour:  1,
		loc:               time.UTC,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type groupKey struct {
	unitID string
	hour   time.Time
}

type bucket struct {
	phase masterdata.Phase
	kinds map[telemetry.PeriodKind]*kindBucket
}

type kindBucket struct {
	slots map[time.Time]float64
	sum   float64
	ids   []int64
}

func (b *kindBucket) add(slot time.Time, value float64, id int64) {
	b.slots[slot] += value
	b.sum += value
	if id != 0 {
		b.ids = append(b.ids, id)
	}
}

// Aggregate groups raw records by (generation unit, canonical hour) and derives
// one canonical record per group. Records that cannot be attributed to a phase
// are reported as mapping errors and produce no output.
func (a *Aggregator) Aggregate(source string, raws []telemetry.RawRecord) Outcome {
	var out Outcome
	buckets := make(map[groupKey]*bucket)

	add := func(phase masterdata.Phase, hour, slot time.Time, kind telemetry.PeriodKind, value float64, id int64) {
		key := groupKey{unitID: phase.ID, hour: hour}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{phase: phase, kinds: make(map[telemetry.PeriodKind]*kindBucket)}
			buckets[key] = b
		}
		kb, ok := b.kinds[kind]
		if !ok {
			kb = &kindBucket{slots: make(map[time.Time]float64)}
			b.kinds[kind] = kb
		}
		kb.add(slot, value, id)
	}

	for _, raw := range raws {
		switch raw.PeriodKind {
		case telemetry.PeriodMonth:
			start := raw.PeriodStart.UTC()
			end := raw.PeriodEnd.UTC()
			if !end.After(start) {
				hours := period.HoursInMonth(start, a.loc)
				end = start.Add(time.Duration(hours) * time.Hour)
			}
			hours := int(end.Sub(start) / time.Hour)
			if hours <= 0 {
				out.Skipped++
				continue
			}
			perHour := raw.Value / float64(hours)
			var mapErr error
			for h := period.FloorHour(start); h.Before(end); h = h.Add(time.Hour) {
				phase, err := a.resolver.Resolve(raw.Identifier, h)
				if err != nil {
					if mapErr == nil {
						mapErr = err
					}
					continue
				}
				add(phase, h, h, raw.PeriodKind, perHour, raw.ID)
			}
			if mapErr != nil {
				out.MappingErrors = append(out.MappingErrors, mapErr)
			}
		case telemetry.PeriodHour, telemetry.PeriodThirtyMin, telemetry.PeriodFifteenMin, telemetry.PeriodSnapshot:
			phase, err := a.resolver.Resolve(raw.Identifier, raw.PeriodStart)
			if err != nil {
				out.MappingErrors = append(out.MappingErrors, err)
				continue
			}
			add(phase, period.FloorHour(raw.PeriodStart), raw.PeriodStart.UTC(), raw.PeriodKind, raw.Value, raw.ID)
		default:
			out.Skipped++
		}
	}

	for key, b := range buckets {
		best, ok := a.pick(b)
		if !ok {
			continue
		}
		rec := canonical.Record{
			PeriodStart:      key.hour,
			Granularity:      canonical.GranularityHour,
			GenerationUnitID: key.unitID,
			ParentAssetID:    b.phase.ParentAssetID,
			Source:           source,
			SourceResolution: string(best.kind),
			GenerationMWh:    best.generation,
			QualityFlag:      best.flag,
			QualityScore:     best.score,
			Completeness:     best.completeness,
			Provenance:       canonical.SortProvenance(best.ids),
		}
		rec.SetCapacity(b.phase.CapacityMW, a.maxCapacityFactor)
		out.Records = append(out.Records, rec)
	}
	canonical.SortRecords(out.Records)
	return out
}

type candidate struct {
	kind         telemetry.PeriodKind
	generation   float64
	completeness float64
	score        float64
	flag         canonical.QualityFlag
	ids          []int64
}

// pick evaluates every kind present in the group and keeps the most complete,
// preferring the finer resolution on ties.
func (a *Aggregator) pick(b *bucket) (candidate, bool) {
	kinds := make([]telemetry.PeriodKind, 0, len(b.kinds))
	for kind := range b.kinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Fineness() > kinds[j].Fineness() })

	var (
		best  candidate
		found bool
	)
	for _, kind := range kinds {
		c, ok := a.evaluate(kind, b.kinds[kind])
		if !ok {
			continue
		}
		if !found || c.completeness > best.completeness {
			best = c
			found = true
		}
	}
	return best, found
}

func (a *Aggregator) evaluate(kind telemetry.PeriodKind, kb *kindBucket) (candidate, bool) {
	n := len(kb.slots)
	if n == 0 {
		return candidate{}, false
	}
	c := candidate{kind: kind, ids: kb.ids}
	switch kind {
	case telemetry.PeriodHour:
		c.generation = kb.sum
		c.completeness = 1
		c.score = 1
		c.flag = canonical.QualityHigh
		return c, true
	case telemetry.PeriodThirtyMin:
		n = min(n, 2)
		c.generation = kb.sum * 0.5
		c.completeness = float64(n) / 2
	case telemetry.PeriodFifteenMin:
		n = min(n, 4)
		c.generation = kb.sum * 0.25 * 4 / float64(n)
		c.completeness = float64(n) / 4
	case telemetry.PeriodSnapshot:
		c.generation = kb.sum / float64(n)
		c.completeness = min(1, float64(n)/float64(a.snapshotsPerHour))
	case telemetry.PeriodMonth:
		c.generation = kb.sum
		c.completeness = 1
		c.score = 0.5
		c.flag = canonical.QualityInterpolated
		return c, true
	default:
		return candidate{}, false
	}
	c.score = c.completeness
	c.flag = canonical.FlagForScore(c.score)
	return c, true
}
