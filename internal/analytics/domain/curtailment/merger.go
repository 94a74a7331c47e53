package curtailment

import (
	"errors"
	"time"

	"windgen-cloud/internal/analytics/domain/aggregation"
	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/period"
	masterdata "windgen-cloud/internal/masterdata/domain"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

// WindowExtension is how far before the nominal day start the merger fetches
// and clears, so that settlement periods falling on the previous UTC day are
// rebuilt together with their hour.
const WindowExtension = time.Hour

// Window returns the processing window [dayStart-ext, dayEnd).
func Window(dayStart, dayEnd time.Time, ext time.Duration) (time.Time, time.Time) {
	if ext < 0 {
		ext = 0
	}
	return dayStart.Add(-ext), dayEnd
}

// Merger combines signed metered output with curtailment acceptances into
// hourly generation = metered + curtailed.
type Merger struct {
	resolver          aggregation.Resolver
	maxCapacityFactor float64
}

// NewMerger constructs a Merger.
func NewMerger(resolver aggregation.Resolver, maxCapacityFactor float64) (*Merger, error) {
	if resolver == nil {
		return nil, errors.New("curtailment merger: nil resolver")
	}
	if maxCapacityFactor <= 0 {
		maxCapacityFactor = canonical.MaxCapacityFactor
	}
	return &Merger{resolver: resolver, maxCapacityFactor: maxCapacityFactor}, nil
}

type hourKey struct {
	unitID string
	hour   time.Time
}

type hourTotals struct {
	phase     masterdata.Phase
	metered   float64
	curtailed float64
	slots     map[time.Time]struct{}
	ids       []int64
}

// Merge builds one canonical record per (generation unit, hour) touched by either
// stream. An hour with curtailment but no metered output still yields a record
// with metered = 0.
func (m *Merger) Merge(source string, raws []telemetry.RawRecord) aggregation.Outcome {
	var out aggregation.Outcome
	totals := make(map[hourKey]*hourTotals)

	for _, raw := range raws {
		if raw.Stream != telemetry.StreamMetered && raw.Stream != telemetry.StreamCurtailment {
			out.Skipped++
			continue
		}
		phase, err := m.resolver.Resolve(raw.Identifier, raw.PeriodStart)
		if err != nil {
			out.MappingErrors = append(out.MappingErrors, err)
			continue
		}
		key := hourKey{unitID: phase.ID, hour: period.FloorHour(raw.PeriodStart)}
		t, ok := totals[key]
		if !ok {
			t = &hourTotals{phase: phase, slots: make(map[time.Time]struct{})}
			totals[key] = t
		}
		switch raw.Stream {
		case telemetry.StreamMetered:
			t.metered += raw.SignedValue()
		case telemetry.StreamCurtailment:
			t.curtailed += raw.CurtailedVolume()
		}
		t.slots[raw.PeriodStart.UTC().Truncate(period.SettlementLength)] = struct{}{}
		if raw.ID != 0 {
			t.ids = append(t.ids, raw.ID)
		}
	}

	for key, t := range totals {
		completeness := float64(min(len(t.slots), 2)) / 2
		rec := canonical.Record{
			PeriodStart:      key.hour,
			Granularity:      canonical.GranularityHour,
			GenerationUnitID: key.unitID,
			ParentAssetID:    t.phase.ParentAssetID,
			Source:           source,
			SourceResolution: string(telemetry.PeriodThirtyMin),
			GenerationMWh:    t.metered + t.curtailed,
			MeteredMWh:       canonical.Float(t.metered),
			CurtailedMWh:     canonical.Float(t.curtailed),
			QualityScore:     completeness,
			Completeness:     completeness,
			QualityFlag:      canonical.FlagForScore(completeness),
			Provenance:       canonical.SortProvenance(t.ids),
		}
		rec.SetCapacity(t.phase.CapacityMW, m.maxCapacityFactor)
		out.Records = append(out.Records, rec)
	}
	canonical.SortRecords(out.Records)
	return out
}
