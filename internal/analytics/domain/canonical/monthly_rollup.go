package canonical

import (
	"context"
	"errors"
	"sort"
	"time"
)

// MonthlyRollupService derives monthly canonical records from hourly ones.
type MonthlyRollupService struct {
	repo              Repository
	maxCapacityFactor float64
}

// NewMonthlyRollupService constructs a MonthlyRollupService.
func NewMonthlyRollupService(repo Repository, maxCapacityFactor float64) (*MonthlyRollupService, error) {
	if repo == nil {
		return nil, errors.New("canonical: nil repository")
	}
	if maxCapacityFactor <= 0 {
		maxCapacityFactor = MaxCapacityFactor
	}
	return &MonthlyRollupService{repo: repo, maxCapacityFactor: maxCapacityFactor}, nil
}

// RollupMonth sums the hourly records of each unit in the UTC month. Completeness
// is the share of the month's hours that have an hourly record.
func (s *MonthlyRollupService) RollupMonth(ctx context.Context, source string, monthStart time.Time, unitIDs []string) ([]Record, error) {
	if monthStart.IsZero() {
		return nil, ErrInvalidPeriodStart
	}
	if source == "" {
		return nil, ErrEmptySource
	}
	monthStart = time.Date(monthStart.UTC().Year(), monthStart.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)
	hoursInMonth := monthEnd.Sub(monthStart).Hours()

	hours, err := s.repo.QueryCanonical(ctx, Scope{
		Granularity: GranularityHour,
		Source:      source,
		From:        monthStart,
		To:          monthEnd,
		UnitIDs:     unitIDs,
	})
	if err != nil {
		return nil, err
	}

	type totals struct {
		rec          Record
		hours        map[time.Time]struct{}
		scoreSum     float64
		metered      float64
		curtailed    float64
		hasMetered   bool
		hasCurtailed bool
		interpolated bool
		overridden   bool
		capacity     float64
		lastHour     time.Time
		ids          []int64
	}
	byUnit := make(map[string]*totals)
	for _, hour := range hours {
		if hour.Granularity != GranularityHour {
			continue
		}
		if hour.PeriodStart.Before(monthStart) || !hour.PeriodStart.Before(monthEnd) {
			continue
		}
		t, ok := byUnit[hour.GenerationUnitID]
		if !ok {
			t = &totals{
				rec: Record{
					PeriodStart:      monthStart,
					Granularity:      GranularityMonth,
					GenerationUnitID: hour.GenerationUnitID,
					ParentAssetID:    hour.ParentAssetID,
					Source:           source,
					SourceResolution: string(GranularityHour),
				},
				hours: make(map[time.Time]struct{}),
			}
			byUnit[hour.GenerationUnitID] = t
		}
		t.hours[hour.PeriodStart.UTC()] = struct{}{}
		t.rec.GenerationMWh += hour.GenerationMWh
		t.scoreSum += hour.QualityScore
		if hour.MeteredMWh != nil {
			t.metered += *hour.MeteredMWh
			t.hasMetered = true
		}
		if hour.CurtailedMWh != nil {
			t.curtailed += *hour.CurtailedMWh
			t.hasCurtailed = true
		}
		if hour.IsOverride {
			t.overridden = true
		}
		if hour.QualityFlag == QualityInterpolated {
			t.interpolated = true
		}
		if hour.CapacityMW != nil && !hour.PeriodStart.Before(t.lastHour) {
			t.capacity = *hour.CapacityMW
			t.lastHour = hour.PeriodStart
		}
		t.ids = append(t.ids, hour.Provenance...)
	}

	units := make([]string, 0, len(byUnit))
	for id := range byUnit {
		units = append(units, id)
	}
	sort.Strings(units)

	result := make([]Record, 0, len(units))
	for _, id := range units {
		t := byUnit[id]
		rec := t.rec
		rec.Completeness = float64(len(t.hours)) / hoursInMonth
		rec.QualityScore = t.scoreSum / hoursInMonth
		if t.interpolated {
			rec.QualityFlag = QualityInterpolated
		} else {
			rec.QualityFlag = FlagForScore(rec.QualityScore)
		}
		if t.hasMetered && t.hasCurtailed && !t.overridden {
			rec.MeteredMWh = Float(t.metered)
			rec.CurtailedMWh = Float(t.curtailed)
		}
		rec.Provenance = SortProvenance(t.ids)
		rec.SetCapacity(t.capacity, s.maxCapacityFactor)
		result = append(result, rec)
	}
	return result, nil
}
