package canonical_test

import (
	"context"
	"math"
	"testing"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/infrastructure/memory"
)

func TestRollupMonthSumsHours(t *testing.T) {
	repo := memory.NewCanonicalRepository()
	ctx := context.Background()
	month := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	var hours []canonical.Record
	for i := 0; i < 348; i++ {
		rec := canonical.Record{
			PeriodStart:      month.Add(time.Duration(i) * time.Hour),
			Granularity:      canonical.GranularityHour,
			GenerationUnitID: "unit-1",
			Source:           "ENTSOE",
			SourceResolution: "hour",
			GenerationMWh:    2,
			QualityFlag:      canonical.QualityHigh,
			QualityScore:     1,
			Completeness:     1,
			Provenance:       []int64{int64(i + 1)},
		}
		rec.SetCapacity(4, canonical.MaxCapacityFactor)
		hours = append(hours, rec)
	}
	if _, err := repo.UpsertCanonical(ctx, hours); err != nil {
		t.Fatalf("upsert hours: %v", err)
	}

	svc, err := canonical.NewMonthlyRollupService(repo, 0)
	if err != nil {
		t.Fatalf("new rollup service: %v", err)
	}
	months, err := svc.RollupMonth(ctx, "ENTSOE", month.Add(36*time.Hour), nil)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if len(months) != 1 {
		t.Fatalf("expected 1 monthly record, got %d", len(months))
	}
	rec := months[0]
	if !rec.PeriodStart.Equal(month) || rec.Granularity != canonical.GranularityMonth {
		t.Fatalf("unexpected key %s %s", rec.PeriodStart, rec.Granularity)
	}
	if rec.GenerationMWh != 696 {
		t.Fatalf("expected 696, got %v", rec.GenerationMWh)
	}
	if math.Abs(rec.Completeness-0.5) > 1e-9 || rec.QualityFlag != canonical.QualityMedium {
		t.Fatalf("expected half complete medium, got %v %s", rec.Completeness, rec.QualityFlag)
	}
	if rec.CapacityFactor == nil || *rec.CapacityFactor != 0.25 {
		t.Fatalf("expected capacity factor 0.25, got %v", rec.CapacityFactor)
	}
	if len(rec.Provenance) != 348 {
		t.Fatalf("expected provenance union, got %d", len(rec.Provenance))
	}

	if _, err := repo.UpsertCanonical(ctx, months); err != nil {
		t.Fatalf("upsert month: %v", err)
	}
	stored, err := repo.QueryCanonical(ctx, canonical.Scope{Granularity: canonical.GranularityMonth, Source: "ENTSOE"})
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected monthly record stored separately, got %d err=%v", len(stored), err)
	}
}

func TestRollupMonthRequiresSource(t *testing.T) {
	svc, err := canonical.NewMonthlyRollupService(memory.NewCanonicalRepository(), 0)
	if err != nil {
		t.Fatalf("new rollup service: %v", err)
	}
	if _, err := svc.RollupMonth(context.Background(), "", time.Now(), nil); err != canonical.ErrEmptySource {
		t.Fatalf("expected empty source error, got %v", err)
	}
	if _, err := canonical.NewMonthlyRollupService(nil, 0); err == nil {
		t.Fatalf("expected nil repository error")
	}
}
