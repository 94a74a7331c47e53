package curtailment

import (
	"math"
	"testing"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	masterdata "windgen-cloud/internal/masterdata/domain"
	telemetry "windgen-cloud/internal/telemetry/domain"
)

type stubResolver struct{}

func (stubResolver) Resolve(identifier string, ts time.Time) (masterdata.Phase, error) {
	if identifier != "T_WIND-1" {
		return masterdata.Phase{}, &masterdata.MappingError{Identifier: identifier, At: ts, Err: masterdata.ErrUnmappedIdentifier}
	}
	// no parent asset on purpose
	return masterdata.Phase{ID: "unit-u", CapacityMW: 50}, nil
}

var hourH = time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)

func metered(id int64, start time.Time, value float64, dir telemetry.Direction) telemetry.RawRecord {
	return telemetry.RawRecord{
		ID:          id,
		Source:      telemetry.SourceElexon,
		SourceType:  telemetry.SourceTypeLiveAPI,
		Stream:      telemetry.StreamMetered,
		Identifier:  "T_WIND-1",
		PeriodStart: start,
		PeriodEnd:   start.Add(30 * time.Minute),
		PeriodKind:  telemetry.PeriodThirtyMin,
		Value:       value,
		Direction:   dir,
	}
}

func acceptance(id int64, start time.Time, items ...telemetry.LineItem) telemetry.RawRecord {
	return telemetry.RawRecord{
		ID:          id,
		Source:      telemetry.SourceElexon,
		SourceType:  telemetry.SourceTypeLiveAPI,
		Stream:      telemetry.StreamCurtailment,
		Identifier:  "T_WIND-1",
		PeriodStart: start,
		PeriodEnd:   start.Add(30 * time.Minute),
		PeriodKind:  telemetry.PeriodThirtyMin,
		Value:       telemetry.LineItemTotal(items),
		LineItems:   items,
	}
}

func newMerger(t *testing.T) *Merger {
	t.Helper()
	m, err := NewMerger(stubResolver{}, 0)
	if err != nil {
		t.Fatalf("new merger: %v", err)
	}
	return m
}

func TestCurtailmentOnlyHourProducesRecord(t *testing.T) {
	out := newMerger(t).Merge("ELEXON", []telemetry.RawRecord{
		acceptance(1, hourH, telemetry.LineItem{Reference: "BOA-1", Volume: -3.5}),
	})
	if len(out.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out.Records))
	}
	rec := out.Records[0]
	if rec.GenerationUnitID != "unit-u" || !rec.PeriodStart.Equal(hourH) {
		t.Fatalf("unexpected key %s %s", rec.GenerationUnitID, rec.PeriodStart)
	}
	if *rec.MeteredMWh != 0 || *rec.CurtailedMWh != 3.5 || rec.GenerationMWh != 3.5 {
		t.Fatalf("unexpected values metered=%v curtailed=%v generation=%v", *rec.MeteredMWh, *rec.CurtailedMWh, rec.GenerationMWh)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMeteredSignAndInvariant(t *testing.T) {
	out := newMerger(t).Merge("ELEXON", []telemetry.RawRecord{
		metered(1, hourH, 12.0, telemetry.DirectionExport),
		metered(2, hourH.Add(30*time.Minute), 0.4, telemetry.DirectionImport),
		acceptance(3, hourH.Add(30*time.Minute),
			telemetry.LineItem{Reference: "BOA-1", Volume: -2.0},
			telemetry.LineItem{Reference: "BOA-2", Volume: 1.0},
		),
	})
	if len(out.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out.Records))
	}
	rec := out.Records[0]
	if math.Abs(*rec.MeteredMWh-11.6) > 1e-9 {
		t.Fatalf("expected metered 11.6, got %v", *rec.MeteredMWh)
	}
	if *rec.CurtailedMWh != 3.0 {
		t.Fatalf("expected curtailed 3.0 in absolute value, got %v", *rec.CurtailedMWh)
	}
	if math.Abs(rec.GenerationMWh-(*rec.MeteredMWh+*rec.CurtailedMWh)) > canonical.BalanceTolerance {
		t.Fatalf("generation must equal metered plus curtailed")
	}
	if rec.Completeness != 1 || rec.QualityFlag != canonical.QualityHigh {
		t.Fatalf("expected complete hour, got %v %s", rec.Completeness, rec.QualityFlag)
	}
	if len(rec.Provenance) != 3 {
		t.Fatalf("expected 3 provenance ids, got %v", rec.Provenance)
	}
}

func TestWindowExtendsBeforeDayStart(t *testing.T) {
	dayStart := time.Date(2024, 6, 14, 23, 0, 0, 0, time.UTC)
	from, to := Window(dayStart, dayStart.Add(24*time.Hour), WindowExtension)
	if !from.Equal(dayStart.Add(-time.Hour)) || !to.Equal(dayStart.Add(24*time.Hour)) {
		t.Fatalf("unexpected window %s %s", from, to)
	}
}

func TestUnmappedAcceptanceIsMappingError(t *testing.T) {
	rec := acceptance(1, hourH, telemetry.LineItem{Reference: "BOA-1", Volume: -1})
	rec.Identifier = "T_OTHER"
	out := newMerger(t).Merge("ELEXON", []telemetry.RawRecord{rec})
	if len(out.Records) != 0 || len(out.MappingErrors) != 1 {
		t.Fatalf("expected mapping error only, got %d records %d errors", len(out.Records), len(out.MappingErrors))
	}
}
