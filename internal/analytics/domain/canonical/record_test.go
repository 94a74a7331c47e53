package canonical

import (
	"testing"
	"time"
)

func baseRecord() Record {
	return Record{
		PeriodStart:      time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC),
		Granularity:      GranularityHour,
		GenerationUnitID: "unit-u",
		Source:           "ELEXON",
		SourceResolution: "30min",
		GenerationMWh:    15,
		MeteredMWh:       Float(12),
		CurtailedMWh:     Float(3),
		QualityFlag:      QualityHigh,
		QualityScore:     1,
		Completeness:     1,
	}
}

func TestValidateBalance(t *testing.T) {
	rec := baseRecord()
	if err := rec.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rec.GenerationMWh = 15.5
	if err := rec.Validate(); err != ErrUnbalanced {
		t.Fatalf("expected unbalanced, got %v", err)
	}
	rec.GenerationMWh = 15.005
	if err := rec.Validate(); err != nil {
		t.Fatalf("within tolerance should pass: %v", err)
	}
	rec.ApplyOverride(20, "meter swap", "ops", time.Now())
	if err := rec.Validate(); err != nil {
		t.Fatalf("override is exempt from balance: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := map[string]func(r *Record){
		"granularity":  func(r *Record) { r.Granularity = "day" },
		"period":       func(r *Record) { r.PeriodStart = time.Time{} },
		"unit":         func(r *Record) { r.GenerationUnitID = "" },
		"source":       func(r *Record) { r.Source = "" },
		"completeness": func(r *Record) { r.Completeness = 1.5 },
	}
	for name, mutate := range cases {
		rec := baseRecord()
		mutate(&rec)
		if err := rec.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSetCapacityMonthAndClamp(t *testing.T) {
	rec := baseRecord()
	rec.Granularity = GranularityMonth
	rec.PeriodStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	rec.GenerationMWh = 696
	rec.SetCapacity(2, MaxCapacityFactor)
	if rec.CapacityFactor == nil || *rec.CapacityFactor != 0.5 {
		t.Fatalf("expected 0.5, got %v", rec.CapacityFactor)
	}

	rec.GenerationMWh = -5
	rec.SetCapacity(2, MaxCapacityFactor)
	if *rec.CapacityFactor != 0 {
		t.Fatalf("expected clamp at zero, got %v", *rec.CapacityFactor)
	}

	rec.SetCapacity(0, MaxCapacityFactor)
	if rec.CapacityMW != nil || rec.CapacityFactor != nil {
		t.Fatalf("zero capacity must clear capacity fields")
	}
}

func TestKeepOverrideOnRebuild(t *testing.T) {
	stored := baseRecord()
	stored.ApplyOverride(20, "meter swap", "ops", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if stored.OriginalValue == nil || *stored.OriginalValue != 15 {
		t.Fatalf("expected original value 15, got %v", stored.OriginalValue)
	}

	rebuilt := baseRecord()
	rebuilt.GenerationMWh = 16
	rebuilt.MeteredMWh = Float(13)
	merged := KeepOverride(stored, rebuilt, MaxCapacityFactor)
	if merged.GenerationMWh != 20 || !merged.IsOverride {
		t.Fatalf("override value must survive, got %v", merged.GenerationMWh)
	}
	if *merged.OriginalValue != 16 {
		t.Fatalf("original value must track rebuild, got %v", *merged.OriginalValue)
	}
	if merged.OverrideBy != "ops" {
		t.Fatalf("override metadata lost")
	}

	plain := KeepOverride(baseRecord(), rebuilt, MaxCapacityFactor)
	if plain.IsOverride || plain.GenerationMWh != 16 {
		t.Fatalf("non-override stored record must not affect rebuild")
	}
}

func TestKeepOverrideUsesConfiguredClamp(t *testing.T) {
	stored := baseRecord()
	stored.ApplyOverride(40, "meter swap", "ops", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	rebuilt := baseRecord()
	rebuilt.SetCapacity(20, 0.5)

	merged := KeepOverride(stored, rebuilt, 0.5)
	if merged.CapacityFactor == nil || *merged.CapacityFactor != 0.5 {
		t.Fatalf("expected factor clamped to 0.5, got %v", merged.CapacityFactor)
	}
	merged = KeepOverride(stored, rebuilt, 0)
	if *merged.CapacityFactor != 2 {
		t.Fatalf("expected default clamp to keep factor 2, got %v", *merged.CapacityFactor)
	}
	if FactorLimit(0) != MaxCapacityFactor || FactorLimit(12) != MaxCapacityFactor || FactorLimit(1.2) != 1.2 {
		t.Fatalf("unexpected factor limits")
	}
}

func TestSortProvenanceDedupes(t *testing.T) {
	got := SortProvenance([]int64{5, 1, 5, 3, 1})
	want := []int64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if empty := SortProvenance(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil provenance")
	}
}

func TestFlagForScore(t *testing.T) {
	if FlagForScore(1) != QualityHigh || FlagForScore(0.95) != QualityHigh {
		t.Fatalf("expected high")
	}
	if FlagForScore(0.5) != QualityMedium || FlagForScore(0.75) != QualityMedium {
		t.Fatalf("expected medium")
	}
	if FlagForScore(0.25) != QualityLow {
		t.Fatalf("expected low")
	}
}
