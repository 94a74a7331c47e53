package application

import (
	"context"
	"errors"
	"testing"
	"time"

	masterdata "windgen-cloud/internal/masterdata/domain"
	"windgen-cloud/internal/masterdata/infrastructure/memory"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func phasedUnit() masterdata.Unit {
	return masterdata.Unit{
		Code:       "HOWAO",
		AssetID:    "asset-hornsea",
		CapacityMW: 1200,
		Phases: []masterdata.Phase{
			{ID: "unit-b", Code: "HOWAO-2", CapacityMW: 600, ValidFrom: date(2021, 7, 1)},
			{ID: "unit-a", Code: "HOWAO-1", CapacityMW: 600, ValidFrom: date(2020, 1, 1), ValidTo: date(2021, 6, 30)},
		},
	}
}

func TestCatalogResolvesPhaseByTimestamp(t *testing.T) {
	catalog := NewCatalog("ELEXON", []masterdata.Unit{phasedUnit()}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
	})

	phase, err := catalog.Resolve("T_HOWAO-1", time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("resolve march: %v", err)
	}
	if phase.ID != "unit-a" {
		t.Fatalf("expected unit-a, got %s", phase.ID)
	}
	if phase.ParentAssetID != "asset-hornsea" {
		t.Fatalf("expected parent asset to be inherited, got %q", phase.ParentAssetID)
	}

	phase, err = catalog.Resolve("T_HOWAO-1", time.Date(2021, 6, 30, 18, 0, 0, 0, time.UTC))
	if err != nil || phase.ID != "unit-a" {
		t.Fatalf("expected unit-a through end of valid_to day, got %s err=%v", phase.ID, err)
	}

	phase, err = catalog.Resolve("T_HOWAO-1", time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("resolve september: %v", err)
	}
	if phase.ID != "unit-b" {
		t.Fatalf("expected unit-b, got %s", phase.ID)
	}

	_, err = catalog.Resolve("T_HOWAO-1", time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC))
	if !masterdata.IsMappingError(err) || !errors.Is(err, masterdata.ErrNoActivePhase) {
		t.Fatalf("expected no active phase mapping error, got %v", err)
	}
}

func TestCatalogFirstOutputExtendsFirstPhase(t *testing.T) {
	unit := phasedUnit()
	unit.FirstOutput = date(2019, 10, 1)
	catalog := NewCatalog("ELEXON", []masterdata.Unit{unit}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
	})
	phase, err := catalog.Resolve("T_HOWAO-1", time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("resolve before first phase: %v", err)
	}
	if phase.ID != "unit-a" {
		t.Fatalf("expected unit-a, got %s", phase.ID)
	}
	if unit.Phases[1].ValidFrom.Year() != 2020 {
		t.Fatalf("catalog must not mutate the caller's phases")
	}
}

func TestCatalogOverlappingPhasesAreErrors(t *testing.T) {
	unit := phasedUnit()
	unit.Phases[0].ValidFrom = date(2021, 6, 1)
	catalog := NewCatalog("ELEXON", []masterdata.Unit{unit}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
	})
	_, err := catalog.Resolve("T_HOWAO-1", time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, masterdata.ErrOverlappingPhases) {
		t.Fatalf("expected overlapping phases, got %v", err)
	}
}

func TestCatalogUnmappedIdentifier(t *testing.T) {
	catalog := NewCatalog("ELEXON", []masterdata.Unit{phasedUnit()}, nil)
	_, err := catalog.Resolve("T_UNKNOWN", time.Now())
	if !errors.Is(err, masterdata.ErrUnmappedIdentifier) {
		t.Fatalf("expected unmapped identifier, got %v", err)
	}
	if _, err := catalog.Resolve("HOWAO", time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unit code should resolve directly: %v", err)
	}
}

func TestCatalogPhaseIDsAndIdentifiers(t *testing.T) {
	catalog := NewCatalog("ELEXON", []masterdata.Unit{phasedUnit()}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
		{Source: "ELEXON", Identifier: "T_HOWAO-2", UnitCode: "HOWAO"},
		{Source: "ENTSOE", Identifier: "48W000HOWAO", UnitCode: "HOWAO"},
	})
	if got := catalog.Identifiers(); len(got) != 2 {
		t.Fatalf("expected 2 elexon identifiers, got %v", got)
	}
	ids := catalog.PhaseIDs([]string{"T_HOWAO-1"})
	if len(ids) != 2 || ids[0] != "unit-a" || ids[1] != "unit-b" {
		t.Fatalf("unexpected phase ids %v", ids)
	}
	byPhase := catalog.IdentifiersByPhase()
	if len(byPhase["unit-a"]) != 2 {
		t.Fatalf("expected both identifiers for unit-a, got %v", byPhase["unit-a"])
	}
}

func TestLoadCatalogFromDirectory(t *testing.T) {
	dir := memory.NewUnitDirectory()
	svc, err := NewUnitDirectoryService(dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	err = svc.Import(ctx, []masterdata.Unit{phasedUnit()}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	catalog, err := LoadCatalog(ctx, dir, "ELEXON")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if catalog.Empty() {
		t.Fatalf("expected populated catalog")
	}
	if err := svc.Import(ctx, []masterdata.Unit{{Code: "EMPTY"}}, nil); err == nil {
		t.Fatalf("expected unit without phases to be rejected")
	}
}

func TestCatalogActivePhaseIDs(t *testing.T) {
	catalog := NewCatalog("ELEXON", []masterdata.Unit{phasedUnit()}, []masterdata.SourceUnitMapping{
		{Source: "ELEXON", Identifier: "T_HOWAO-1", UnitCode: "HOWAO"},
	})

	june30 := time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)
	got := catalog.ActivePhaseIDs(nil, june30, june30.Add(24*time.Hour))
	if len(got) != 1 || got[0] != "unit-a" {
		t.Fatalf("expected only unit-a on its last day, got %v", got)
	}
	got = catalog.ActivePhaseIDs([]string{"T_HOWAO-1"}, june30, june30.AddDate(0, 0, 3))
	if len(got) != 2 {
		t.Fatalf("expected both phases across the handover, got %v", got)
	}
	got = catalog.ActivePhaseIDs(nil, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC))
	if len(got) != 0 {
		t.Fatalf("expected no phase before commissioning, got %v", got)
	}
}
