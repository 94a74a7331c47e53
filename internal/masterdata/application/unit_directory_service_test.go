package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"windgen-cloud/internal/masterdata/infrastructure/memory"
)

const directoryYAML = `
units:
  - code: WINDA
    asset_id: farm-a
    capacity_mw: 100
    phases:
      - id: unit-a
        code: WINDA-1
        capacity_mw: 60
        valid_to: 2024-06-30
      - id: unit-a2
        code: WINDA-2
        capacity_mw: 100
        valid_from: 2024-07-01
mappings:
  - source: ENTSOE
    identifier: 48W-A
    unit_code: WINDA
`

func TestImportFile(t *testing.T) {
	dir := memory.NewUnitDirectory()
	svc, err := NewUnitDirectoryService(dir)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	file, err := svc.ImportFile(context.Background(), strings.NewReader(directoryYAML))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(file.Units) != 1 || len(file.Mappings) != 1 {
		t.Fatalf("unexpected file %+v", file)
	}

	catalog, err := LoadCatalog(context.Background(), dir, "ENTSOE")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	phase, err := catalog.Resolve("48W-A", time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if phase.ID != "unit-a2" {
		t.Fatalf("expected unit-a2 after the handover, got %s", phase.ID)
	}
}

func TestImportFileRejectsInvalidBeforeWriting(t *testing.T) {
	dir := memory.NewUnitDirectory()
	svc, _ := NewUnitDirectoryService(dir)
	doc := directoryYAML + "  - source: ENTSOE\n    identifier: 48W-B\n"
	if _, err := svc.ImportFile(context.Background(), strings.NewReader(doc)); err == nil {
		t.Fatalf("expected error for mapping without unit code")
	}
	units, _ := dir.ListUnits(context.Background())
	if len(units) != 0 {
		t.Fatalf("expected nothing written, got %d units", len(units))
	}
}

func TestDecodeDirectoryFileErrors(t *testing.T) {
	if _, err := DecodeDirectoryFile(strings.NewReader("")); err == nil {
		t.Fatalf("expected error for empty document")
	}
	if _, err := DecodeDirectoryFile(strings.NewReader("stations: []\n")); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
