package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	analyticsmem "windgen-cloud/internal/analytics/infrastructure/memory"
	mastermem "windgen-cloud/internal/masterdata/infrastructure/memory"
	reconcileapp "windgen-cloud/internal/reconcile/application"
	"windgen-cloud/internal/reconcile/report"
	telemetrymem "windgen-cloud/internal/telemetry/infrastructure/memory"
)

const unitsFile = `
units:
  - code: WINDA
    capacity_mw: 100
    phases:
      - id: unit-a
        code: WINDA-1
mappings:
  - source: ENTSOE
    identifier: 48W-A
    unit_code: WINDA
`

type harness struct {
	dir   string
	canon *analyticsmem.CanonicalRepository
	build builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), canon: analyticsmem.NewCanonicalRepository()}
	raw := telemetrymem.NewRawRepository()
	directory := mastermem.NewUnitDirectory()
	cfg := reconcileapp.Config{BatchSize: 100, Workers: 2, ReportRoot: filepath.Join(h.dir, "reports")}
	a, err := newApp(cfg, log.New(io.Discard, "", 0), raw, h.canon, directory)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h.build = func(context.Context) (*app, func(), error) { return a, func() {}, nil }
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(h.build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func rawLines(hours int, skip int) string {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	var b strings.Builder
	for i := 0; i < hours; i++ {
		if i == skip {
			continue
		}
		fmt.Fprintf(&b, `{"source":"ENTSOE","source_type":"file-backfill","identifier":"48W-A","period_kind":"hour","period_start":%q,"value":30}`+"\n",
			start.Add(time.Duration(i)*time.Hour).Format(time.RFC3339))
	}
	return b.String()
}

func TestCommandsEndToEnd(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "units", "import", h.write(t, "units.yaml", unitsFile))
	if err != nil || !strings.Contains(out, "imported 1 units, 1 mappings") {
		t.Fatalf("units import: %v %q", err, out)
	}

	out, err = h.run(t, "ingest", h.write(t, "raw.jsonl", rawLines(24, 7)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var ingested map[string]any
	if err := json.Unmarshal([]byte(out), &ingested); err != nil {
		t.Fatalf("decode ingest output: %v", err)
	}
	if ingested["applied"].(float64) != 23 {
		t.Fatalf("expected 23 applied, got %v", ingested["applied"])
	}

	out, err = h.run(t, "gaps", "--source", "entsoe", "--from", "2024-03-04", "--to", "2024-03-05", "--granularity", "hour")
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if !strings.Contains(out, `"missing": 1`) || !strings.Contains(out, "2024-03-04T07:00:00Z") {
		t.Fatalf("expected one missing hour at 07:00, got %s", out)
	}

	out, err = h.run(t, "reconcile", "--source", "ENTSOE", "--from", "2024-03-04", "--to", "2024-03-05", "--report")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var result reconcileapp.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.CanonicalWritten != 23 {
		t.Fatalf("expected 23 written, got %d", result.CanonicalWritten)
	}
	archive := filepath.Join(report.Dir(filepath.Join(h.dir, "reports"), result), report.Archive)
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("expected report archive: %v", err)
	}

	if _, err := h.run(t, "override", "--source", "ENTSOE", "--unit", "unit-a", "--at", "2024-03-04T03:00:00Z",
		"--value", "12.5", "--reason", "meter fault", "--by", "ops"); err != nil {
		t.Fatalf("override: %v", err)
	}
	records, _ := h.canon.QueryCanonical(context.Background(), canonical.Scope{
		Granularity: canonical.GranularityHour,
		Source:      "ENTSOE",
		From:        time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC),
	})
	if len(records) != 1 || !records[0].IsOverride || records[0].GenerationMWh != 12.5 {
		t.Fatalf("expected overridden record, got %+v", records)
	}

	out, err = h.run(t, "rollup", "--source", "ENTSOE", "--month", "2024-03")
	if err != nil || !strings.Contains(out, `"written": 1`) {
		t.Fatalf("rollup: %v %s", err, out)
	}
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "reconcile", "--source", "ENTSOE", "--from", "yesterday", "--to", "2024-03-05"); err == nil {
		t.Fatalf("expected error for bad --from")
	}
	if _, err := h.run(t, "reconcile", "--source", "ENTSOE", "--from", "2024-03-04", "--to", "2024-03-05"); !reconcileapp.IsScopeError(err) {
		t.Fatalf("expected scope error without units, got %v", err)
	}
	if _, err := h.run(t, "rollup", "--source", "ENTSOE", "--month", "March"); err == nil {
		t.Fatalf("expected error for bad month")
	}
	if _, err := h.run(t, "migrate"); err == nil {
		t.Fatalf("expected migrate to need a database")
	}
	if _, err := h.run(t, "gaps", "--source", "ENTSOE", "--from", "2024-03-04", "--to", "2024-03-05", "--format", "pdf"); err == nil {
		t.Fatalf("expected --out to be required for pdf")
	}
}

func TestParseWhen(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-04":                time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		"2024-03-04T01:00:00+01:00": time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseWhen(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("%s: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := parseWhen("04/03/2024"); err == nil {
		t.Fatalf("expected error for unknown layout")
	}
}
