package report

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/coverage"
	"windgen-cloud/internal/observability/metrics"
	reconcileapp "windgen-cloud/internal/reconcile/application"
)

const timeLayout = time.RFC3339

// File names inside a report directory.
const (
	CanonicalCSV      = "canonical.csv"
	CoverageCSV       = "coverage.csv"
	MissingPeriodsCSV = "missing_periods.csv"
	SummaryJSON       = "summary.json"
	CoverageXLSX      = "coverage.xlsx"
	CoveragePDF       = "coverage.pdf"
	Archive           = "report.zip"
)

// Bundle is everything a run report can contain. Nil parts are left out.
type Bundle struct {
	Source   string
	Result   *reconcileapp.Result
	Records  []canonical.Record
	Coverage *coverage.Report
}

// Dir returns the report directory of a run below root.
func Dir(root string, result reconcileapp.Result) string {
	return filepath.Join(root, strings.ToUpper(string(result.Source)), result.From.UTC().Format("2006-01-02"), result.RunID)
}

// Write renders the bundle into outDir and archives it. It returns the archive path.
func Write(outDir string, b Bundle) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if b.Records != nil {
		if err := timed("csv", func() error { return writeCanonical(outDir, b.Records) }); err != nil {
			return "", err
		}
	}
	if b.Coverage != nil {
		if err := timed("csv", func() error { return writeCoverage(outDir, *b.Coverage) }); err != nil {
			return "", err
		}
		if err := timed("csv", func() error { return writeMissingPeriods(outDir, *b.Coverage) }); err != nil {
			return "", err
		}
		if err := timed("xlsx", func() error {
			return writeFile(outDir, CoverageXLSX, func() ([]byte, error) { return BuildCoverageXLSX(b.Source, *b.Coverage, b.Records) })
		}); err != nil {
			return "", err
		}
		if err := timed("pdf", func() error {
			return writeFile(outDir, CoveragePDF, func() ([]byte, error) { return BuildCoveragePDF(b.Source, *b.Coverage) })
		}); err != nil {
			return "", err
		}
	}
	if b.Result != nil {
		if err := timed("json", func() error { return writeSummaryJSON(outDir, *b.Result) }); err != nil {
			return "", err
		}
	}
	var archivePath string
	err := timed("zip", func() error {
		var err error
		archivePath, err = writeArchive(outDir)
		return err
	})
	return archivePath, err
}

func timed(format string, fn func() error) error {
	started := time.Now()
	err := fn()
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(started))
	return err
}

func writeFile(outDir, name string, build func() ([]byte, error)) error {
	data, err := build()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, name), data, 0o644)
}

func writeArchive(outDir string) (string, error) {
	archivePath := filepath.Join(outDir, Archive)
	file, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	zipWriter := zip.NewWriter(file)
	defer zipWriter.Close()

	entries := []string{
		CanonicalCSV,
		CoverageCSV,
		MissingPeriodsCSV,
		CoverageXLSX,
		CoveragePDF,
		SummaryJSON,
	}

	for _, name := range entries {
		path := filepath.Join(outDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fw, err := zipWriter.Create(name)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		if _, err := fw.Write(data); err != nil {
			return "", err
		}
	}
	return archivePath, nil
}

func writeCanonical(outDir string, rows []canonical.Record) error {
	file, err := os.Create(filepath.Join(outDir, CanonicalCSV))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"period_start",
		"granularity",
		"generation_unit_id",
		"parent_asset_id",
		"source",
		"source_resolution",
		"generation_mwh",
		"metered_mwh",
		"curtailed_mwh",
		"capacity_mw",
		"capacity_factor",
		"quality_flag",
		"quality_score",
		"completeness",
		"is_override",
		"original_value",
		"override_reason",
		"provenance",
	}); err != nil {
		return err
	}

	for _, row := range rows {
		if err := writer.Write([]string{
			formatTime(row.PeriodStart),
			string(row.Granularity),
			row.GenerationUnitID,
			row.ParentAssetID,
			row.Source,
			row.SourceResolution,
			formatFloat(row.GenerationMWh),
			formatOptionalFloat(row.MeteredMWh),
			formatOptionalFloat(row.CurtailedMWh),
			formatOptionalFloat(row.CapacityMW),
			formatOptionalFloat(row.CapacityFactor),
			string(row.QualityFlag),
			formatFloat(row.QualityScore),
			formatFloat(row.Completeness),
			formatBool(row.IsOverride),
			formatOptionalFloat(row.OriginalValue),
			row.OverrideReason,
			formatIDs(row.Provenance),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeCoverage(outDir string, report coverage.Report) error {
	file, err := os.Create(filepath.Join(outDir, CoverageCSV))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"identifier", "granularity", "expected", "missing", "coverage_percent"}); err != nil {
		return err
	}
	for _, row := range report.PerIdentifier {
		if err := writer.Write([]string{
			row.Identifier,
			string(report.Granularity),
			strconv.Itoa(row.Expected),
			strconv.Itoa(row.Missing),
			formatFloat(row.CoveragePercent),
		}); err != nil {
			return err
		}
	}
	return writer.Write([]string{
		"*",
		string(report.Granularity),
		strconv.Itoa(report.Expected),
		strconv.Itoa(report.Missing),
		formatFloat(report.CoveragePercent),
	})
}

func writeMissingPeriods(outDir string, report coverage.Report) error {
	file, err := os.Create(filepath.Join(outDir, MissingPeriodsCSV))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"period_start", "identifier"}); err != nil {
		return err
	}
	for _, missing := range report.MissingPeriods {
		for _, ident := range missing.Identifiers {
			if err := writer.Write([]string{formatTime(missing.PeriodStart), ident}); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSummaryJSON(outDir string, result reconcileapp.Result) error {
	file, err := os.Create(filepath.Join(outDir, SummaryJSON))
	if err != nil {
		return err
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatOptionalFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return formatFloat(*value)
}

func formatBool(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, " ")
}
