package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"windgen-cloud/internal/analytics/domain/canonical"
	"windgen-cloud/internal/analytics/domain/coverage"
)

const maxPDFMissingRows = 200

// BuildCoveragePDF renders a minimal PDF for a coverage report.
func BuildCoveragePDF(source string, report coverage.Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Generation Coverage Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Source: %s", strings.ToUpper(source)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s to %s", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Granularity: %s", report.Granularity))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Expected periods: %d", report.Expected))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Missing periods: %d", report.Missing))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Coverage: %.2f%%", report.CoveragePercent))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Identifier", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Expected", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Missing", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Coverage %", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range report.PerIdentifier {
		pdf.CellFormat(70, 6, row.Identifier, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", row.Expected), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", row.Missing), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", row.CoveragePercent), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(report.MissingPeriods) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 6, "Missing period", "1", 0, "C", false, 0, "")
		pdf.CellFormat(110, 6, "Identifiers", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for i, missing := range report.MissingPeriods {
			if i == maxPDFMissingRows {
				pdf.Cell(0, 6, fmt.Sprintf("... %d more periods in missing_periods.csv", len(report.MissingPeriods)-i))
				pdf.Ln(-1)
				break
			}
			pdf.CellFormat(50, 6, missing.PeriodStart.Format(time.RFC3339), "1", 0, "L", false, 0, "")
			pdf.CellFormat(110, 6, strings.Join(missing.Identifiers, ", "), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCoverageXLSX renders coverage, missing periods and, when given, the
// canonical records of the run into one workbook.
func BuildCoverageXLSX(source string, report coverage.Report, records []canonical.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	missingSheet := "missing"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(missingSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Generation Coverage Report")
	_ = f.SetCellValue(summarySheet, "A3", "Source")
	_ = f.SetCellValue(summarySheet, "B3", strings.ToUpper(source))
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", report.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", report.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Granularity")
	_ = f.SetCellValue(summarySheet, "B6", string(report.Granularity))
	_ = f.SetCellValue(summarySheet, "A7", "Expected")
	_ = f.SetCellValue(summarySheet, "B7", report.Expected)
	_ = f.SetCellValue(summarySheet, "A8", "Missing")
	_ = f.SetCellValue(summarySheet, "B8", report.Missing)
	_ = f.SetCellValue(summarySheet, "A9", "Coverage %")
	_ = f.SetCellValue(summarySheet, "B9", report.CoveragePercent)

	_ = f.SetCellValue(summarySheet, "A11", "Identifier")
	_ = f.SetCellValue(summarySheet, "B11", "Expected")
	_ = f.SetCellValue(summarySheet, "C11", "Missing")
	_ = f.SetCellValue(summarySheet, "D11", "Coverage %")
	for i, row := range report.PerIdentifier {
		r := i + 12
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), row.Identifier)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), row.Expected)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", r), row.Missing)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", r), row.CoveragePercent)
	}

	_ = f.SetCellValue(missingSheet, "A1", "Period start")
	_ = f.SetCellValue(missingSheet, "B1", "Identifier")
	r := 2
	for _, missing := range report.MissingPeriods {
		for _, ident := range missing.Identifiers {
			_ = f.SetCellValue(missingSheet, fmt.Sprintf("A%d", r), missing.PeriodStart.Format(time.RFC3339))
			_ = f.SetCellValue(missingSheet, fmt.Sprintf("B%d", r), ident)
			r++
		}
	}

	if len(records) > 0 {
		canonicalSheet := "canonical"
		if _, err := f.NewSheet(canonicalSheet); err != nil {
			return nil, err
		}
		headers := []string{"Period start", "Unit", "Generation (MWh)", "Metered (MWh)", "Curtailed (MWh)", "Capacity factor", "Quality", "Override"}
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(canonicalSheet, cell, h)
		}
		for i, rec := range records {
			row := i + 2
			_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("A%d", row), rec.PeriodStart.UTC().Format(time.RFC3339))
			_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("B%d", row), rec.GenerationUnitID)
			_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("C%d", row), rec.GenerationMWh)
			if rec.MeteredMWh != nil {
				_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("D%d", row), *rec.MeteredMWh)
			}
			if rec.CurtailedMWh != nil {
				_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("E%d", row), *rec.CurtailedMWh)
			}
			if rec.CapacityFactor != nil {
				_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("F%d", row), *rec.CapacityFactor)
			}
			_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("G%d", row), string(rec.QualityFlag))
			_ = f.SetCellValue(canonicalSheet, fmt.Sprintf("H%d", row), rec.IsOverride)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
