package internal

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// GenerateQualityReportPDF renders a validation report as a one-page
// PDF: verdict and scores on top, then issue/warning/recommendation
// tables. The PDF is stored next to the JSON report for email handoff.
func GenerateQualityReportPDF(sourceKey string, report *ValidationReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	left, top, right, _ := pdf.GetMargins()
	usableW := pageW - left - right

	pdf.SetFont("Arial", "B", 18)
	pdf.SetXY(left, top)
	pdf.CellFormat(usableW, 10, "Data Quality Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(usableW, 7, "Source: "+sourceKey, "", 1, "L", false, 0, "")
	pdf.CellFormat(usableW, 7, "Verdict: "+report.Summary, "", 1, "L", false, 0, "")
	pdf.CellFormat(usableW, 7, fmt.Sprintf("Quality score: %.1f / 100", report.QualityScore), "", 1, "L", false, 0, "")
	pdf.CellFormat(usableW, 7, fmt.Sprintf("Records: %d  Duplicates: %d  Unique products: %d  Unique customers: %d",
		report.Stats.TotalRecords, report.Profile.DuplicateRecords,
		report.Stats.UniqueProducts, report.Stats.UniqueCustomers), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(usableW, 8, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, line := range lines {
			pdf.MultiCell(usableW, 5.5, "- "+line, "", "L", false)
		}
		pdf.Ln(2)
	}

	section(fmt.Sprintf("Issues (%d)", len(report.Issues)), report.Issues)
	section(fmt.Sprintf("Warnings (%d)", len(report.Warnings)), report.Warnings)
	section("Recommendations", report.Recommendations)

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
