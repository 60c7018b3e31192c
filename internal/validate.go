package internal

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Validation verdicts.
const (
	ValidationPassed       = "PASSED"
	ValidationPassedWarn   = "PASSED_WITH_WARNINGS"
	ValidationFailed       = "FAILED"
	nullRateFailThreshold  = 0.10 // issue above 10% nulls in a critical column
	warningPassLimit       = 5
	qualityScoreThreshold  = 70.0
	duplicateRateThreshold = 5.0
)

// ValidationStats carries the dataset-level numbers of a validation run.
type ValidationStats struct {
	TotalRecords    int            `json:"total_records"`
	TotalColumns    int            `json:"total_columns"`
	DateRangeStart  string         `json:"date_range_start,omitempty"`
	DateRangeEnd    string         `json:"date_range_end,omitempty"`
	DateSpanDays    int            `json:"date_span_days"`
	UniqueCustomers int            `json:"unique_customers"`
	UniqueProducts  int            `json:"unique_products"`
	NullCounts      map[string]int `json:"null_counts,omitempty"`
}

// DataProfile holds the secondary profiling metrics included in the full
// report.
type DataProfile struct {
	DuplicateRecords     int     `json:"duplicate_records"`
	DuplicatePercent     float64 `json:"duplicate_percent"`
	UnparseableDates     int     `json:"unparseable_dates"`
	NegativeQuantities   int     `json:"negative_quantities"`
	ZeroQuantities       int     `json:"zero_quantities"`
	NegativePrices       int     `json:"negative_prices"`
	ZeroPrices           int     `json:"zero_prices"`
	CustomerFacilityRels int     `json:"customer_facility_relationships"`
}

// ValidationReport is the full data-quality report written per input
// file. IsValid is false iff at least one issue exists.
type ValidationReport struct {
	IsValid         bool            `json:"is_valid"`
	Issues          []string        `json:"issues"`
	Warnings        []string        `json:"warnings"`
	Stats           ValidationStats `json:"stats"`
	Profile         DataProfile     `json:"data_profile"`
	QualityScore    float64         `json:"data_quality_score"`
	Recommendations []string        `json:"recommendations"`
	Summary         string          `json:"validation_summary"`
	ReportTimestamp string          `json:"report_timestamp"`
}

// criticalColumns are checked for null rates; missing any required one
// invalidates the report.
var criticalColumns = []string{"CreateDate", "CustomerID", "FacilityID", "ProductID", "OrderUnits"}

// ValidateOrders runs the full data-quality pass over a raw CSV payload.
// It is a pure function of (data, now): no side effects beyond the
// returned report, so runs are reproducible for a given snapshot.
func ValidateOrders(data []byte, now time.Time) *ValidationReport {
	report := &ValidationReport{
		IsValid:         true,
		Issues:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
		ReportTimestamp: now.UTC().Format(time.RFC3339),
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		report.IsValid = false
		report.Issues = append(report.Issues, fmt.Sprintf("Unable to read CSV header: %v", err))
		report.Summary = ValidationFailed
		return report
	}
	cols := resolveColumns(header)
	report.Stats.TotalColumns = len(header)

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Malformed CSV row skipped: %v", err))
			continue
		}
		rows = append(rows, row)
	}
	report.Stats.TotalRecords = len(rows)

	// 1. Required-column presence.
	var missing []string
	for _, spec := range orderColumns {
		if spec.required && cols[spec.canonical] < 0 {
			missing = append(missing, spec.canonical)
		}
	}
	if cols["OrderUnits"] < 0 {
		missing = append(missing, "OrderUnits")
	}
	if len(missing) > 0 {
		report.IsValid = false
		report.Issues = append(report.Issues, fmt.Sprintf("Missing required columns: %s", strings.Join(missing, ", ")))
	}

	if len(rows) == 0 {
		report.IsValid = false
		report.Issues = append(report.Issues, "Dataset contains no records")
		finishReport(report, 0, 0, 0)
		return report
	}

	cell := func(row []string, canonical string) (string, bool) {
		i := cols[canonical]
		if i < 0 {
			return "", false
		}
		if i >= len(row) {
			return "", true
		}
		return strings.TrimSpace(row[i]), true
	}

	// 2. Null rates on critical columns.
	report.Stats.NullCounts = map[string]int{}
	missingCriticalCells := 0
	for _, col := range criticalColumns {
		if cols[col] < 0 {
			continue
		}
		nulls := 0
		for _, row := range rows {
			if v, _ := cell(row, col); v == "" {
				nulls++
			}
		}
		if nulls == 0 {
			continue
		}
		report.Stats.NullCounts[col] = nulls
		missingCriticalCells += nulls
		pct := float64(nulls) / float64(len(rows)) * 100
		report.Warnings = append(report.Warnings, fmt.Sprintf("Column %s has %d null values (%.2f%%)", col, nulls, pct))
		if float64(nulls) > float64(len(rows))*nullRateFailThreshold {
			report.IsValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("Column %s has excessive null values: %d (%.2f%%)", col, nulls, pct))
		}
	}

	// 3. Date parseability and plausibility.
	validityIssues := 0
	if cols["CreateDate"] >= 0 {
		var minDate, maxDate time.Time
		parsed, unparseable := 0, 0
		for _, row := range rows {
			v, _ := cell(row, "CreateDate")
			if v == "" {
				continue
			}
			d, ok := ParseOrderDate(v)
			if !ok {
				unparseable++
				continue
			}
			parsed++
			if minDate.IsZero() || d.Before(minDate) {
				minDate = d
			}
			if d.After(maxDate) {
				maxDate = d
			}
		}
		report.Profile.UnparseableDates = unparseable
		validityIssues += unparseable
		if parsed == 0 && unparseable > 0 {
			report.IsValid = false
			report.Issues = append(report.Issues, fmt.Sprintf("Invalid date format in CreateDate: %d rows, none parseable", unparseable))
		} else if unparseable > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Found %d unparseable dates in CreateDate", unparseable))
		}
		if parsed > 0 {
			report.Stats.DateRangeStart = minDate.Format(dateKeyFormat)
			report.Stats.DateRangeEnd = maxDate.Format(dateKeyFormat)
			report.Stats.DateSpanDays = int(maxDate.Sub(minDate).Hours() / 24)
			if minDate.Before(now.AddDate(-5, 0, 0)) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Dates extend unusually far into past: %s", report.Stats.DateRangeStart))
			}
			if maxDate.After(now.AddDate(2, 0, 0)) {
				report.Warnings = append(report.Warnings, fmt.Sprintf("Dates extend unusually far into future: %s", report.Stats.DateRangeEnd))
			}
		}
	}

	// 4. Numeric sign checks: warnings only, never invalidating.
	signCheck := func(canonical, label string) (neg, zero int) {
		if cols[canonical] < 0 {
			return 0, 0
		}
		for _, row := range rows {
			v, _ := cell(row, canonical)
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			if f < 0 {
				neg++
			} else if f == 0 {
				zero++
			}
		}
		if neg > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Found %d records with negative %s", neg, label))
		}
		if zero > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Found %d records with zero %s", zero, label))
		}
		return neg, zero
	}
	report.Profile.NegativeQuantities, report.Profile.ZeroQuantities = signCheck("OrderUnits", "OrderUnits")
	report.Profile.NegativePrices, report.Profile.ZeroPrices = signCheck("Price", "Price")
	validityIssues += report.Profile.NegativeQuantities

	// Referential consistency: a product id should map to one name.
	if cols["ProductID"] >= 0 && cols["ProductName"] >= 0 {
		names := make(map[string]map[string]bool)
		for _, row := range rows {
			id, _ := cell(row, "ProductID")
			name, _ := cell(row, "ProductName")
			if id == "" || name == "" {
				continue
			}
			if names[id] == nil {
				names[id] = make(map[string]bool)
			}
			names[id][name] = true
		}
		inconsistent := 0
		for _, set := range names {
			if len(set) > 1 {
				inconsistent++
			}
		}
		if inconsistent > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Found %d ProductIDs with multiple ProductNames", inconsistent))
		}
	}

	// Unique counts and duplicate detection.
	uniques := func(canonical string) int {
		if cols[canonical] < 0 {
			return 0
		}
		seen := make(map[string]bool)
		for _, row := range rows {
			if v, _ := cell(row, canonical); v != "" {
				seen[v] = true
			}
		}
		return len(seen)
	}
	report.Stats.UniqueCustomers = uniques("CustomerID")
	report.Stats.UniqueProducts = uniques("ProductID")

	if cols["CustomerID"] >= 0 && cols["FacilityID"] >= 0 {
		pairs := make(map[string]bool)
		for _, row := range rows {
			c, _ := cell(row, "CustomerID")
			f, _ := cell(row, "FacilityID")
			pairs[c+"\x1f"+f] = true
		}
		report.Profile.CustomerFacilityRels = len(pairs)
	}

	seen := make(map[string]bool, len(rows))
	duplicates := 0
	for _, row := range rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			duplicates++
		}
		seen[key] = true
	}
	report.Profile.DuplicateRecords = duplicates
	report.Profile.DuplicatePercent = float64(duplicates) / float64(len(rows)) * 100

	finishReport(report, missingCriticalCells, validityIssues, len(rows))
	return report
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// finishReport computes the quality score, recommendations and verdict.
// The score equally weights completeness, validity and consistency, each
// clamped to [0, 100].
func finishReport(report *ValidationReport, missingCritical, validityIssues, rowCount int) {
	if rowCount > 0 {
		completeness := clampScore(100 - float64(missingCritical)/float64(rowCount)*100)
		validity := clampScore(100 - float64(validityIssues)/float64(rowCount)*100)
		consistency := clampScore(100 - report.Profile.DuplicatePercent)
		report.QualityScore = (completeness + validity + consistency) / 3
	}

	if report.QualityScore < qualityScoreThreshold {
		report.Recommendations = append(report.Recommendations, "Data quality is below acceptable threshold (70%). Immediate attention required.")
	}
	if report.Profile.DuplicatePercent > duplicateRateThreshold {
		report.Recommendations = append(report.Recommendations, "High duplicate record percentage detected. Consider data deduplication.")
	}
	if missingCritical > 0 {
		report.Recommendations = append(report.Recommendations, "Missing values found in critical columns. Data cleaning recommended.")
	}
	if validityIssues > 0 {
		report.Recommendations = append(report.Recommendations, "Data validity issues detected. Review data formats and business rules.")
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = append(report.Recommendations, "Data quality is acceptable. Continue with regular monitoring.")
	}

	switch {
	case len(report.Issues) == 0 && len(report.Warnings) <= warningPassLimit:
		report.Summary = ValidationPassed
	case len(report.Issues) == 0:
		report.Summary = ValidationPassedWarn
	default:
		report.Summary = ValidationFailed
		report.IsValid = false
	}
}

// ValidationSummary is the abbreviated report written next to the full
// one for dashboard consumption.
type ValidationSummary struct {
	SourceKey    string  `json:"source_key"`
	Verdict      string  `json:"verdict"`
	IsValid      bool    `json:"is_valid"`
	QualityScore float64 `json:"data_quality_score"`
	TotalRecords int     `json:"total_records"`
	IssueCount   int     `json:"issue_count"`
	WarningCount int     `json:"warning_count"`
}

// Summarize produces the abbreviated report for a source key.
func (r *ValidationReport) Summarize(sourceKey string) ValidationSummary {
	return ValidationSummary{
		SourceKey:    sourceKey,
		Verdict:      r.Summary,
		IsValid:      r.IsValid,
		QualityScore: r.QualityScore,
		TotalRecords: r.Stats.TotalRecords,
		IssueCount:   len(r.Issues),
		WarningCount: len(r.Warnings),
	}
}
