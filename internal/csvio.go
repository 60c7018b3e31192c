package internal

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
)

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeDemandPatternsCSV renders demand patterns sorted by customer,
// facility, product. NaN intervals render as empty cells.
func EncodeDemandPatternsCSV(patterns []DemandPattern) ([]byte, error) {
	sorted := make([]DemandPattern, len(patterns))
	copy(sorted, patterns)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CustomerID != b.CustomerID {
			return a.CustomerID < b.CustomerID
		}
		if a.FacilityID != b.FacilityID {
			return a.FacilityID < b.FacilityID
		}
		return a.ProductID < b.ProductID
	})

	header := []string{
		"CustomerID", "FacilityID", "ProductID", "ProductName", "CategoryName",
		"VendorName", "total_orders", "avg_quantity", "std_quantity",
		"median_quantity", "min_quantity", "max_quantity", "cv",
		"trend_slope", "first_order_date", "last_order_date", "avg_days_between_orders",
	}
	rows := make([][]string, 0, len(sorted))
	for _, p := range sorted {
		rows = append(rows, []string{
			p.CustomerID, p.FacilityID, p.ProductID, p.ProductName, p.CategoryName,
			p.VendorName,
			strconv.Itoa(p.TotalOrders),
			formatFloat(p.AvgQuantity),
			formatFloat(p.StdQuantity),
			formatFloat(p.MedianQuantity),
			formatFloat(p.MinQuantity),
			formatFloat(p.MaxQuantity),
			formatFloat(p.CoefficientOfVariation),
			formatFloat(p.TrendSlope),
			p.FirstOrderDate, p.LastOrderDate,
			formatFloat(p.AvgDaysBetweenOrders),
		})
	}
	return writeCSV(header, rows)
}

// EncodeProductLookupCSV renders the product catalog sorted by product ID.
func EncodeProductLookupCSV(entries []ProductLookupEntry) ([]byte, error) {
	sorted := make([]ProductLookupEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	header := []string{"ProductID", "ProductName", "CategoryName", "VendorName"}
	rows := make([][]string, 0, len(sorted))
	for _, e := range sorted {
		rows = append(rows, []string{e.ProductID, e.ProductName, e.CategoryName, e.VendorName})
	}
	return writeCSV(header, rows)
}

// EncodeRelationshipsCSV renders customer-product relationships in their
// build order (customer, facility, product).
func EncodeRelationshipsCSV(rels []CustomerProductRelationship) ([]byte, error) {
	header := []string{
		"CustomerID", "FacilityID", "ProductID", "ProductName",
		"CategoryName", "VendorName", "order_count", "first_order", "last_order",
	}
	rows := make([][]string, 0, len(rels))
	for _, r := range rels {
		rows = append(rows, []string{
			r.CustomerID, r.FacilityID, r.ProductID, r.ProductName,
			r.CategoryName, r.VendorName,
			strconv.Itoa(r.OrderCount), r.FirstOrder, r.LastOrder,
		})
	}
	return writeCSV(header, rows)
}

func readCSV(data []byte, wantCols int) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = wantCols
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty csv")
	}
	return rows[1:], nil
}

// DecodeProductLookupCSV parses a product catalog produced by
// EncodeProductLookupCSV.
func DecodeProductLookupCSV(data []byte) ([]ProductLookupEntry, error) {
	rows, err := readCSV(data, 4)
	if err != nil {
		return nil, err
	}
	entries := make([]ProductLookupEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ProductLookupEntry{
			ProductID:    row[0],
			ProductName:  row[1],
			CategoryName: row[2],
			VendorName:   row[3],
		})
	}
	return entries, nil
}

// DecodeRelationshipsCSV parses a relationship table produced by
// EncodeRelationshipsCSV.
func DecodeRelationshipsCSV(data []byte) ([]CustomerProductRelationship, error) {
	rows, err := readCSV(data, 9)
	if err != nil {
		return nil, err
	}
	rels := make([]CustomerProductRelationship, 0, len(rows))
	for _, row := range rows {
		count, err := strconv.Atoi(row[6])
		if err != nil {
			return nil, fmt.Errorf("bad order_count %q: %w", row[6], err)
		}
		rels = append(rels, CustomerProductRelationship{
			CustomerID:   row[0],
			FacilityID:   row[1],
			ProductID:    row[2],
			ProductName:  row[3],
			CategoryName: row[4],
			VendorName:   row[5],
			OrderCount:   count,
			FirstOrder:   row[7],
			LastOrder:    row[8],
		})
	}
	return rels, nil
}

// EncodeForecastRowsCSV renders forecast spine rows in long format.
func EncodeForecastRowsCSV(rows []ForecastRow) ([]byte, error) {
	header := []string{"item_id", "timestamp", "target_value", "metric_type", "day_of_week", "month"}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.ItemID, r.Timestamp.Format(dateKeyFormat),
			formatFloat(r.TargetValue),
			r.MetricType,
			strconv.Itoa(r.DayOfWeek),
			strconv.Itoa(r.Month),
		})
	}
	return writeCSV(header, out)
}

// EncodeTemporalFeaturesCSV renders per-record calendar features aligned
// with the input order rows.
func EncodeTemporalFeaturesCSV(features []TemporalFeatures) ([]byte, error) {
	header := []string{
		"date", "year", "month", "day", "day_of_week", "quarter",
		"is_weekend", "is_holiday", "holiday_name",
		"day_of_week_sin", "day_of_week_cos",
		"day_of_month_sin", "day_of_month_cos",
		"month_sin", "month_cos",
	}
	rows := make([][]string, 0, len(features))
	for _, f := range features {
		rows = append(rows, []string{
			f.Date,
			strconv.Itoa(f.Year), strconv.Itoa(f.Month), strconv.Itoa(f.Day),
			strconv.Itoa(f.DayOfWeek), strconv.Itoa(f.Quarter),
			strconv.FormatBool(f.IsWeekend), strconv.FormatBool(f.IsHoliday), f.HolidayName,
			formatFloat(f.DayOfWeekSin), formatFloat(f.DayOfWeekCos),
			formatFloat(f.DayOfMonthSin), formatFloat(f.DayOfMonthCos),
			formatFloat(f.MonthOfYearSin), formatFloat(f.MonthOfYearCos),
		})
	}
	return writeCSV(header, rows)
}
