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

// OrderRecord is one normalized row of raw order data. IDs are kept as
// strings because source files mix numeric and prefixed identifiers
// (e.g. "288563" and "PROD288563"). OrderDate is the zero time when the
// source value could not be parsed; HasDate distinguishes that case.
type OrderRecord struct {
	CustomerID   string
	FacilityID   string
	ProductID    string
	ProductName  string
	CategoryName string
	VendorName   string
	OrderDate    time.Time
	HasDate      bool
	Units        float64
	Price        float64
}

// ColumnSet reports which optional logical columns were present in the
// source header, plus per-run parse counters the validator surfaces later.
type ColumnSet struct {
	HasUnits       bool
	HasPrice       bool
	HasProductName bool
	HasCategory    bool
	HasVendor      bool
	BadDates       int
	BadUnits       int
}

// columnSpec declares one canonical column and the source header synonyms
// that map onto it, in preference order (richer names first).
type columnSpec struct {
	canonical string
	synonyms  []string
	required  bool
}

// orderColumns is the full synonym table for raw order files. Header
// matching is case-, space- and underscore-insensitive.
var orderColumns = []columnSpec{
	{canonical: "CreateDate", synonyms: []string{"createdate", "orderdate", "date"}, required: true},
	{canonical: "CustomerID", synonyms: []string{"customerid"}, required: true},
	{canonical: "FacilityID", synonyms: []string{"facilityid"}, required: true},
	{canonical: "ProductID", synonyms: []string{"productid"}, required: true},
	{canonical: "OrderUnits", synonyms: []string{"orderunits", "quantity", "units"}, required: false},
	{canonical: "ProductName", synonyms: []string{"productdescription", "productname"}, required: false},
	{canonical: "CategoryName", synonyms: []string{"productcategory", "categoryname", "category"}, required: false},
	{canonical: "VendorName", synonyms: []string{"vendorname", "vendor"}, required: false},
	{canonical: "Price", synonyms: []string{"price", "unitprice"}, required: false},
}

// normalizeHeader folds a raw header cell to the comparison form used by
// the synonym table.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "_", "")
	return h
}

// resolveColumns maps a raw header row onto canonical column indexes.
// A canonical column absent from the header gets index -1.
func resolveColumns(header []string) map[string]int {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	out := make(map[string]int, len(orderColumns))
	for _, spec := range orderColumns {
		out[spec.canonical] = -1
		for _, syn := range spec.synonyms {
			for i, n := range normalized {
				if n == syn {
					out[spec.canonical] = i
					break
				}
			}
			if out[spec.canonical] >= 0 {
				break
			}
		}
	}
	return out
}

// MissingRequiredColumns returns the canonical names of required columns
// that could not be resolved from the header.
func MissingRequiredColumns(header []string) []string {
	cols := resolveColumns(header)
	var missing []string
	for _, spec := range orderColumns {
		if spec.required && cols[spec.canonical] < 0 {
			missing = append(missing, spec.canonical)
		}
	}
	return missing
}

// DefaultProductName synthesizes a product name when the source file
// carries none.
func DefaultProductName(productID string) string {
	return "Product " + productID
}

// DefaultCategoryName is the catch-all category for files without one.
const DefaultCategoryName = "General"

// DefaultVendorName synthesizes a vendor name from the product id,
// stripping the well-known "PROD" prefix when present.
func DefaultVendorName(productID string) string {
	return "Vendor" + strings.ReplaceAll(productID, "PROD", "")
}

// ParseOrders reads a full CSV payload (header row required) and returns
// normalized order records. Rows with unparseable dates or quantities are
// kept with the bad field zeroed and counted in the returned ColumnSet;
// only a missing header or malformed CSV framing is an error.
func ParseOrders(data []byte) ([]OrderRecord, ColumnSet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, ColumnSet{}, fmt.Errorf("reading csv header: %w", err)
	}
	cols := resolveColumns(header)

	var set ColumnSet
	set.HasUnits = cols["OrderUnits"] >= 0
	set.HasPrice = cols["Price"] >= 0
	set.HasProductName = cols["ProductName"] >= 0
	set.HasCategory = cols["CategoryName"] >= 0
	set.HasVendor = cols["VendorName"] >= 0

	var records []OrderRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, set, fmt.Errorf("reading csv row: %w", err)
		}
		rec := recordFromRow(row, cols, &set)
		records = append(records, rec)
	}
	return records, set, nil
}

// ParseOrdersChunks reads the CSV payload in fixed-size batches and calls
// fn once per batch. Used by the chunked aggregation strategy so peak
// memory stays bounded by chunkRows regardless of file size.
func ParseOrdersChunks(data []byte, chunkRows int, fn func(chunk []OrderRecord, cols ColumnSet) error) (ColumnSet, error) {
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return ColumnSet{}, fmt.Errorf("reading csv header: %w", err)
	}
	cols := resolveColumns(header)

	var set ColumnSet
	set.HasUnits = cols["OrderUnits"] >= 0
	set.HasPrice = cols["Price"] >= 0
	set.HasProductName = cols["ProductName"] >= 0
	set.HasCategory = cols["CategoryName"] >= 0
	set.HasVendor = cols["VendorName"] >= 0

	chunk := make([]OrderRecord, 0, chunkRows)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return set, fmt.Errorf("reading csv row: %w", err)
		}
		chunk = append(chunk, recordFromRow(row, cols, &set))
		if len(chunk) == chunkRows {
			if err := fn(chunk, set); err != nil {
				return set, err
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := fn(chunk, set); err != nil {
			return set, err
		}
	}
	return set, nil
}

func recordFromRow(row []string, cols map[string]int, set *ColumnSet) OrderRecord {
	cell := func(canonical string) string {
		i := cols[canonical]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := OrderRecord{
		CustomerID:   cell("CustomerID"),
		FacilityID:   cell("FacilityID"),
		ProductID:    cell("ProductID"),
		ProductName:  cell("ProductName"),
		CategoryName: cell("CategoryName"),
		VendorName:   cell("VendorName"),
	}

	if d, ok := ParseOrderDate(cell("CreateDate")); ok {
		rec.OrderDate = d
		rec.HasDate = true
	} else {
		set.BadDates++
	}

	if set.HasUnits {
		raw := cell("OrderUnits")
		if raw == "" {
			set.BadUnits++
		} else if v, err := strconv.ParseFloat(raw, 64); err == nil {
			rec.Units = v
		} else {
			set.BadUnits++
		}
	} else {
		// Without an explicit units column each row counts as one unit.
		rec.Units = 1
	}

	if set.HasPrice {
		if v, err := strconv.ParseFloat(cell("Price"), 64); err == nil {
			rec.Price = v
		}
	}
	return rec
}
