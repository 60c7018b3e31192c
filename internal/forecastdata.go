package internal

import (
	"sort"
	"strings"
	"time"
)

// Customer-aggregate metric types. TOTAL_UNITS and TOTAL_ITEMS are
// mutually exclusive: units when the source had an explicit units column,
// items (row counts) otherwise.
const (
	MetricTotalUnits     = "TOTAL_UNITS"
	MetricTotalItems     = "TOTAL_ITEMS"
	MetricUniqueProducts = "UNIQUE_PRODUCTS"
	MetricTotalValue     = "TOTAL_VALUE"
)

// ForecastRow is one timestamp-indexed record in the flat format the
// forecasting service trains and predicts on. ProductID and MetricType
// are mutually exclusive: product-level rows carry the former,
// customer-aggregate rows the latter.
type ForecastRow struct {
	ItemID      string
	Timestamp   time.Time
	TargetValue float64
	CustomerID  string
	FacilityID  string
	ProductID   string
	MetricType  string
	DayOfWeek   int // Monday=0
	Month       int
}

// ItemID builds the forecasting service's series key.
func ItemID(customerID, facilityID, suffix string) string {
	return customerID + "_" + facilityID + "_" + suffix
}

// SplitItemID decomposes an item_id back into customer, facility and the
// trailing product id or metric name. ok is false when the key does not
// have at least three underscore-delimited parts.
func SplitItemID(itemID string) (customerID, facilityID, suffix string, ok bool) {
	parts := strings.SplitN(itemID, "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func sortForecastRows(rows []ForecastRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ItemID != rows[j].ItemID {
			return rows[i].ItemID < rows[j].ItemID
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}

// BuildProductForecastRows reshapes a normalized batch into product-level
// forecast rows: one row per (customer, facility, product, day) with the
// day's summed quantity. DayOfWeek and Month come from the aggregated
// series date, and the output is sorted by (item_id, timestamp) as the
// forecasting service requires strictly ordered per-series input.
func BuildProductForecastRows(records []OrderRecord, cols ColumnSet) []ForecastRow {
	groups := aggregateDaily(records, cols)
	var rows []ForecastRow
	for _, g := range groups {
		itemID := ItemID(g.key.customer, g.key.facility, g.key.product)
		for _, p := range g.points {
			ts, err := time.Parse(dateKeyFormat, p.date)
			if err != nil {
				continue
			}
			rows = append(rows, ForecastRow{
				ItemID:      itemID,
				Timestamp:   ts,
				TargetValue: p.quantity,
				CustomerID:  g.key.customer,
				FacilityID:  g.key.facility,
				ProductID:   g.key.product,
				DayOfWeek:   mondayWeekday(ts),
				Month:       int(ts.Month()),
			})
		}
	}
	sortForecastRows(rows)
	return rows
}

// BuildCustomerForecastRows reshapes a normalized batch into
// customer-aggregate forecast rows, one series per metric type: total
// units (or total items without a units column), unique products per day,
// and total order value when a price column exists.
func BuildCustomerForecastRows(records []OrderRecord, cols ColumnSet) []ForecastRow {
	type dayKey struct {
		customer, facility, date string
	}
	type dayAcc struct {
		total    float64
		value    float64
		products map[string]bool
	}
	byDay := make(map[dayKey]*dayAcc)
	var order []dayKey
	for _, r := range records {
		if !r.HasDate {
			continue
		}
		key := dayKey{r.CustomerID, r.FacilityID, r.OrderDate.Format(dateKeyFormat)}
		a, ok := byDay[key]
		if !ok {
			a = &dayAcc{products: make(map[string]bool)}
			byDay[key] = a
			order = append(order, key)
		}
		a.total += r.Units
		a.products[r.ProductID] = true
		if cols.HasPrice {
			if cols.HasUnits {
				a.value += r.Units * r.Price
			} else {
				a.value += r.Price
			}
		}
	}

	totalMetric := MetricTotalItems
	if cols.HasUnits {
		totalMetric = MetricTotalUnits
	}

	var rows []ForecastRow
	for _, key := range order {
		a := byDay[key]
		ts, err := time.Parse(dateKeyFormat, key.date)
		if err != nil {
			continue
		}
		base := ForecastRow{
			Timestamp:  ts,
			CustomerID: key.customer,
			FacilityID: key.facility,
			DayOfWeek:  mondayWeekday(ts),
			Month:      int(ts.Month()),
		}

		total := base
		total.ItemID = ItemID(key.customer, key.facility, totalMetric)
		total.MetricType = totalMetric
		total.TargetValue = a.total
		rows = append(rows, total)

		unique := base
		unique.ItemID = ItemID(key.customer, key.facility, MetricUniqueProducts)
		unique.MetricType = MetricUniqueProducts
		unique.TargetValue = float64(len(a.products))
		rows = append(rows, unique)

		if cols.HasPrice {
			value := base
			value.ItemID = ItemID(key.customer, key.facility, MetricTotalValue)
			value.MetricType = MetricTotalValue
			value.TargetValue = a.value
			rows = append(rows, value)
		}
	}
	sortForecastRows(rows)
	return rows
}
