package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemIDRoundTrip(t *testing.T) {
	id := ItemID("C1", "F1", "PROD100")
	assert.Equal(t, "C1_F1_PROD100", id)

	customer, facility, suffix, ok := SplitItemID(id)
	require.True(t, ok)
	assert.Equal(t, "C1", customer)
	assert.Equal(t, "F1", facility)
	assert.Equal(t, "PROD100", suffix)

	// Metric suffixes keep their own underscores.
	_, _, suffix, ok = SplitItemID("C1_F1_TOTAL_UNITS")
	require.True(t, ok)
	assert.Equal(t, "TOTAL_UNITS", suffix)
}

func TestSplitItemIDRejectsMalformedKeys(t *testing.T) {
	for _, id := range []string{"", "C1", "C1_F1", "C1__P1", "_F1_P1", "C1_F1_"} {
		if _, _, _, ok := SplitItemID(id); ok {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestBuildProductForecastRows(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-09", "C1", "F1", "P1", 3),
		rec("2024-07-08", "C1", "F1", "P1", 2),
		rec("2024-07-08", "C1", "F1", "P1", 5),
	}
	rows := BuildProductForecastRows(records, ColumnSet{HasUnits: true})
	require.Len(t, rows, 2)

	// Sorted by timestamp within the series, same-day rows summed.
	assert.Equal(t, "C1_F1_P1", rows[0].ItemID)
	assert.Equal(t, "2024-07-08", rows[0].Timestamp.Format(dateKeyFormat))
	assert.Equal(t, 7.0, rows[0].TargetValue)
	assert.Equal(t, 0, rows[0].DayOfWeek) // Monday
	assert.Equal(t, 7, rows[0].Month)
	assert.Equal(t, 3.0, rows[1].TargetValue)
}

func TestBuildCustomerForecastRowsMetrics(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 2),
		rec("2024-07-08", "C1", "F1", "P2", 3),
	}
	records[0].Price = 10
	records[1].Price = 1

	rows := BuildCustomerForecastRows(records, ColumnSet{HasUnits: true, HasPrice: true})
	require.Len(t, rows, 3)

	byMetric := map[string]float64{}
	for _, r := range rows {
		byMetric[r.MetricType] = r.TargetValue
	}
	assert.Equal(t, 5.0, byMetric[MetricTotalUnits])
	assert.Equal(t, 2.0, byMetric[MetricUniqueProducts])
	assert.Equal(t, 23.0, byMetric[MetricTotalValue]) // 2*10 + 3*1
}

func TestBuildCustomerForecastRowsWithoutUnitsCountsItems(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 1),
		rec("2024-07-08", "C1", "F1", "P2", 1),
	}
	rows := BuildCustomerForecastRows(records, ColumnSet{})
	require.Len(t, rows, 2)

	var metrics []string
	for _, r := range rows {
		metrics = append(metrics, r.MetricType)
	}
	assert.Contains(t, metrics, MetricTotalItems)
	assert.NotContains(t, metrics, MetricTotalUnits)
	assert.NotContains(t, metrics, MetricTotalValue)
}
