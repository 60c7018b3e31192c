package internal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(date, customer, facility, product string, units float64) OrderRecord {
	d, ok := ParseOrderDate(date)
	if !ok {
		panic("bad test date: " + date)
	}
	return OrderRecord{
		CustomerID: customer,
		FacilityID: facility,
		ProductID:  product,
		OrderDate:  d,
		HasDate:    true,
		Units:      units,
	}
}

func TestChooseStrategy(t *testing.T) {
	cases := []struct {
		rows int
		size int64
		want Strategy
	}{
		{1000, 1 << 20, StrategyExact},
		{30_000, 1 << 20, StrategyExact},
		{60_000, 1 << 20, StrategyApproximate},
		{1000, 60 * 1024 * 1024, StrategyApproximate},
		{150_000, 1 << 20, StrategyChunked},
		{1000, 200 * 1024 * 1024, StrategyChunked},
	}
	for _, c := range cases {
		got := ChooseStrategy(c.rows, c.size)
		assert.Equal(t, c.want, got.Strategy, "rows=%d size=%d", c.rows, c.size)
	}
}

func TestComputeDemandPatternsSingleOrder(t *testing.T) {
	records := []OrderRecord{rec("2024-07-08", "C1", "F1", "P1", 5)}
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, 1, p.TotalOrders)
	assert.Equal(t, 5.0, p.AvgQuantity)
	assert.Equal(t, 0.0, p.StdQuantity)
	assert.Equal(t, 0.0, p.TrendSlope)
	assert.True(t, math.IsNaN(p.AvgDaysBetweenOrders), "single order has no defined interval")
	assert.Equal(t, "2024-07-08", p.FirstOrderDate)
	assert.Equal(t, "2024-07-08", p.LastOrderDate)
}

func TestTrendSlopeNeedsThreePoints(t *testing.T) {
	two := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 1),
		rec("2024-07-09", "C1", "F1", "P1", 5),
	}
	patterns := ComputeDemandPatterns(two, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)
	assert.Equal(t, 0.0, patterns[0].TrendSlope)

	three := append(two, rec("2024-07-10", "C1", "F1", "P1", 9))
	patterns = ComputeDemandPatterns(three, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)
	assert.InDelta(t, 4.0, patterns[0].TrendSlope, 1e-9)
}

func TestComputeDemandPatternsFiveOrders(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 10),
		rec("2024-08-15", "C1", "F1", "P1", 20),
		rec("2024-09-20", "C1", "F1", "P1", 30),
		rec("2024-10-25", "C1", "F1", "P1", 20),
		rec("2024-12-04", "C1", "F1", "P1", 20),
	}
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, 5, p.TotalOrders)
	assert.Equal(t, 20.0, p.AvgQuantity)
	assert.Equal(t, 20.0, p.MedianQuantity)
	assert.Equal(t, 10.0, p.MinQuantity)
	assert.Equal(t, 30.0, p.MaxQuantity)
	// Population std of {10,20,30,20,20}.
	assert.InDelta(t, math.Sqrt(40), p.StdQuantity, 1e-9)
	assert.InDelta(t, math.Sqrt(40)/20, p.CoefficientOfVariation, 1e-9)
	// 149 days from 2024-07-08 to 2024-12-04 over 4 gaps.
	assert.InDelta(t, 149.0/4, p.AvgDaysBetweenOrders, 1e-9)
}

func TestAggregateDailySumsSameDayOrders(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 3),
		rec("2024-07-08", "C1", "F1", "P1", 4),
		rec("2024-07-09", "C1", "F1", "P1", 1),
	}
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)

	// Two daily points: 7 and 1.
	assert.Equal(t, 2, patterns[0].TotalOrders)
	assert.Equal(t, 4.0, patterns[0].AvgQuantity)
	assert.Equal(t, 7.0, patterns[0].MaxQuantity)
}

func TestDatelessRowsAreSkipped(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 5),
		{CustomerID: "C1", FacilityID: "F1", ProductID: "P1", Units: 99},
	}
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].TotalOrders)
	assert.Equal(t, 5.0, patterns[0].MaxQuantity)
}

func TestApproximateStrategyMatchesExactOnMeanAndExtremes(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 10),
		rec("2024-07-09", "C1", "F1", "P1", 20),
		rec("2024-07-10", "C1", "F1", "P1", 30),
	}
	exact := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{Strategy: StrategyExact})
	approx := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{Strategy: StrategyApproximate})
	require.Len(t, exact, 1)
	require.Len(t, approx, 1)

	assert.Equal(t, exact[0].AvgQuantity, approx[0].AvgQuantity)
	assert.Equal(t, exact[0].MinQuantity, approx[0].MinQuantity)
	assert.Equal(t, exact[0].MaxQuantity, approx[0].MaxQuantity)
	assert.Equal(t, exact[0].FirstOrderDate, approx[0].FirstOrderDate)
	assert.Equal(t, exact[0].LastOrderDate, approx[0].LastOrderDate)

	// Documented fidelity reductions on the approximate tier.
	assert.Equal(t, approx[0].AvgQuantity, approx[0].MedianQuantity)
	assert.Equal(t, 0.0, approx[0].TrendSlope)
}

func TestMergeChunkPatterns(t *testing.T) {
	chunkA := []DemandPattern{{
		CustomerID: "C1", FacilityID: "F1", ProductID: "P1", ProductName: "Widget",
		TotalOrders: 4, AvgQuantity: 10, StdQuantity: 2, MinQuantity: 5, MaxQuantity: 15,
		MedianQuantity: 10, CoefficientOfVariation: 0.2,
		FirstOrderDate: "2024-01-05", LastOrderDate: "2024-03-01",
		AvgDaysBetweenOrders: 14,
	}}
	chunkB := []DemandPattern{{
		CustomerID: "C1", FacilityID: "F1", ProductID: "P1",
		TotalOrders: 6, AvgQuantity: 20, StdQuantity: 4, MinQuantity: 2, MaxQuantity: 40,
		MedianQuantity: 20, CoefficientOfVariation: 0.2,
		FirstOrderDate: "2024-03-02", LastOrderDate: "2024-06-01",
		AvgDaysBetweenOrders: 18,
	}}

	merged := MergeChunkPatterns([][]DemandPattern{chunkA, chunkB})
	require.Len(t, merged, 1)

	m := merged[0]
	assert.Equal(t, 10, m.TotalOrders)
	assert.Equal(t, 15.0, m.AvgQuantity)
	assert.Equal(t, 3.0, m.StdQuantity)
	assert.Equal(t, 2.0, m.MinQuantity)
	assert.Equal(t, 40.0, m.MaxQuantity)
	assert.Equal(t, "2024-01-05", m.FirstOrderDate)
	assert.Equal(t, "2024-06-01", m.LastOrderDate)
	assert.Equal(t, 16.0, m.AvgDaysBetweenOrders)
	assert.Equal(t, "Widget", m.ProductName)
}

func TestTimeoutReturnsPartialResults(t *testing.T) {
	records := []OrderRecord{
		rec("2024-07-08", "C1", "F1", "P1", 1),
		rec("2024-07-08", "C2", "F1", "P2", 1),
	}
	// A spent budget still yields a valid (possibly empty) slice, not an error.
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{Timeout: time.Nanosecond})
	assert.LessOrEqual(t, len(patterns), 2)
}
