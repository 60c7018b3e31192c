package internal

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePipelineCSV() []byte {
	return []byte(strings.Join([]string{
		"CreateDate,CustomerID,FacilityID,ProductID,OrderUnits,ProductName,CategoryName,VendorName,Price",
		"2024-07-08,C1,F1,PROD100,5,Widget,Hardware,Acme,9.99",
		"2024-07-09,C1,F1,PROD100,3,Widget,Hardware,Acme,9.99",
		"2024-07-10,C1,F1,PROD200,2,Gadget,Hardware,Acme,4.50",
		"2024-07-10,C2,F2,PROD100,1,Widget,Hardware,Acme,9.99",
	}, "\n"))
}

func TestRunFeaturePipeline(t *testing.T) {
	outputs, opts, err := RunFeaturePipeline(samplePipelineCSV())
	require.NoError(t, err)

	assert.Equal(t, StrategyExact, opts.Strategy)
	assert.Len(t, outputs.Patterns, 3)
	assert.Len(t, outputs.Products, 2)
	assert.Len(t, outputs.Relationships, 3)
	assert.Len(t, outputs.Features, 4)
	assert.NotEmpty(t, outputs.ProductRows)
	assert.NotEmpty(t, outputs.CustomerRows)

	// Every forecast row key decomposes back to its source customer and facility.
	for _, row := range outputs.ProductRows {
		customer, facility, product, ok := SplitItemID(row.ItemID)
		require.True(t, ok)
		assert.Equal(t, row.CustomerID, customer)
		assert.Equal(t, row.FacilityID, facility)
		assert.Equal(t, row.ProductID, product)
	}
}

func TestRunFeaturePipelineBadHeader(t *testing.T) {
	_, _, err := RunFeaturePipeline([]byte(""))
	assert.Error(t, err)
}

func TestRunFeaturePipelineNoDates(t *testing.T) {
	data := []byte(strings.Join([]string{
		"CreateDate,CustomerID,FacilityID,ProductID,OrderUnits",
		"garbage,C1,F1,PROD100,5",
	}, "\n"))

	outputs, _, err := RunFeaturePipeline(data)
	require.NoError(t, err)
	assert.Empty(t, outputs.Patterns, "dateless rows produce no demand series")
	assert.Len(t, outputs.Relationships, 1, "lookups still build from dateless rows")
}

func TestEncodeDemandPatternsCSVRendersNaNEmpty(t *testing.T) {
	records := []OrderRecord{rec("2024-07-08", "C1", "F1", "P1", 5)}
	patterns := ComputeDemandPatterns(records, ColumnSet{HasUnits: true}, AggregationOptions{})
	require.Len(t, patterns, 1)

	data, err := EncodeDemandPatternsCSV(patterns)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], ","), "undefined avg interval renders as an empty cell: %s", lines[1])
}

func TestEncodeForecastRowsCSV(t *testing.T) {
	records := []OrderRecord{rec("2024-07-08", "C1", "F1", "P1", 5)}
	rows := BuildProductForecastRows(records, ColumnSet{HasUnits: true})

	data, err := EncodeForecastRowsCSV(rows)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "item_id,timestamp,target_value,metric_type,day_of_week,month", lines[0])
	assert.Equal(t, "C1_F1_P1,2024-07-08,5,,0,7", lines[1])
}

func TestChunkedPipelineMatchesApproximateTotals(t *testing.T) {
	var b strings.Builder
	b.WriteString("CreateDate,CustomerID,FacilityID,ProductID,OrderUnits\n")
	for i := 0; i < 90; i++ {
		fmt.Fprintf(&b, "2024-07-%02d,C1,F1,PROD100,%d\n", i%28+1, i%5+1)
	}
	data := []byte(b.String())

	records, cols, err := ParseOrders(data)
	require.NoError(t, err)
	direct := ComputeDemandPatterns(records, cols, AggregationOptions{Strategy: StrategyApproximate})

	var chunks [][]DemandPattern
	_, err = ParseOrdersChunks(data, 30, func(chunk []OrderRecord, chunkCols ColumnSet) error {
		chunks = append(chunks, ComputeDemandPatterns(chunk, chunkCols, AggregationOptions{Strategy: StrategyApproximate}))
		return nil
	})
	require.NoError(t, err)
	merged := MergeChunkPatterns(chunks)

	require.Len(t, direct, 1)
	require.Len(t, merged, 1)
	assert.Equal(t, direct[0].TotalOrders, merged[0].TotalOrders)
	assert.Equal(t, direct[0].MinQuantity, merged[0].MinQuantity)
	assert.Equal(t, direct[0].MaxQuantity, merged[0].MaxQuantity)
	assert.Equal(t, direct[0].FirstOrderDate, merged[0].FirstOrderDate)
	assert.Equal(t, direct[0].LastOrderDate, merged[0].LastOrderDate)
}
