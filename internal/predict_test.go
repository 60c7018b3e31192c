package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForecastService struct {
	resp ForecastResponse
	err  error
	reqs []ForecastRequest
}

func (f *fakeForecastService) Forecast(ctx context.Context, req ForecastRequest) (ForecastResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return ForecastResponse{}, f.err
	}
	return f.resp, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
}

func testRelationship() CustomerProductRelationship {
	return CustomerProductRelationship{
		CustomerID:   "C1",
		FacilityID:   "F1",
		ProductID:    "PROD100",
		ProductName:  "Widget",
		CategoryName: "Hardware",
		VendorName:   "Acme",
		OrderCount:   15,
		FirstOrder:   "2024-01-05",
		LastOrder:    "2024-11-20",
	}
}

func newTestOrchestrator(svc ForecastService) *Orchestrator {
	o := NewOrchestrator(svc, DefaultFeatureMappings())
	o.Now = fixedNow
	return o
}

func TestPredictProductsUsesServiceQuantiles(t *testing.T) {
	svc := &fakeForecastService{resp: ForecastResponse{Quantiles: map[string][]float64{
		"0.1": {1, 2},
		"0.5": {3, 4},
		"0.9": {5, 6},
	}}}
	orch := newTestOrchestrator(svc)

	results := orch.PredictProducts(context.Background(), "C1", "F1", []CustomerProductRelationship{testRelationship()})
	require.Len(t, results, 1)

	r := results[0]
	assert.False(t, r.Fallback)
	assert.Equal(t, "PROD100", r.ProductID)
	assert.Equal(t, 15, r.OrderHistory.OrderCount)
	require.Len(t, r.Predictions, 2)

	first := r.Predictions["2024-12-15"]
	assert.Equal(t, QuantileForecast{P10: 1, P50: 3, P90: 5, Mean: 3}, first)
}

func TestPredictProductsFallsBackOnError(t *testing.T) {
	svc := &fakeForecastService{err: errors.New("endpoint down")}
	orch := newTestOrchestrator(svc)

	results := orch.PredictProducts(context.Background(), "C1", "F1", []CustomerProductRelationship{testRelationship()})
	require.Len(t, results, 1)

	r := results[0]
	assert.True(t, r.Fallback)
	require.Len(t, r.Predictions, FallbackHorizonDays)

	q := r.Predictions["2024-12-15"]
	assert.Equal(t, 15.0, q.P50)
	assert.Equal(t, 7.5, q.P10)
	assert.Equal(t, 30.0, q.P90)
}

func TestFallbackFloorsBaseAtOne(t *testing.T) {
	rel := testRelationship()
	rel.OrderCount = 0
	orch := newTestOrchestrator(nil)

	results := orch.PredictProducts(context.Background(), "C1", "F1", []CustomerProductRelationship{rel})
	require.Len(t, results, 1)
	assert.True(t, results[0].Fallback)
	assert.Equal(t, 1.0, results[0].Predictions["2024-12-15"].P50)
}

func TestNormalizeResponseReordersInvertedQuantiles(t *testing.T) {
	svc := &fakeForecastService{resp: ForecastResponse{Quantiles: map[string][]float64{
		"0.1": {9},
		"0.5": {-2},
		"0.9": {4},
	}}}
	orch := newTestOrchestrator(svc)

	results := orch.PredictProducts(context.Background(), "C1", "F1", []CustomerProductRelationship{testRelationship()})
	require.Len(t, results, 1)

	q := results[0].Predictions["2024-12-15"]
	assert.Equal(t, 0.0, q.P10, "negatives clamp to zero")
	assert.Equal(t, 4.0, q.P50)
	assert.Equal(t, 9.0, q.P90)
	assert.True(t, q.P10 <= q.P50 && q.P50 <= q.P90)
}

func TestPredictProductsFiltersAndCaps(t *testing.T) {
	var rels []CustomerProductRelationship
	for i := 0; i < 15; i++ {
		rel := testRelationship()
		rel.ProductID = string(rune('A' + i))
		rels = append(rels, rel)
	}
	other := testRelationship()
	other.CustomerID = "C2"
	rels = append(rels, other)

	orch := newTestOrchestrator(nil)
	results := orch.PredictProducts(context.Background(), "C1", "F1", rels)
	assert.Len(t, results, DefaultMaxProducts)

	none := orch.PredictProducts(context.Background(), "C9", "F1", rels)
	assert.Empty(t, none)
}

func TestBuildRequestShape(t *testing.T) {
	svc := &fakeForecastService{resp: ForecastResponse{Quantiles: map[string][]float64{
		"0.1": {1}, "0.5": {1}, "0.9": {1},
	}}}
	orch := newTestOrchestrator(svc)

	orch.PredictProducts(context.Background(), "C1", "F1", []CustomerProductRelationship{testRelationship()})
	require.Len(t, svc.reqs, 1)

	req := svc.reqs[0]
	assert.Len(t, req.Target, DefaultContextDays)
	assert.Len(t, req.Cat, 3)
	require.Len(t, req.DynamicFeat, 2)
	assert.Len(t, req.DynamicFeat[0], DefaultContextDays+DefaultForecastHorizon)
	assert.Equal(t, DefaultForecastHorizon, req.PredictionLength)
	assert.Equal(t, "2024-11-17", req.Start)

	for _, feat := range req.DynamicFeat {
		for _, v := range feat {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestCatFeaturesClampToCardinality(t *testing.T) {
	m := FeatureMappings{
		Customer:    map[string]int{"C1": 99},
		Facility:    map[string]int{"F1": -3},
		Category:    map[string]int{"Hardware": 5},
		Cardinality: []int{4, 50, 24},
	}
	cat := m.CatFeatures("C1", "F1", "Hardware")
	assert.Equal(t, []int{3, 0, 5}, cat)

	// Unknown values map to zero.
	assert.Equal(t, []int{0, 0, 0}, m.CatFeatures("CX", "FX", "Nope"))
}
