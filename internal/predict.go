package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// Defaults matching the trained DeepAR model's configuration.
const (
	DefaultContextDays      = 28
	DefaultForecastHorizon  = 14
	FallbackHorizonDays     = 7
	DefaultMaxProducts      = 10
	fallbackLowerMultiplier = 0.5
	fallbackUpperMultiplier = 2.0
)

// ForecastRequest describes one series sent to the forecasting service:
// a historical target, its start date, integer categorical features, and
// dynamic time features extended across the prediction horizon.
type ForecastRequest struct {
	Start            string
	Target           []float64
	Cat              []int
	DynamicFeat      [][]float64
	PredictionLength int
}

// ForecastResponse carries the per-quantile prediction arrays, indexed by
// quantile label ("0.1", "0.5", "0.9").
type ForecastResponse struct {
	Quantiles map[string][]float64
}

// ForecastService is the capability the orchestrator depends on. The
// production implementation wraps a SageMaker endpoint; tests inject a
// deterministic fake.
type ForecastService interface {
	Forecast(ctx context.Context, req ForecastRequest) (ForecastResponse, error)
}

// SageMakerForecastService invokes a DeepAR endpoint with the JSON
// payload format the model was trained on.
type SageMakerForecastService struct {
	client   *sagemakerruntime.Client
	endpoint string
}

// NewSageMakerForecastService builds the production forecast service.
func NewSageMakerForecastService(ctx context.Context, endpoint string) (*SageMakerForecastService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SageMakerForecastService{
		client:   sagemakerruntime.NewFromConfig(cfg),
		endpoint: endpoint,
	}, nil
}

type deepARInstance struct {
	Start       string      `json:"start"`
	Target      []float64   `json:"target"`
	Cat         []int       `json:"cat"`
	DynamicFeat [][]float64 `json:"dynamic_feat"`
}

type deepARPayload struct {
	Instances     []deepARInstance `json:"instances"`
	Configuration struct {
		NumSamples  int      `json:"num_samples"`
		OutputTypes []string `json:"output_types"`
		Quantiles   []string `json:"quantiles"`
	} `json:"configuration"`
}

type deepARResult struct {
	Predictions []struct {
		Quantiles map[string][]float64 `json:"quantiles"`
	} `json:"predictions"`
}

// Forecast sends one instance to the endpoint and decodes its quantile
// response.
func (s *SageMakerForecastService) Forecast(ctx context.Context, req ForecastRequest) (ForecastResponse, error) {
	payload := deepARPayload{
		Instances: []deepARInstance{{
			Start:       req.Start,
			Target:      req.Target,
			Cat:         req.Cat,
			DynamicFeat: req.DynamicFeat,
		}},
	}
	payload.Configuration.NumSamples = 100
	payload.Configuration.OutputTypes = []string{"quantiles"}
	payload.Configuration.Quantiles = []string{"0.1", "0.5", "0.9"}

	body, err := json.Marshal(payload)
	if err != nil {
		return ForecastResponse{}, fmt.Errorf("marshal forecast payload: %w", err)
	}

	out, err := s.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: &s.endpoint,
		Body:         body,
		ContentType:  aws.String("application/json"),
	})
	if err != nil {
		return ForecastResponse{}, fmt.Errorf("invoke endpoint failed: %w", err)
	}

	var result deepARResult
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return ForecastResponse{}, fmt.Errorf("decode endpoint response: %w", err)
	}
	if len(result.Predictions) == 0 {
		return ForecastResponse{}, fmt.Errorf("endpoint returned no predictions")
	}
	return ForecastResponse{Quantiles: result.Predictions[0].Quantiles}, nil
}

// FeatureMappings are the learned categorical encodings produced at
// training time. Unknown values map to 0 and every encoding is clamped
// into the declared cardinality range.
type FeatureMappings struct {
	Customer    map[string]int `json:"customer_mapping"`
	Facility    map[string]int `json:"facility_mapping"`
	Category    map[string]int `json:"category_mapping"`
	Cardinality []int          `json:"cardinality"`
}

// DefaultFeatureMappings matches the cardinality the model was last
// trained with; used when the mappings object cannot be loaded.
func DefaultFeatureMappings() FeatureMappings {
	return FeatureMappings{
		Customer:    map[string]int{},
		Facility:    map[string]int{},
		Category:    map[string]int{},
		Cardinality: []int{4, 50, 24},
	}
}

// LoadFeatureMappings fetches the training-time feature mappings JSON
// from S3, falling back to safe defaults on any failure.
func LoadFeatureMappings(ctx context.Context, bucket, key string) FeatureMappings {
	defaults := DefaultFeatureMappings()
	if bucket == "" || key == "" {
		return defaults
	}
	data, err := LoadFromS3(ctx, bucket, key)
	if err != nil {
		log.Printf("feature mappings unavailable (%v), using defaults", err)
		return defaults
	}
	var m FeatureMappings
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("feature mappings malformed (%v), using defaults", err)
		return defaults
	}
	if len(m.Cardinality) < 3 {
		m.Cardinality = defaults.Cardinality
	}
	if m.Customer == nil {
		m.Customer = map[string]int{}
	}
	if m.Facility == nil {
		m.Facility = map[string]int{}
	}
	if m.Category == nil {
		m.Category = map[string]int{}
	}
	return m
}

func clampCat(v, cardinality int) int {
	if v < 0 {
		return 0
	}
	if v > cardinality-1 {
		return cardinality - 1
	}
	return v
}

// CatFeatures encodes a relationship's categorical vector through the
// learned mappings, clamped into the cardinality range.
func (m FeatureMappings) CatFeatures(customerID, facilityID, categoryName string) []int {
	return []int{
		clampCat(m.Customer[customerID], m.Cardinality[0]),
		clampCat(m.Facility[facilityID], m.Cardinality[1]),
		clampCat(m.Category[categoryName], m.Cardinality[2]),
	}
}

// QuantileForecast is one day's prediction band.
type QuantileForecast struct {
	P10  float64 `json:"p10"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	Mean float64 `json:"mean"`
}

// OrderHistory summarizes the historical orders backing a prediction.
type OrderHistory struct {
	OrderCount int    `json:"order_count"`
	FirstOrder string `json:"first_order"`
	LastOrder  string `json:"last_order"`
}

// PredictionResult is the per-product prediction payload served by the
// API. Predictions is keyed by date string; every entry satisfies
// 0 <= p10 <= p50 <= p90.
type PredictionResult struct {
	ProductID    string                      `json:"product_id"`
	ProductName  string                      `json:"product_name"`
	CategoryName string                      `json:"category_name"`
	VendorName   string                      `json:"vendor_name"`
	Predictions  map[string]QuantileForecast `json:"predictions"`
	OrderHistory OrderHistory                `json:"order_history"`
	Fallback     bool                        `json:"fallback,omitempty"`
}

// Orchestrator fans a customer/facility's known products out to the
// forecasting service and guarantees a non-empty prediction per product
// with any order history, via a deterministic fallback.
type Orchestrator struct {
	Service     ForecastService // nil forces the fallback path for every product
	Mappings    FeatureMappings
	MaxProducts int
	Horizon     int
	ContextDays int
	Now         func() time.Time
}

// NewOrchestrator wires an orchestrator with production defaults.
func NewOrchestrator(svc ForecastService, mappings FeatureMappings) *Orchestrator {
	return &Orchestrator{
		Service:     svc,
		Mappings:    mappings,
		MaxProducts: DefaultMaxProducts,
		Horizon:     DefaultForecastHorizon,
		ContextDays: DefaultContextDays,
		Now:         time.Now,
	}
}

// PredictProducts produces one PredictionResult per known product for
// the customer/facility, bounded to MaxProducts for cost control.
func (o *Orchestrator) PredictProducts(ctx context.Context, customerID, facilityID string, rels []CustomerProductRelationship) []PredictionResult {
	var mine []CustomerProductRelationship
	for _, rel := range rels {
		if rel.CustomerID == customerID && rel.FacilityID == facilityID {
			mine = append(mine, rel)
		}
	}
	if len(mine) > o.MaxProducts {
		mine = mine[:o.MaxProducts]
	}

	results := make([]PredictionResult, 0, len(mine))
	for _, rel := range mine {
		results = append(results, o.predictOne(ctx, rel))
	}
	return results
}

func (o *Orchestrator) predictOne(ctx context.Context, rel CustomerProductRelationship) PredictionResult {
	result := PredictionResult{
		ProductID:    rel.ProductID,
		ProductName:  rel.ProductName,
		CategoryName: rel.CategoryName,
		VendorName:   rel.VendorName,
		OrderHistory: OrderHistory{
			OrderCount: rel.OrderCount,
			FirstOrder: rel.FirstOrder,
			LastOrder:  rel.LastOrder,
		},
	}

	if o.Service == nil {
		result.Predictions = o.fallbackPredictions(rel)
		result.Fallback = true
		return result
	}

	resp, err := o.Service.Forecast(ctx, o.buildRequest(rel))
	if err != nil {
		log.Printf("forecast failed for product %s: %v, using fallback", rel.ProductID, err)
		result.Predictions = o.fallbackPredictions(rel)
		result.Fallback = true
		return result
	}

	predictions := o.normalizeResponse(resp)
	if len(predictions) == 0 {
		result.Predictions = o.fallbackPredictions(rel)
		result.Fallback = true
		return result
	}
	result.Predictions = predictions
	return result
}

// buildRequest synthesizes the DeepAR instance for a product: a flat
// historical target at the product's daily average level, categorical
// features through the learned mappings, and day-of-week/month dynamic
// features normalized to [0,1] and extended across the horizon.
func (o *Orchestrator) buildRequest(rel CustomerProductRelationship) ForecastRequest {
	now := o.Now()
	start := now.AddDate(0, 0, -o.ContextDays)

	base := float64(rel.OrderCount) / 30
	if base < 1 {
		base = 1
	}
	target := make([]float64, o.ContextDays)
	for i := range target {
		target[i] = base
	}

	totalDays := o.ContextDays + o.Horizon
	dowFeat := make([]float64, totalDays)
	monthFeat := make([]float64, totalDays)
	for i := 0; i < totalDays; i++ {
		d := start.AddDate(0, 0, i)
		dowFeat[i] = float64(mondayWeekday(d)) / 6
		monthFeat[i] = float64(int(d.Month())-1) / 11
	}

	return ForecastRequest{
		Start:            start.Format(dateKeyFormat),
		Target:           target,
		Cat:              o.Mappings.CatFeatures(rel.CustomerID, rel.FacilityID, rel.CategoryName),
		DynamicFeat:      [][]float64{dowFeat, monthFeat},
		PredictionLength: o.Horizon,
	}
}

// normalizeResponse converts raw quantile arrays into the per-date
// prediction map, clamping negatives to zero and reordering any inverted
// quantile triples so p10 <= p50 <= p90 always holds.
func (o *Orchestrator) normalizeResponse(resp ForecastResponse) map[string]QuantileForecast {
	p10 := resp.Quantiles["0.1"]
	p50 := resp.Quantiles["0.5"]
	p90 := resp.Quantiles["0.9"]

	n := len(p50)
	if len(p10) < n {
		n = len(p10)
	}
	if len(p90) < n {
		n = len(p90)
	}
	if n > o.Horizon {
		n = o.Horizon
	}

	now := o.Now()
	out := make(map[string]QuantileForecast, n)
	for i := 0; i < n; i++ {
		triple := []float64{p10[i], p50[i], p90[i]}
		for j, v := range triple {
			if v < 0 {
				triple[j] = 0
			}
		}
		sort.Float64s(triple)
		date := now.AddDate(0, 0, i).Format(dateKeyFormat)
		out[date] = QuantileForecast{
			P10:  triple[0],
			P50:  triple[1],
			P90:  triple[2],
			Mean: triple[1],
		}
	}
	return out
}

// fallbackPredictions emits the deterministic synthetic forecast used
// whenever the service is unavailable or errors: base quantity from the
// order count, half/double for the band, over the next seven days.
func (o *Orchestrator) fallbackPredictions(rel CustomerProductRelationship) map[string]QuantileForecast {
	base := float64(rel.OrderCount)
	if base < 1 {
		base = 1
	}
	now := o.Now()
	out := make(map[string]QuantileForecast, FallbackHorizonDays)
	for i := 0; i < FallbackHorizonDays; i++ {
		date := now.AddDate(0, 0, i).Format(dateKeyFormat)
		out[date] = QuantileForecast{
			P10:  base * fallbackLowerMultiplier,
			P50:  base,
			P90:  base * fallbackUpperMultiplier,
			Mean: base,
		}
	}
	return out
}
