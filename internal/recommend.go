package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Scoring weights and bounds for the deterministic recommendation
// fallback. The combined score blends predicted demand with historical
// order frequency and the demand trend.
const (
	scoreWeightPredicted = 0.7
	scoreWeightHistory   = 0.3
	scoreWeightTrend     = 0.1
	quantityBuffer       = 1.1
	confidenceFloor      = 50.0
	confidenceCeiling    = 95.0
	defaultConfidence    = 60.0
	recommendTopProducts = 5

	highConfidenceThreshold = 80
)

// GenerativeService produces free-form model output for a prompt. The
// production implementation calls Bedrock; tests inject canned text.
type GenerativeService interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BedrockGenerativeService invokes a Bedrock text model. The request
// body shape follows the model family: Anthropic models take the
// messages format, Titan models take inputText.
type BedrockGenerativeService struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockGenerativeService builds the production generative service.
// Model ID comes from GENAI_MODEL_ID when set.
func NewBedrockGenerativeService(ctx context.Context) (*BedrockGenerativeService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	modelID := os.Getenv("GENAI_MODEL_ID")
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	return &BedrockGenerativeService{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type anthropicBody struct {
	AnthropicVersion string `json:"anthropic_version"`
	MaxTokens        int    `json:"max_tokens"`
	Messages         []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type titanBody struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int     `json:"maxTokenCount"`
		Temperature   float64 `json:"temperature"`
	} `json:"textGenerationConfig"`
}

// Generate invokes the configured model and returns its raw text output.
func (s *BedrockGenerativeService) Generate(ctx context.Context, prompt string) (string, error) {
	var body []byte
	var err error
	if strings.HasPrefix(s.modelID, "anthropic.") {
		req := anthropicBody{AnthropicVersion: "bedrock-2023-05-31", MaxTokens: 1500}
		req.Messages = append(req.Messages, struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "user", Content: prompt})
		body, err = json.Marshal(req)
	} else {
		req := titanBody{InputText: prompt}
		req.TextGenerationConfig.MaxTokenCount = 1500
		req.TextGenerationConfig.Temperature = 0.2
		body, err = json.Marshal(req)
	}
	if err != nil {
		return "", fmt.Errorf("marshal model request: %w", err)
	}

	out, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &s.modelID,
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("invoke model failed: %w", err)
	}

	if strings.HasPrefix(s.modelID, "anthropic.") {
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return "", fmt.Errorf("decode model response: %w", err)
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("model returned empty content")
		}
		return resp.Content[0].Text, nil
	}

	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
		} `json:"results"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", fmt.Errorf("model returned empty results")
	}
	return resp.Results[0].OutputText, nil
}

// ProductRecommendation is a single recommended order line.
type ProductRecommendation struct {
	ProductName      string  `json:"product_name"`
	ProductID        string  `json:"product_id"`
	RecommendedQty   float64 `json:"recommended_quantity"`
	Confidence       float64 `json:"confidence"`
	OptimalOrderDate string  `json:"optimal_order_date"`
	Reasoning        string  `json:"reasoning"`
}

// ScheduleEntry groups recommended products sharing an order date.
type ScheduleEntry struct {
	Date       string   `json:"date"`
	Products   []string `json:"products"`
	TotalItems float64  `json:"total_items"`
}

// RecommendationInsights is the free-text analysis block of a
// recommendation set.
type RecommendationInsights struct {
	SeasonalTrends   string `json:"seasonal_trends"`
	RiskAssessment   string `json:"risk_assessment"`
	CostOptimization string `json:"cost_optimization"`
}

// RecommendationSet is the composed recommendation payload. The three
// top-level keys are always present, even when the input is empty.
type RecommendationSet struct {
	RecommendedProducts []ProductRecommendation `json:"recommended_products"`
	OrderingSchedule    []ScheduleEntry         `json:"ordering_schedule"`
	Insights            RecommendationInsights  `json:"insights"`
	GeneratedBy         string                  `json:"generated_by"`
}

// RecommendationStats is the roll-up block served alongside a
// recommendation set.
type RecommendationStats struct {
	AvgConfidence       float64 `json:"avg_confidence"`
	HighConfidenceCount int     `json:"high_confidence_count"`
	NextOrderDate       string  `json:"next_suggested_order_date,omitempty"`
}

// Stats summarizes the set: mean confidence, how many recommendations
// clear the high-confidence bar, and the earliest suggested order date.
func (s RecommendationSet) Stats() RecommendationStats {
	var stats RecommendationStats
	if len(s.RecommendedProducts) == 0 {
		return stats
	}
	total := 0.0
	for _, rec := range s.RecommendedProducts {
		total += rec.Confidence
		if rec.Confidence >= highConfidenceThreshold {
			stats.HighConfidenceCount++
		}
		if rec.OptimalOrderDate != "" && (stats.NextOrderDate == "" || rec.OptimalOrderDate < stats.NextOrderDate) {
			stats.NextOrderDate = rec.OptimalOrderDate
		}
	}
	stats.AvgConfidence = total / float64(len(s.RecommendedProducts))
	return stats
}

// productScore carries the per-product summary statistics shared by the
// generative prompt and the deterministic fallback.
type productScore struct {
	result       PredictionResult
	p10Avg       float64
	p50Avg       float64
	p90Avg       float64
	trendScore   float64
	volatility   float64
	combined     float64
}

// scoreProducts summarizes each product's quantile forecasts and sorts
// by the combined score, descending. Products with no forecast days are
// skipped.
func scoreProducts(predictions []PredictionResult) []productScore {
	scored := make([]productScore, 0, len(predictions))
	for _, pred := range predictions {
		if len(pred.Predictions) == 0 {
			continue
		}
		dates := make([]string, 0, len(pred.Predictions))
		for d := range pred.Predictions {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		var sum10, sum50, sum90 float64
		p50s := make([]float64, 0, len(dates))
		for _, d := range dates {
			q := pred.Predictions[d]
			sum10 += q.P10
			sum50 += q.P50
			sum90 += q.P90
			p50s = append(p50s, q.P50)
		}
		n := float64(len(dates))
		s := productScore{
			result: pred,
			p10Avg: sum10 / n,
			p50Avg: sum50 / n,
			p90Avg: sum90 / n,
		}
		if len(p50s) > 1 {
			s.trendScore = p50s[len(p50s)-1] - p50s[0]
			var sq float64
			for _, v := range p50s {
				sq += (v - s.p50Avg) * (v - s.p50Avg)
			}
			s.volatility = math.Sqrt(sq / n)
		}
		s.combined = scoreWeightPredicted*s.p50Avg +
			scoreWeightHistory*(float64(pred.OrderHistory.OrderCount)/100) +
			scoreWeightTrend*s.trendScore
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].combined > scored[j].combined })
	return scored
}

func trendLabel(trendScore float64) string {
	switch {
	case trendScore > 0:
		return "increasing"
	case trendScore < 0:
		return "decreasing"
	default:
		return "stable"
	}
}

// Composer turns a customer's product predictions into ordering
// recommendations, preferring generative composition and degrading to a
// deterministic scoring fallback.
type Composer struct {
	Service GenerativeService // nil forces the fallback path
	Now     func() time.Time
}

// NewComposer wires a composer with production defaults.
func NewComposer(svc GenerativeService) *Composer {
	return &Composer{Service: svc, Now: time.Now}
}

// Compose builds recommendations from the prediction results.
func (c *Composer) Compose(ctx context.Context, predictions []PredictionResult) RecommendationSet {
	if len(predictions) == 0 {
		return RecommendationSet{
			RecommendedProducts: []ProductRecommendation{},
			OrderingSchedule:    []ScheduleEntry{},
			Insights: RecommendationInsights{
				SeasonalTrends:   "No prediction data available for analysis.",
				RiskAssessment:   "Risk assessment unavailable without predictions.",
				CostOptimization: "Cost optimization unavailable without predictions.",
			},
			GeneratedBy: "fallback",
		}
	}

	if c.Service != nil {
		set, err := c.composeGenerative(ctx, predictions)
		if err == nil {
			return set
		}
		log.Printf("generative composition failed: %v, using fallback", err)
	}
	return c.composeFallback(predictions)
}

func (c *Composer) composeGenerative(ctx context.Context, predictions []PredictionResult) (RecommendationSet, error) {
	scored := scoreProducts(predictions)
	if len(scored) > recommendTopProducts {
		scored = scored[:recommendTopProducts]
	}
	prompt := c.buildPrompt(scored)
	text, err := c.Service.Generate(ctx, prompt)
	if err != nil {
		return RecommendationSet{}, err
	}

	obj, ok := extractJSONObject(text)
	if !ok {
		return RecommendationSet{}, fmt.Errorf("no JSON object in model output")
	}

	var set RecommendationSet
	if err := json.Unmarshal([]byte(obj), &set); err != nil {
		return RecommendationSet{}, fmt.Errorf("parse model JSON: %w", err)
	}
	if len(set.RecommendedProducts) == 0 {
		return RecommendationSet{}, fmt.Errorf("model produced no recommendations")
	}
	for i := range set.RecommendedProducts {
		set.RecommendedProducts[i].Confidence = clampConfidence(set.RecommendedProducts[i].Confidence)
		if set.RecommendedProducts[i].OptimalOrderDate == "" {
			set.RecommendedProducts[i].OptimalOrderDate = c.Now().AddDate(0, 0, 1).Format(dateKeyFormat)
		}
	}
	// The model sometimes omits the schedule or insight sections; the
	// payload contract requires all three keys, so rebuild what is
	// missing from the recommendations it did produce.
	if len(set.OrderingSchedule) == 0 {
		set.OrderingSchedule = buildOrderingSchedule(set.RecommendedProducts)
	}
	set.Insights = fillInsights(set.Insights, len(predictions), set.RecommendedProducts)
	set.GeneratedBy = "genai"
	return set, nil
}

func (c *Composer) buildPrompt(scored []productScore) string {
	var b strings.Builder
	b.WriteString("You are an inventory planning assistant. Based on the product-level demand forecasts below, provide actionable procurement recommendations.\n\n")
	fmt.Fprintf(&b, "Current date: %s\n\nProduct forecasts:\n", c.Now().Format(dateKeyFormat))
	for _, s := range scored {
		conf := 50.0
		if s.p50Avg > 0 {
			width := s.p90Avg - s.p10Avg
			conf = math.Max(0, math.Min(100, 100-width/s.p50Avg*100))
		}
		fmt.Fprintf(&b, "- %s (%s, category %s): predicted avg %.1f/day (p10 %.1f, p50 %.1f, p90 %.1f), trend %s, volatility %.1f, confidence score %.0f, historical orders %d\n",
			s.result.ProductName, s.result.ProductID, s.result.CategoryName,
			s.p50Avg, s.p10Avg, s.p50Avg, s.p90Avg,
			trendLabel(s.trendScore), s.volatility, conf, s.result.OrderHistory.OrderCount)
	}
	b.WriteString("\nConsider the predicted demand, the confidence in each forecast, the trend, the volatility, and the historical order patterns.\n")
	b.WriteString("Respond with a single JSON object and nothing else, shaped as:\n")
	b.WriteString(`{"recommended_products":[{"product_name":"","product_id":"","recommended_quantity":0,"confidence":0,"optimal_order_date":"YYYY-MM-DD","reasoning":""}],"ordering_schedule":[{"date":"YYYY-MM-DD","products":[""],"total_items":0}],"insights":{"seasonal_trends":"","risk_assessment":"","cost_optimization":""}}`)
	b.WriteString("\nConfidence is a percentage between 50 and 95.\n")
	return b.String()
}

// extractJSONObject returns the first balanced top-level JSON object in
// the text, tracking string literals so braces inside strings do not
// confuse the scan.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func clampConfidence(v float64) float64 {
	if v == 0 {
		return defaultConfidence
	}
	if v < confidenceFloor {
		return confidenceFloor
	}
	if v > confidenceCeiling {
		return confidenceCeiling
	}
	return v
}

// composeFallback ranks products by blended predicted demand, order
// frequency, and trend, and recommends the top scorers with a buffered
// quantity. Confidence derives from the p10-p90 band width relative to
// the predicted average: a narrower band means a more consistent
// forecast.
func (c *Composer) composeFallback(predictions []PredictionResult) RecommendationSet {
	scored := scoreProducts(predictions)
	if len(scored) > recommendTopProducts {
		scored = scored[:recommendTopProducts]
	}

	now := c.Now()
	recs := make([]ProductRecommendation, 0, len(scored))
	for _, s := range scored {
		confidence := defaultConfidence
		if s.p50Avg > 0 {
			width := s.p90Avg - s.p10Avg
			confidence = math.Max(confidenceFloor, math.Min(confidenceCeiling, 100-width/s.p50Avg*50))
		}

		// Order sooner when demand is increasing.
		daysAhead := 1
		if s.trendScore < 0 {
			daysAhead = 2
		}

		qty := math.Round(s.p50Avg * quantityBuffer)
		if qty < 1 {
			qty = 1
		}
		recs = append(recs, ProductRecommendation{
			ProductName:      s.result.ProductName,
			ProductID:        s.result.ProductID,
			RecommendedQty:   qty,
			Confidence:       confidence,
			OptimalOrderDate: now.AddDate(0, 0, daysAhead).Format(dateKeyFormat),
			Reasoning: fmt.Sprintf("Predicted avg demand: %.1f, trend: %s, historical orders: %d",
				s.p50Avg, trendLabel(s.trendScore), s.result.OrderHistory.OrderCount),
		})
	}

	return RecommendationSet{
		RecommendedProducts: recs,
		OrderingSchedule:    buildOrderingSchedule(recs),
		Insights:            fillInsights(RecommendationInsights{}, len(predictions), recs),
		GeneratedBy:         "fallback",
	}
}

// buildOrderingSchedule groups recommendations by order date, keeping
// first-seen date order.
func buildOrderingSchedule(recs []ProductRecommendation) []ScheduleEntry {
	schedule := []ScheduleEntry{}
	index := map[string]int{}
	for _, rec := range recs {
		i, ok := index[rec.OptimalOrderDate]
		if !ok {
			i = len(schedule)
			index[rec.OptimalOrderDate] = i
			schedule = append(schedule, ScheduleEntry{Date: rec.OptimalOrderDate})
		}
		schedule[i].Products = append(schedule[i].Products, rec.ProductName)
		schedule[i].TotalItems += rec.RecommendedQty
	}
	return schedule
}

// fillInsights populates any insight field the model left empty from
// the deterministic analysis of the recommendations.
func fillInsights(in RecommendationInsights, totalProducts int, recs []ProductRecommendation) RecommendationInsights {
	if in.SeasonalTrends == "" {
		in.SeasonalTrends = fmt.Sprintf("Analysis based on %d products with varying demand patterns. Consider seasonal factors for procurement planning.", totalProducts)
	}
	if in.RiskAssessment == "" {
		high := 0
		total := 0.0
		for _, rec := range recs {
			total += rec.Confidence
			if rec.Confidence > highConfidenceThreshold {
				high++
			}
		}
		avg := 0.0
		if len(recs) > 0 {
			avg = total / float64(len(recs))
		}
		in.RiskAssessment = fmt.Sprintf("%d/%d recommendations have high confidence (>80%%). Average confidence: %.1f%%", high, len(recs), avg)
	}
	if in.CostOptimization == "" {
		in.CostOptimization = "Consider consolidating orders by date to reduce procurement costs. Monitor high-volatility products for inventory optimization."
	}
	return in
}
