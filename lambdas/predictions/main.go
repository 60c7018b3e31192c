package main

import (
	"context"
	"fmt"
	"log"
	"ordercast/internal"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
)

// predictionInput identifies whose products to forecast and whether to
// compose recommendations on top of the quantile forecasts.
type predictionInput struct {
	CustomerID             string `json:"customer_id"`
	FacilityID             string `json:"facility_id"`
	IncludeRecommendations bool   `json:"include_recommendations"`
}

type predictionOutput struct {
	CustomerID      string                        `json:"customer_id"`
	FacilityID      string                        `json:"facility_id"`
	Predictions     []internal.PredictionResult   `json:"predictions"`
	Recommendations *internal.RecommendationSet   `json:"recommendations,omitempty"`
	Stats           *internal.RecommendationStats `json:"recommendation_stats,omitempty"`
}

func handler(ctx context.Context, input predictionInput) (predictionOutput, error) {
	log.Println("Ordercast Predictions Lambda triggered")

	if input.CustomerID == "" || input.FacilityID == "" {
		return predictionOutput{}, fmt.Errorf("missing required fields: customer_id, facility_id")
	}

	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		return predictionOutput{}, fmt.Errorf("S3_BUCKET not configured")
	}

	_, rels, err := internal.LoadLookupTables(ctx, bucket)
	if err != nil {
		return predictionOutput{}, fmt.Errorf("failed to load lookup tables: %w", err)
	}

	mappings := internal.LoadFeatureMappings(ctx, bucket, os.Getenv("FEATURE_MAPPINGS_KEY"))

	// A missing endpoint is not fatal: the orchestrator falls back to
	// history-derived forecasts for every product.
	var svc internal.ForecastService
	if endpoint := os.Getenv("SAGEMAKER_ENDPOINT"); endpoint != "" {
		s, err := internal.NewSageMakerForecastService(ctx, endpoint)
		if err != nil {
			log.Printf("forecast service unavailable: %v", err)
		} else {
			svc = s
		}
	}

	orch := internal.NewOrchestrator(svc, mappings)
	predictions := orch.PredictProducts(ctx, input.CustomerID, input.FacilityID, rels)

	out := predictionOutput{
		CustomerID:  input.CustomerID,
		FacilityID:  input.FacilityID,
		Predictions: predictions,
	}

	if input.IncludeRecommendations {
		var gen internal.GenerativeService
		if g, err := internal.NewBedrockGenerativeService(ctx); err != nil {
			log.Printf("generative service unavailable: %v", err)
		} else {
			gen = g
		}
		set := internal.NewComposer(gen).Compose(ctx, predictions)
		stats := set.Stats()
		out.Recommendations = &set
		out.Stats = &stats
	}

	return out, nil
}

func main() {
	lambda.Start(handler)
}
