package main

import (
	"context"
	"fmt"
	"log"
	"ordercast/internal"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
)

// featureInput is the Step Functions payload naming the validated
// upload to process.
type featureInput struct {
	Bucket    string `json:"bucket"`
	SourceKey string `json:"source_key"`
}

func handler(ctx context.Context, input featureInput) (internal.PipelineResult, error) {
	log.Println("Ordercast Feature Engineering Lambda triggered")

	if input.Bucket == "" || input.SourceKey == "" {
		return internal.PipelineResult{}, fmt.Errorf("missing required fields: bucket, source_key")
	}

	started := time.Now().UTC()
	if err := internal.TrackRun(ctx, input.SourceKey, internal.RunStatusStarted, ""); err != nil {
		log.Printf("failed to track run start: %v", err)
	}

	data, err := internal.LoadFromS3(ctx, input.Bucket, input.SourceKey)
	if err != nil {
		return internal.PipelineResult{}, fmt.Errorf("failed to load source data: %w", err)
	}

	outputs, opts, err := internal.RunFeaturePipeline(data)
	if err != nil {
		if trackErr := internal.TrackRun(ctx, input.SourceKey, internal.RunStatusFailed, ""); trackErr != nil {
			log.Printf("failed to track run failure: %v", trackErr)
		}
		return internal.PipelineResult{}, fmt.Errorf("feature pipeline failed: %w", err)
	}

	result, err := internal.WritePipelineOutputs(ctx, input.Bucket, input.SourceKey, outputs, opts, outputs.TotalRecords, started)
	if err != nil {
		if trackErr := internal.TrackRun(ctx, input.SourceKey, internal.RunStatusFailed, result.RunPrefix); trackErr != nil {
			log.Printf("failed to track run failure: %v", trackErr)
		}
		return result, fmt.Errorf("failed to write outputs: %w", err)
	}

	// Mirror the lookups into DynamoDB for the serving path. The CSV copy
	// under the run prefix remains the source of truth.
	if err := internal.UpsertLookupTables(ctx, outputs.Products, outputs.Relationships); err != nil {
		log.Printf("failed to upsert lookup tables: %v", err)
	}

	if err := internal.TrackRun(ctx, input.SourceKey, internal.RunStatusCompleted, result.RunPrefix); err != nil {
		log.Printf("failed to track run completion: %v", err)
	}
	return result, nil
}

func main() {
	lambda.Start(handler)
}
