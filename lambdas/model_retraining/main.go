package main

import (
	"context"
	"fmt"
	"log"
	"ordercast/internal"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
)

// retrainInput names the pipeline run whose forecast rows feed the
// training job. An empty run prefix means "latest completed run".
type retrainInput struct {
	Bucket    string `json:"bucket"`
	RunPrefix string `json:"run_prefix,omitempty"`
}

type retrainOutput struct {
	JobName   string `json:"job_name"`
	RunPrefix string `json:"run_prefix"`
}

func handler(ctx context.Context, input retrainInput) (retrainOutput, error) {
	log.Println("Ordercast Model Retraining Lambda triggered")

	bucket := input.Bucket
	if bucket == "" {
		bucket = os.Getenv("S3_BUCKET")
	}
	if bucket == "" {
		return retrainOutput{}, fmt.Errorf("missing bucket")
	}

	prefix := input.RunPrefix
	if prefix == "" {
		p, err := internal.LatestRunPrefix(ctx, bucket)
		if err != nil {
			return retrainOutput{}, fmt.Errorf("no pipeline run to train on: %w", err)
		}
		prefix = p
	}

	jobName, err := internal.StartRetrainingJob(ctx, bucket, prefix)
	if err != nil {
		return retrainOutput{}, fmt.Errorf("failed to start retraining: %w", err)
	}
	log.Printf("started training job %s on %s", jobName, prefix)
	return retrainOutput{JobName: jobName, RunPrefix: prefix}, nil
}

func main() {
	lambda.Start(handler)
}
