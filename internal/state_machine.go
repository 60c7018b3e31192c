package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// PipelineExecutionInput is the payload handed to the Step Functions
// pipeline: validate, then feature-engineer, then refresh lookups.
type PipelineExecutionInput struct {
	Bucket    string `json:"bucket"`
	SourceKey string `json:"source_key"`
	Requested string `json:"requested_at"`
}

// StartPipelineExecution kicks off the order-processing state machine
// for one uploaded file. The machine ARN comes from
// PIPELINE_STATE_MACHINE_ARN.
func StartPipelineExecution(ctx context.Context, bucket, sourceKey string) (string, error) {
	arn := os.Getenv("PIPELINE_STATE_MACHINE_ARN")
	if arn == "" {
		return "", fmt.Errorf("PIPELINE_STATE_MACHINE_ARN not configured")
	}
	return startStateMachine(ctx, arn, PipelineExecutionInput{
		Bucket:    bucket,
		SourceKey: sourceKey,
		Requested: time.Now().UTC().Format(time.RFC3339),
	})
}

// startStateMachine starts an AWS Step Functions execution with the provided input.
// The input can be any Go value that can be marshaled to JSON, or a raw []byte JSON payload.
func startStateMachine(ctx context.Context, stateMachineArn string, input any) (string, error) {
	cfg := getAWSConfig()
	client := sfn.NewFromConfig(cfg)

	var inputJSON []byte
	switch v := input.(type) {
	case []byte:
		inputJSON = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal state machine input: %w", err)
		}
		inputJSON = b
	}

	execName := fmt.Sprintf("exec-%d", time.Now().UnixNano())
	out, err := client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineArn),
		Name:            aws.String(execName),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return "", err
	}
	if out.ExecutionArn == nil {
		return "", fmt.Errorf("missing execution arn in response")
	}
	return *out.ExecutionArn, nil
}
