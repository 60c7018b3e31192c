package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"ordercast/internal"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
)

// validationInput is the Step Functions payload: which uploaded object
// to validate.
type validationInput struct {
	Bucket    string `json:"bucket"`
	SourceKey string `json:"source_key"`
}

// validationOutput feeds the state machine's choice state: the pipeline
// only proceeds when IsValid is true.
type validationOutput struct {
	Bucket    string  `json:"bucket"`
	SourceKey string  `json:"source_key"`
	IsValid   bool    `json:"is_valid"`
	Verdict   string  `json:"verdict"`
	Score     float64 `json:"data_quality_score"`
	ReportKey string  `json:"report_key"`
}

func handler(ctx context.Context, input validationInput) (validationOutput, error) {
	log.Println("Ordercast Data Validation Lambda triggered")

	if input.Bucket == "" || input.SourceKey == "" {
		return validationOutput{}, fmt.Errorf("missing required fields: bucket, source_key")
	}

	data, err := internal.LoadFromS3(ctx, input.Bucket, input.SourceKey)
	if err != nil {
		return validationOutput{}, fmt.Errorf("failed to load source data: %w", err)
	}

	report := internal.ValidateOrders(data, time.Now().UTC())
	summary := report.Summarize(input.SourceKey)

	base := strings.TrimSuffix(input.SourceKey, ".csv")
	reportKey := base + "_validation_report.json"
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return validationOutput{}, fmt.Errorf("marshal report: %w", err)
	}
	if err := internal.SaveToS3WithKey(ctx, reportJSON, input.Bucket, reportKey); err != nil {
		return validationOutput{}, fmt.Errorf("failed to save report: %w", err)
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return validationOutput{}, fmt.Errorf("marshal summary: %w", err)
	}
	if err := internal.SaveToS3WithKey(ctx, summaryJSON, input.Bucket, base+"_validation_summary.json"); err != nil {
		log.Printf("failed to save summary: %v", err)
	}

	// Best effort: the JSON report is authoritative, the PDF is a convenience.
	if pdfBytes, err := internal.GenerateQualityReportPDF(input.SourceKey, report); err == nil {
		if err := internal.SaveToS3WithKey(ctx, pdfBytes, input.Bucket, base+"_validation_report.pdf"); err != nil {
			log.Printf("failed to save pdf report: %v", err)
		}
	} else {
		log.Printf("pdf generation failed: %v", err)
	}

	if report.Summary == internal.ValidationFailed {
		if err := internal.PublishValidationFailure(ctx, summary, report.Issues); err != nil {
			log.Printf("failed to publish validation alert: %v", err)
		}
	}

	return validationOutput{
		Bucket:    input.Bucket,
		SourceKey: input.SourceKey,
		IsValid:   report.IsValid,
		Verdict:   report.Summary,
		Score:     report.QualityScore,
		ReportKey: reportKey,
	}, nil
}

func main() {
	lambda.Start(handler)
}
