package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// PipelineResult summarizes one feature engineering run for the caller
// and the run metadata object.
type PipelineResult struct {
	SourceKey        string   `json:"source_key"`
	RunPrefix        string   `json:"run_prefix"`
	Strategy         string   `json:"strategy"`
	TotalRecords     int      `json:"total_records"`
	PatternCount     int      `json:"pattern_count"`
	ProductCount     int      `json:"product_count"`
	RelationshipRows int      `json:"relationship_rows"`
	ForecastRowCount int      `json:"forecast_row_count"`
	OutputKeys       []string `json:"output_keys"`
	StartedAt        string   `json:"started_at"`
	DurationSeconds  float64  `json:"duration_seconds"`
}

// PipelineOutputs are the in-memory artifacts of one feature run, kept
// separate from PipelineResult so tests can inspect them without S3.
type PipelineOutputs struct {
	TotalRecords  int
	Patterns      []DemandPattern
	Products      []ProductLookupEntry
	Relationships []CustomerProductRelationship
	ProductRows   []ForecastRow
	CustomerRows  []ForecastRow
	Features      []TemporalFeatures
}

// RunFeaturePipeline executes the full feature engineering pass over a
// raw CSV payload: normalize, aggregate demand, build lookups, emit
// forecast rows and calendar features. Strategy is picked from input
// size; the chunked tier streams batches through the two-level reduce.
func RunFeaturePipeline(data []byte) (PipelineOutputs, AggregationOptions, error) {
	records, cols, err := ParseOrders(data)
	if err != nil {
		return PipelineOutputs{}, AggregationOptions{}, fmt.Errorf("parse orders: %w", err)
	}

	opts := ChooseStrategy(len(records), int64(len(data)))
	var patterns []DemandPattern
	if opts.Strategy == StrategyChunked {
		var chunks [][]DemandPattern
		_, err := ParseOrdersChunks(data, DefaultChunkRows, func(batch []OrderRecord, batchCols ColumnSet) error {
			chunkOpts := AggregationOptions{Strategy: StrategyApproximate, Timeout: opts.Timeout}
			chunks = append(chunks, ComputeDemandPatterns(batch, batchCols, chunkOpts))
			return nil
		})
		if err != nil {
			return PipelineOutputs{}, opts, fmt.Errorf("chunked aggregation: %w", err)
		}
		patterns = MergeChunkPatterns(chunks)
	} else {
		patterns = ComputeDemandPatterns(records, cols, opts)
	}

	products, rels := BuildLookupTables(records, cols)
	productRows := BuildProductForecastRows(records, cols)
	customerRows := BuildCustomerForecastRows(records, cols)
	features := ExtractAllTemporalFeatures(records)

	return PipelineOutputs{
		TotalRecords:  len(records),
		Patterns:      patterns,
		Products:      products,
		Relationships: rels,
		ProductRows:   productRows,
		CustomerRows:  customerRows,
		Features:      features,
	}, opts, nil
}

// WritePipelineOutputs persists every artifact of a run under a fresh
// processed/<timestamp>/ prefix and returns the run summary. The run
// metadata object is written last so a visible metadata file implies a
// complete run.
func WritePipelineOutputs(ctx context.Context, bucket, sourceKey string, out PipelineOutputs, opts AggregationOptions, totalRecords int, started time.Time) (PipelineResult, error) {
	prefix := NewRunPrefix(started)

	encoded := []struct {
		name   string
		encode func() ([]byte, error)
	}{
		{"demand_patterns.csv", func() ([]byte, error) { return EncodeDemandPatternsCSV(out.Patterns) }},
		{"product_lookup.csv", func() ([]byte, error) { return EncodeProductLookupCSV(out.Products) }},
		{"customer_product_lookup.csv", func() ([]byte, error) { return EncodeRelationshipsCSV(out.Relationships) }},
		{"product_forecast_rows.csv", func() ([]byte, error) { return EncodeForecastRowsCSV(out.ProductRows) }},
		{"customer_forecast_rows.csv", func() ([]byte, error) { return EncodeForecastRowsCSV(out.CustomerRows) }},
		{"temporal_features.csv", func() ([]byte, error) { return EncodeTemporalFeaturesCSV(out.Features) }},
	}

	result := PipelineResult{
		SourceKey:        sourceKey,
		RunPrefix:        prefix,
		Strategy:         opts.Strategy.String(),
		TotalRecords:     totalRecords,
		PatternCount:     len(out.Patterns),
		ProductCount:     len(out.Products),
		RelationshipRows: len(out.Relationships),
		ForecastRowCount: len(out.ProductRows) + len(out.CustomerRows),
		StartedAt:        started.UTC().Format(time.RFC3339),
	}

	for _, artifact := range encoded {
		data, err := artifact.encode()
		if err != nil {
			return result, fmt.Errorf("encode %s: %w", artifact.name, err)
		}
		key := prefix + artifact.name
		if err := SaveToS3WithKey(ctx, data, bucket, key); err != nil {
			return result, fmt.Errorf("save %s: %w", artifact.name, err)
		}
		result.OutputKeys = append(result.OutputKeys, key)
	}

	result.DurationSeconds = time.Since(started).Seconds()
	meta, err := json.Marshal(result)
	if err != nil {
		return result, fmt.Errorf("marshal run metadata: %w", err)
	}
	metaKey := prefix + "run_metadata.json"
	if err := SaveToS3WithKey(ctx, meta, bucket, metaKey); err != nil {
		return result, fmt.Errorf("save run metadata: %w", err)
	}
	result.OutputKeys = append(result.OutputKeys, metaKey)

	log.Printf("pipeline: wrote %d artifacts under %s (%s strategy, %d records)",
		len(result.OutputKeys), prefix, result.Strategy, totalRecords)
	return result, nil
}
