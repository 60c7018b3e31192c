package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Record type discriminators in the lookup table. Products key on the
// bare product id, relationships on "{product}#{customer}#{facility}".
const (
	RecordTypeProduct         = "PRODUCT"
	RecordTypeCustomerProduct = "CUSTOMER_PRODUCT"
)

func lookupTableName() string {
	if t := os.Getenv("LOOKUP_TABLE"); t != "" {
		return t
	}
	return "ordercast-lookup"
}

func feedbackTableName() string {
	if t := os.Getenv("FEEDBACK_TABLE"); t != "" {
		return t
	}
	return "ordercast-feedback"
}

func runTrackerTableName() string {
	if t := os.Getenv("RUN_TRACKER_TABLE"); t != "" {
		return t
	}
	return "ordercast-run-tracker"
}

func getDynamoClient() *dynamodb.Client {
	return dynamodb.NewFromConfig(getAWSConfig())
}

type productItem struct {
	RecordType   string `dynamodbav:"record_type"`
	RecordKey    string `dynamodbav:"record_key"`
	ProductName  string `dynamodbav:"product_name"`
	CategoryName string `dynamodbav:"category_name"`
	VendorName   string `dynamodbav:"vendor_name"`
	UpdatedOn    int64  `dynamodbav:"updatedon"`
}

type relationshipItem struct {
	RecordType  string `dynamodbav:"record_type"`
	RecordKey   string `dynamodbav:"record_key"`
	CustomerID  string `dynamodbav:"customer_id"`
	FacilityID  string `dynamodbav:"facility_id"`
	ProductID   string `dynamodbav:"product_id"`
	ProductName string `dynamodbav:"product_name"`
	OrderCount  int    `dynamodbav:"order_count"`
	FirstOrder  string `dynamodbav:"first_order"`
	LastOrder   string `dynamodbav:"last_order"`
	UpdatedOn   int64  `dynamodbav:"updatedon"`
}

// UpsertLookupTables mirrors a pipeline run's lookup tables into
// DynamoDB so the serving path can read single keys without pulling the
// full CSV. Writes are item-at-a-time upserts; a partial failure leaves
// the prior values for the unwritten keys.
func UpsertLookupTables(ctx context.Context, products []ProductLookupEntry, rels []CustomerProductRelationship) error {
	client := getDynamoClient()
	table := lookupTableName()
	now := time.Now().UTC().UnixMilli()

	for _, p := range products {
		item := productItem{
			RecordType:   RecordTypeProduct,
			RecordKey:    p.ProductID,
			ProductName:  p.ProductName,
			CategoryName: p.CategoryName,
			VendorName:   p.VendorName,
			UpdatedOn:    now,
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshal product %s: %w", p.ProductID, err)
		}
		if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &table, Item: av}); err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ProductID, err)
		}
	}

	for _, r := range rels {
		item := relationshipItem{
			RecordType:  RecordTypeCustomerProduct,
			RecordKey:   fmt.Sprintf("%s#%s#%s", r.ProductID, r.CustomerID, r.FacilityID),
			CustomerID:  r.CustomerID,
			FacilityID:  r.FacilityID,
			ProductID:   r.ProductID,
			ProductName: r.ProductName,
			OrderCount:  r.OrderCount,
			FirstOrder:  r.FirstOrder,
			LastOrder:   r.LastOrder,
			UpdatedOn:   now,
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshal relationship %s: %w", item.RecordKey, err)
		}
		if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &table, Item: av}); err != nil {
			return fmt.Errorf("upsert relationship %s: %w", item.RecordKey, err)
		}
	}
	return nil
}

// FeedbackItem is one user verdict on a served prediction, keyed by
// customer with a creation-time range key.
type FeedbackItem struct {
	CustomerID   string   `dynamodbav:"customer_id" json:"customer_id"`
	CreatedOnMs  int64    `dynamodbav:"createdon" json:"createdon_ms"`
	FacilityID   string   `dynamodbav:"facility_id" json:"facility_id"`
	PredictionID string   `dynamodbav:"prediction_id" json:"prediction_id"`
	FeedbackType string   `dynamodbav:"feedback_type" json:"feedback_type"`
	Rating       int      `dynamodbav:"rating" json:"rating"`
	Comments     string   `dynamodbav:"comments" json:"comments,omitempty"`
	ActualQty    *float64 `dynamodbav:"actual_quantity,omitempty" json:"actual_quantity,omitempty"`
	PredictedQty *float64 `dynamodbav:"predicted_quantity,omitempty" json:"predicted_quantity,omitempty"`
}

// Accepted feedback_type values.
const (
	FeedbackTypeAccuracy       = "accuracy"
	FeedbackTypeUsefulness     = "usefulness"
	FeedbackTypeGeneral        = "general"
	FeedbackTypeRecommendation = "recommendation"
)

// Validate checks the feedback contract before persistence: required
// identifiers, a known feedback_type, and a rating in [1,5].
func (f FeedbackItem) Validate() error {
	if f.CustomerID == "" || f.FacilityID == "" || f.PredictionID == "" {
		return fmt.Errorf("customer_id, facility_id and prediction_id are required")
	}
	switch f.FeedbackType {
	case FeedbackTypeAccuracy, FeedbackTypeUsefulness, FeedbackTypeGeneral, FeedbackTypeRecommendation:
	default:
		return fmt.Errorf("invalid feedback_type %q", f.FeedbackType)
	}
	if f.Rating < 1 || f.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", f.Rating)
	}
	return nil
}

// SaveFeedback persists a prediction feedback record.
func SaveFeedback(ctx context.Context, item FeedbackItem) error {
	if item.CreatedOnMs == 0 {
		item.CreatedOnMs = time.Now().UTC().UnixMilli()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	table := feedbackTableName()
	_, err = getDynamoClient().PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &table,
		Item:      av,
	})
	return err
}

// ListRecentFeedback returns at most 'limit' feedback records created on
// or after sinceEpochMs. Uses a Scan with FilterExpression because reads
// span all customers.
func ListRecentFeedback(ctx context.Context, sinceEpochMs int64, limit int) ([]FeedbackItem, error) {
	client := getDynamoClient()
	table := feedbackTableName()
	if limit <= 0 {
		limit = 100
	}
	exprValues, err := attributevalue.MarshalMap(map[string]int64{":since": sinceEpochMs})
	if err != nil {
		return nil, err
	}
	var items []FeedbackItem
	var lastKey map[string]types.AttributeValue
	for {
		out, err := client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 &table,
			FilterExpression:          awsString("createdon >= :since"),
			ExpressionAttributeValues: exprValues,
			ExclusiveStartKey:         lastKey,
			Limit:                     awsInt32(int32(limit - len(items))),
		})
		if err != nil {
			return nil, err
		}
		var batch []FeedbackItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, err
		}
		items = append(items, batch...)
		if len(items) >= limit || len(out.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = out.LastEvaluatedKey
	}
	return items, nil
}

// Pipeline run statuses recorded in the run tracker table.
const (
	RunStatusStarted   = "started"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunTrackerItem marks a pipeline run's state for one source object.
// Primary key: source_key (HASH), status (RANGE).
type RunTrackerItem struct {
	SourceKey string `dynamodbav:"source_key"`
	Status    string `dynamodbav:"status"`
	RunPrefix string `dynamodbav:"run_prefix"`
	CreatedOn int64  `dynamodbav:"createdon"`
	UpdatedOn int64  `dynamodbav:"updatedon"`
}

// TrackRun records a pipeline run state transition.
func TrackRun(ctx context.Context, sourceKey, status, runPrefix string) error {
	now := time.Now().UTC().UnixMilli()
	item := RunTrackerItem{
		SourceKey: sourceKey,
		Status:    status,
		RunPrefix: runPrefix,
		CreatedOn: now,
		UpdatedOn: now,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	table := runTrackerTableName()
	_, err = getDynamoClient().PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &table,
		Item:      av,
	})
	return err
}

// GetRunState fetches a run tracker record by source key and status.
// Returns (nil, nil) if no such item exists.
func GetRunState(ctx context.Context, sourceKey, status string) (*RunTrackerItem, error) {
	client := getDynamoClient()
	table := runTrackerTableName()

	key, err := attributevalue.MarshalMap(struct {
		SourceKey string `dynamodbav:"source_key"`
		Status    string `dynamodbav:"status"`
	}{
		SourceKey: sourceKey,
		Status:    status,
	})
	if err != nil {
		return nil, err
	}

	consistent := true
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &table,
		Key:            key,
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item RunTrackerItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func awsString(s string) *string { return &s }
func awsInt32(v int32) *int32    { return &v }
