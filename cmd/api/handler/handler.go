package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"ordercast/internal"
	"os"
	"strconv"
	"strings"
	"time"
)

// errorEnvelope is the uniform error shape returned by every endpoint.
type errorEnvelope struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, errorCode, message string) {
	writeJSON(w, code, errorEnvelope{
		Error:      http.StatusText(code),
		Message:    message,
		StatusCode: code,
		ErrorCode:  errorCode,
	})
}

func dataBucket(w http.ResponseWriter) (string, bool) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		writeError(w, http.StatusInternalServerError, "CONFIG_MISSING", "S3_BUCKET not configured")
		return "", false
	}
	return bucket, true
}

// HealthHandler returns a basic OK response.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PredictionsHandler serves quantile forecasts for every product a
// customer/facility pair has ordered before.
//
// GET /predictions?customer_id=...&facility_id=...
func PredictionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Predictions API called")

	customerID := r.URL.Query().Get("customer_id")
	facilityID := r.URL.Query().Get("facility_id")
	if customerID == "" || facilityID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "customer_id and facility_id query parameters are required")
		return
	}

	bucket, ok := dataBucket(w)
	if !ok {
		return
	}
	_, rels, err := internal.LoadLookupTables(ctx, bucket)
	if err != nil {
		log.Printf("load lookup tables failed: %v", err)
		writeError(w, http.StatusBadGateway, "LOOKUP_UNAVAILABLE", "lookup tables could not be loaded")
		return
	}

	mappings := internal.LoadFeatureMappings(ctx, bucket, os.Getenv("FEATURE_MAPPINGS_KEY"))
	var svc internal.ForecastService
	if endpoint := os.Getenv("SAGEMAKER_ENDPOINT"); endpoint != "" {
		if s, err := internal.NewSageMakerForecastService(ctx, endpoint); err == nil {
			svc = s
		} else {
			log.Printf("forecast service unavailable: %v", err)
		}
	}

	orch := internal.NewOrchestrator(svc, mappings)
	predictions := orch.PredictProducts(ctx, customerID, facilityID, rels)

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customerID,
		"facility_id": facilityID,
		"predictions": predictions,
		"generated":   time.Now().UTC().Format(time.RFC3339),
	})
}

// RecommendationsHandler serves ordering recommendations for a
// customer/facility pair.
//
// GET /recommendations?customer_id=...&facility_id=...
func RecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Recommendations API called")

	customerID := r.URL.Query().Get("customer_id")
	facilityID := r.URL.Query().Get("facility_id")
	if customerID == "" || facilityID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "customer_id and facility_id query parameters are required")
		return
	}

	bucket, ok := dataBucket(w)
	if !ok {
		return
	}
	_, rels, err := internal.LoadLookupTables(ctx, bucket)
	if err != nil {
		log.Printf("load lookup tables failed: %v", err)
		writeError(w, http.StatusBadGateway, "LOOKUP_UNAVAILABLE", "lookup tables could not be loaded")
		return
	}

	// Recommendations blend forecast output, so run the orchestrator
	// first and feed its results to the composer.
	mappings := internal.LoadFeatureMappings(ctx, bucket, os.Getenv("FEATURE_MAPPINGS_KEY"))
	var svc internal.ForecastService
	if endpoint := os.Getenv("SAGEMAKER_ENDPOINT"); endpoint != "" {
		if s, err := internal.NewSageMakerForecastService(ctx, endpoint); err == nil {
			svc = s
		} else {
			log.Printf("forecast service unavailable: %v", err)
		}
	}
	predictions := internal.NewOrchestrator(svc, mappings).PredictProducts(ctx, customerID, facilityID, rels)

	var gen internal.GenerativeService
	if g, err := internal.NewBedrockGenerativeService(ctx); err == nil {
		gen = g
	} else {
		log.Printf("generative service unavailable: %v", err)
	}

	set := internal.NewComposer(gen).Compose(ctx, predictions)
	writeJSON(w, http.StatusOK, set)
}

// FeedbackHandler records a user verdict on a served prediction.
//
// POST /feedback {"customer_id":..,"facility_id":..,"prediction_id":..,"feedback_type":..,"rating":..}
func FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Feedback API called")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var item internal.FeedbackItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON")
		return
	}
	if err := item.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FEEDBACK", err.Error())
		return
	}

	if err := internal.SaveFeedback(ctx, item); err != nil {
		log.Printf("save feedback failed: %v", err)
		writeError(w, http.StatusBadGateway, "STORE_FAILED", "feedback could not be stored")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "feedback recorded"})
}

// PipelineRunHandler starts the order-processing state machine for an
// uploaded file.
//
// POST /pipeline/run {"source_key":"uploads/orders.csv"}
func PipelineRunHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Pipeline Run API called")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req struct {
		SourceKey string `json:"source_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceKey == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "source_key is required")
		return
	}
	if !strings.HasPrefix(req.SourceKey, internal.UploadPrefix) {
		writeError(w, http.StatusBadRequest, "BAD_SOURCE_KEY", "source_key must be under "+internal.UploadPrefix)
		return
	}

	bucket, ok := dataBucket(w)
	if !ok {
		return
	}
	execArn, err := internal.StartPipelineExecution(ctx, bucket, req.SourceKey)
	if err != nil {
		log.Printf("start pipeline failed: %v", err)
		writeError(w, http.StatusBadGateway, "PIPELINE_START_FAILED", fmt.Sprintf("pipeline start failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "execution started",
		"execution_arn": execArn,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// PipelineStatusHandler reports the latest tracked state of a pipeline
// run for an uploaded file.
//
// GET /pipeline/status?source_key=uploads/orders.csv
func PipelineStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Pipeline Status API called")

	sourceKey := r.URL.Query().Get("source_key")
	if sourceKey == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "source_key query parameter is required")
		return
	}

	// Completed beats failed beats started when several records exist.
	for _, status := range []string{internal.RunStatusCompleted, internal.RunStatusFailed, internal.RunStatusStarted} {
		item, err := internal.GetRunState(ctx, sourceKey, status)
		if err != nil {
			log.Printf("run state lookup failed: %v", err)
			writeError(w, http.StatusBadGateway, "TRACKER_UNAVAILABLE", "run state could not be read")
			return
		}
		if item != nil {
			writeJSON(w, http.StatusOK, item)
			return
		}
	}
	writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no pipeline run recorded for this source_key")
}

// FeedbackListHandler returns recent prediction feedback.
//
// GET /feedback/recent?hours=24
func FeedbackListHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Feedback List API called")

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_PARAM", "hours must be a positive integer")
			return
		}
		hours = n
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour).UTC().UnixMilli()

	items, err := internal.ListRecentFeedback(ctx, since, 100)
	if err != nil {
		log.Printf("list feedback failed: %v", err)
		writeError(w, http.StatusBadGateway, "STORE_UNAVAILABLE", "feedback could not be listed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": items, "count": len(items)})
}

// TrainingStatusHandler reports the state of a retraining job.
//
// GET /training/status?job_name=ordercast-deepar-1700000000
func TrainingStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Training Status API called")

	jobName := r.URL.Query().Get("job_name")
	if jobName == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "job_name query parameter is required")
		return
	}

	status, err := internal.RetrainingJobStatus(ctx, jobName)
	if err != nil {
		log.Printf("training status failed: %v", err)
		writeError(w, http.StatusBadGateway, "TRAINING_STATUS_FAILED", "training job status could not be read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_name": jobName, "status": status})
}

// SubscribeAlertsHandler subscribes an email address to validation
// failure alerts.
//
// POST /alerts/subscribe {"email":"ops@example.com"}
func SubscribeAlertsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Subscribe Alerts API called")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_EMAIL", "a valid email address is required")
		return
	}

	arn, err := internal.SubscribeAlertsEmail(ctx, req.Email)
	if errors.Is(err, internal.ErrAlreadySubscribed) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "already subscribed"})
		return
	}
	if err != nil {
		log.Printf("subscribe failed: %v", err)
		writeError(w, http.StatusBadGateway, "SUBSCRIBE_FAILED", "subscription could not be created")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":          "confirmation email sent",
		"subscription_arn": arn,
	})
}

// ValidationReportHandler returns a presigned link to the validation
// report of an uploaded file.
//
// GET /validation/report?source_key=uploads/orders.csv
func ValidationReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log.Println("Ordercast Validation Report API called")

	sourceKey := r.URL.Query().Get("source_key")
	if sourceKey == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARAMS", "source_key query parameter is required")
		return
	}

	bucket, ok := dataBucket(w)
	if !ok {
		return
	}
	reportKey := strings.TrimSuffix(sourceKey, ".csv") + "_validation_report.json"
	url, err := internal.GeneratePresignedGetURL(ctx, bucket, reportKey, 15*time.Minute)
	if err != nil {
		log.Printf("presign failed: %v", err)
		writeError(w, http.StatusBadGateway, "PRESIGN_FAILED", "report link could not be generated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report_url": url})
}
