package models

import (
	"strings"
	"time"

	"github.com/skeenode/predictd/pkg/errors"
)

// Decision is the action derived from a failure probability.
type Decision string

const (
	DecisionProceed Decision = "PROCEED"
	DecisionDelay   Decision = "DELAY"
	DecisionAbort   Decision = "ABORT"
)

// Feature names a model can declare in its schema.
const (
	FeatureDayOfWeek      = "day_of_week"
	FeatureHour           = "hour"
	FeatureJobTypeLen     = "job_type_len"
	FeatureExecutionCount = "execution_count"
	FeatureAvgDurationMs  = "avg_duration_ms"
	FeatureFailureRate    = "failure_rate"
)

// DefaultFeatures is the schema registered for models trained on the
// standard job feature record.
var DefaultFeatures = []string{
	FeatureDayOfWeek,
	FeatureHour,
	FeatureJobTypeLen,
	FeatureExecutionCount,
	FeatureAvgDurationMs,
	FeatureFailureRate,
}

var allowedJobTypes = map[string]struct{}{
	"SHELL":      {},
	"DOCKER":     {},
	"HTTP":       {},
	"KUBERNETES": {},
}

// JobFeatures are the typed features extracted from a job.
// AvgDurationMs and FailureRate are optional and default to zero when the
// record is turned into a model input vector.
type JobFeatures struct {
	DayOfWeek      int      `json:"day_of_week"`
	Hour           int      `json:"hour"`
	JobType        string   `json:"job_type"`
	ExecutionCount int      `json:"execution_count"`
	AvgDurationMs  *float64 `json:"avg_duration_ms,omitempty"`
	FailureRate    *float64 `json:"failure_rate,omitempty"`
}

// Validate checks field ranges and normalizes the job type to upper case.
func (f *JobFeatures) Validate() error {
	if f.DayOfWeek < 0 || f.DayOfWeek > 6 {
		return errors.NewValidationError(errors.CodeOutOfRange, "day_of_week must be between 0 and 6")
	}
	if f.Hour < 0 || f.Hour > 23 {
		return errors.NewValidationError(errors.CodeOutOfRange, "hour must be between 0 and 23")
	}
	if f.JobType == "" {
		return errors.NewValidationError(errors.CodeMissingField, "job_type is required")
	}
	jobType := strings.ToUpper(f.JobType)
	if _, ok := allowedJobTypes[jobType]; !ok {
		return errors.NewValidationError(errors.CodeInvalidJobType, "job_type must be one of SHELL, DOCKER, HTTP, KUBERNETES")
	}
	f.JobType = jobType
	if f.ExecutionCount < 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "execution_count must not be negative")
	}
	if f.FailureRate != nil && (*f.FailureRate < 0 || *f.FailureRate > 1) {
		return errors.NewValidationError(errors.CodeOutOfRange, "failure_rate must be between 0 and 1")
	}
	return nil
}

// Record flattens the features into a named numeric record. Missing optional
// values become 0.
func (f *JobFeatures) Record() map[string]float64 {
	record := map[string]float64{
		FeatureDayOfWeek:      float64(f.DayOfWeek),
		FeatureHour:           float64(f.Hour),
		FeatureJobTypeLen:     float64(len(f.JobType)),
		FeatureExecutionCount: float64(f.ExecutionCount),
		FeatureAvgDurationMs:  0,
		FeatureFailureRate:    0,
	}
	if f.AvgDurationMs != nil {
		record[FeatureAvgDurationMs] = *f.AvgDurationMs
	}
	if f.FailureRate != nil {
		record[FeatureFailureRate] = *f.FailureRate
	}
	return record
}

// PredictionRequest is a single failure-prediction request.
type PredictionRequest struct {
	JobID     string      `json:"job_id"`
	Features  JobFeatures `json:"features"`
	RequestID string      `json:"request_id,omitempty"`
}

// Validate checks the request before it reaches the prediction service.
func (r *PredictionRequest) Validate() error {
	if r.JobID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "job_id is required")
	}
	return r.Features.Validate()
}

// PredictionResponse is the result of one prediction.
type PredictionResponse struct {
	JobID              string   `json:"job_id"`
	RequestID          string   `json:"request_id,omitempty"`
	FailureProbability float64  `json:"failure_probability"`
	Confidence         float64  `json:"confidence"`
	Decision           Decision `json:"decision"`
	ModelVersion       string   `json:"model_version"`
	LatencyMs          float64  `json:"latency_ms"`
	Cached             bool     `json:"cached"`
}

// BatchPredictionRequest carries up to the configured maximum of requests.
type BatchPredictionRequest struct {
	Predictions []PredictionRequest `json:"predictions"`
}

// BatchPredictionResponse reports individual results and the wall-clock
// span of the whole batch.
type BatchPredictionResponse struct {
	Results        []*PredictionResponse `json:"results"`
	TotalLatencyMs float64               `json:"total_latency_ms"`
}

// HealthStatus values reported by the health endpoint.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DependencyHealth reports the state of one external dependency.
type DependencyHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	LatencyMs float64      `json:"latency_ms,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status             HealthStatus       `json:"status"`
	Service            string             `json:"service"`
	Version            string             `json:"version"`
	UptimeSeconds      float64            `json:"uptime_seconds"`
	Timestamp          time.Time          `json:"timestamp"`
	Dependencies       []DependencyHealth `json:"dependencies"`
	ModelLoaded        bool               `json:"model_loaded"`
	ActiveModelVersion string             `json:"active_model_version,omitempty"`
}
