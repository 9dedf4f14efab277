// Package service orchestrates single and batch predictions: cache lookup,
// weighted model selection, feature vectorization, decision thresholding
// and opportunistic cache population.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/model"
	"github.com/skeenode/predictd/internal/observability/metrics"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/storage"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// Decision thresholds on the failure probability.
const (
	AbortThreshold = 0.7
	DelayThreshold = 0.4
)

// Config contains prediction service configuration.
type Config struct {
	CacheEnabled bool          `json:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Service executes predictions against the model registry. The cache and
// the registry are independent failure domains: a cache outage degrades to
// always-miss, a registry outage fails the prediction.
type Service struct {
	config   *Config
	registry *registry.Registry
	cache    storage.PredictionCache
	logger   *logrus.Logger
}

// New creates a prediction service. cache may be nil when caching is
// disabled.
func New(config *Config, reg *registry.Registry, cache storage.PredictionCache, logger *logrus.Logger) (*Service, error) {
	if reg == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "registry is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Service{
		config:   config,
		registry: reg,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Predict executes one prediction.
func (s *Service) Predict(ctx context.Context, request *models.PredictionRequest) (*models.PredictionResponse, error) {
	start := time.Now()

	cacheKey := s.cacheKey(request)
	if s.cacheOn() {
		if cached := s.getCached(ctx, cacheKey); cached != nil {
			cached.Cached = true
			cached.LatencyMs = elapsedMs(start)
			metrics.IncCacheHit()
			return cached, nil
		}
		metrics.IncCacheMiss()
	}

	versionID, m, err := s.registry.SelectForPrediction(ctx)
	if err != nil {
		return nil, err
	}

	version, ok := s.registry.GetVersion(versionID)
	if !ok {
		// Deleted between selection and lookup; treat like a miss of the
		// active set.
		return nil, errors.NewUnavailableError("no active model available")
	}

	vector := model.Vector(version.Features, request.Features.Record())

	probability, err := m.PredictProba(vector)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePrediction, errors.CodePredictionFailed, "model prediction failed").
			WithContext("model_version", versionID).
			WithContext("feature_count", len(vector))
	}

	decision := makeDecision(probability)
	confidence := math.Abs(probability-0.5) * 2

	response := &models.PredictionResponse{
		JobID:              request.JobID,
		RequestID:          request.RequestID,
		FailureProbability: probability,
		Confidence:         confidence,
		Decision:           decision,
		ModelVersion:       versionID,
		LatencyMs:          elapsedMs(start),
		Cached:             false,
	}

	if s.cacheOn() {
		if err := s.cache.SetPrediction(ctx, cacheKey, response, s.config.CacheTTL); err != nil {
			s.logger.WithError(err).Warn("Prediction cache write failed")
		}
	}

	metrics.ObservePrediction(string(decision), time.Since(start).Seconds())
	s.logger.WithFields(logrus.Fields{
		"job_id":        request.JobID,
		"probability":   probability,
		"decision":      decision,
		"model_version": versionID,
		"latency_ms":    response.LatencyMs,
	}).Info("Prediction served")

	return response, nil
}

// PredictBatch fans out over Predict sequentially. The reported total
// latency is the wall-clock span of the whole batch, not the sum of the
// individual latencies. Batch size limits are enforced at the API layer.
func (s *Service) PredictBatch(ctx context.Context, requests []models.PredictionRequest) ([]*models.PredictionResponse, float64, error) {
	start := time.Now()

	results := make([]*models.PredictionResponse, 0, len(requests))
	for i := range requests {
		response, err := s.Predict(ctx, &requests[i])
		if err != nil {
			return nil, elapsedMs(start), err
		}
		results = append(results, response)
	}

	return results, elapsedMs(start), nil
}

func (s *Service) cacheOn() bool {
	return s.config.CacheEnabled && s.cache != nil
}

func (s *Service) getCached(ctx context.Context, key string) *models.PredictionResponse {
	cached, err := s.cache.GetPrediction(ctx, key)
	if err != nil {
		// Cache problems never become prediction failures.
		s.logger.WithError(err).Warn("Prediction cache read failed")
		return nil
	}
	return cached
}

// cacheKey derives a stable hash over the job id and the normalized feature
// record. The request id is deliberately excluded so identical inputs share
// an entry.
func (s *Service) cacheKey(request *models.PredictionRequest) string {
	payload := struct {
		JobID    string             `json:"job_id"`
		Features map[string]float64 `json:"features"`
	}{
		JobID:    request.JobID,
		Features: request.Features.Record(),
	}

	// Map keys marshal in sorted order, so the encoding is deterministic.
	data, _ := json.Marshal(payload)
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:16]
}

func makeDecision(probability float64) models.Decision {
	switch {
	case probability >= AbortThreshold:
		return models.DecisionAbort
	case probability >= DelayThreshold:
		return models.DecisionDelay
	default:
		return models.DecisionProceed
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
