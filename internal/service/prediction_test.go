package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeenode/predictd/internal/model"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/storage/memory"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

type fixture struct {
	service  *Service
	registry *registry.Registry
	store    *memory.Store
}

// newFixture builds a service over an in-memory store with one active
// constant model returning the given probability.
func newFixture(t *testing.T, probability float64, config *Config) *fixture {
	t.Helper()

	store := memory.NewStore()
	reg, err := registry.New(nil, store, store, nil)
	require.NoError(t, err)

	artifact, err := model.Encode(&model.ConstantModel{Probability: probability}, nil)
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), artifact, registry.RegisterOptions{
		ModelType: model.TypeConstant,
		Activate:  true,
	})
	require.NoError(t, err)

	if config == nil {
		config = &Config{CacheEnabled: true, CacheTTL: 5 * time.Minute}
	}
	svc, err := New(config, reg, store, nil)
	require.NoError(t, err)

	return &fixture{service: svc, registry: reg, store: store}
}

func testRequest(jobID string) *models.PredictionRequest {
	return &models.PredictionRequest{
		JobID: jobID,
		Features: models.JobFeatures{
			DayOfWeek:      2,
			Hour:           14,
			JobType:        "SHELL",
			ExecutionCount: 10,
		},
	}
}

func TestPredictDecisionThresholds(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		decision    models.Decision
	}{
		{"high probability aborts", 0.85, models.DecisionAbort},
		{"abort boundary", 0.70, models.DecisionAbort},
		{"mid probability delays", 0.55, models.DecisionDelay},
		{"delay boundary", 0.40, models.DecisionDelay},
		{"low probability proceeds", 0.10, models.DecisionProceed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.probability, nil)

			response, err := f.service.Predict(context.Background(), testRequest("job-1"))
			require.NoError(t, err)

			assert.Equal(t, tt.decision, response.Decision)
			assert.InDelta(t, tt.probability, response.FailureProbability, 1e-9)
			assert.InDelta(t, 2*abs(tt.probability-0.5), response.Confidence, 1e-9)
		})
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestPredictPopulatesResponseFields(t *testing.T) {
	f := newFixture(t, 0.3, nil)

	request := testRequest("job-42")
	request.RequestID = "req-7"
	response, err := f.service.Predict(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, "job-42", response.JobID)
	assert.Equal(t, "req-7", response.RequestID)
	assert.NotEmpty(t, response.ModelVersion)
	assert.False(t, response.Cached)
	assert.GreaterOrEqual(t, response.LatencyMs, 0.0)
}

func TestPredictCacheHit(t *testing.T) {
	f := newFixture(t, 0.3, nil)
	ctx := context.Background()

	first, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.FailureProbability, second.FailureProbability)
	assert.Equal(t, first.ModelVersion, second.ModelVersion)
}

func TestPredictCacheKeyedByInput(t *testing.T) {
	f := newFixture(t, 0.3, nil)
	ctx := context.Background()

	_, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)

	other, err := f.service.Predict(ctx, testRequest("job-2"))
	require.NoError(t, err)
	assert.False(t, other.Cached)

	changed := testRequest("job-1")
	changed.Features.Hour = 3
	response, err := f.service.Predict(ctx, changed)
	require.NoError(t, err)
	assert.False(t, response.Cached)
}

func TestPredictCacheExpiry(t *testing.T) {
	f := newFixture(t, 0.3, &Config{CacheEnabled: true, CacheTTL: 5 * time.Minute})
	ctx := context.Background()

	now := time.Now()
	f.store.SetClock(func() time.Time { return now })

	_, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)

	f.store.SetClock(func() time.Time { return now.Add(6 * time.Minute) })

	response, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.False(t, response.Cached)
}

func TestPredictCacheDisabled(t *testing.T) {
	f := newFixture(t, 0.3, &Config{CacheEnabled: false})
	ctx := context.Background()

	_, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)

	second, err := f.service.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.False(t, second.Cached)
}

func TestPredictNoActiveModel(t *testing.T) {
	store := memory.NewStore()
	reg, err := registry.New(nil, store, store, nil)
	require.NoError(t, err)
	svc, err := New(nil, reg, store, nil)
	require.NoError(t, err)

	_, err = svc.Predict(context.Background(), testRequest("job-1"))
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, 503, appErr.HTTPStatus)
}

func TestPredictModelFailureWrapped(t *testing.T) {
	store := memory.NewStore()
	reg, err := registry.New(nil, store, store, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Artifact declares two weights but the registered feature schema has
	// six entries, so vectorization feeds the model a mismatched input.
	artifact, err := model.Encode(&model.LinearModel{Weights: []float64{0.1, 0.2}, Bias: 0},
		[]string{models.FeatureDayOfWeek, models.FeatureHour})
	require.NoError(t, err)
	_, err = reg.Register(ctx, artifact, registry.RegisterOptions{
		Features:  models.DefaultFeatures,
		ModelType: model.TypeLinear,
		Activate:  true,
	})
	require.NoError(t, err)

	svc, err := New(nil, reg, store, nil)
	require.NoError(t, err)

	_, err = svc.Predict(ctx, testRequest("job-1"))
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, errors.CodePredictionFailed, appErr.Code)
	assert.Equal(t, 500, appErr.HTTPStatus)
}

func TestPredictBatch(t *testing.T) {
	f := newFixture(t, 0.3, nil)

	requests := []models.PredictionRequest{
		*testRequest("job-1"),
		*testRequest("job-2"),
		*testRequest("job-3"),
	}

	results, totalLatencyMs, err := f.service.PredictBatch(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.GreaterOrEqual(t, totalLatencyMs, 0.0)

	for i, response := range results {
		assert.Equal(t, requests[i].JobID, response.JobID)
		assert.Equal(t, models.DecisionProceed, response.Decision)
	}
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}

// Full lifecycle: register, activate, serve, supersede, roll back.
func TestModelLifecycleFlow(t *testing.T) {
	store := memory.NewStore()
	reg, err := registry.New(nil, store, store, nil)
	require.NoError(t, err)
	svc, err := New(&Config{CacheEnabled: false}, reg, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	registerConstant := func(probability float64, activate bool) string {
		artifact, err := model.Encode(&model.ConstantModel{Probability: probability}, nil)
		require.NoError(t, err)
		id, err := reg.Register(ctx, artifact, registry.RegisterOptions{
			ModelType: model.TypeConstant,
			Activate:  activate,
		})
		require.NoError(t, err)
		return id
	}

	a := registerConstant(0.1, false)
	versions := reg.ListVersions()
	require.Len(t, versions, 1)
	assert.False(t, versions[0].IsActive)

	require.NoError(t, reg.Activate(ctx, a, 1.0))
	response, err := svc.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.Equal(t, a, response.ModelVersion)
	assert.Equal(t, models.DecisionProceed, response.Decision)

	b := registerConstant(0.8, true)
	va, _ := reg.GetVersion(a)
	assert.False(t, va.IsActive)
	assert.Equal(t, 0.0, va.TrafficWeight)

	response, err = svc.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.Equal(t, b, response.ModelVersion)
	assert.Equal(t, models.DecisionAbort, response.Decision)

	require.NoError(t, reg.Rollback(ctx, a))
	response, err = svc.Predict(ctx, testRequest("job-1"))
	require.NoError(t, err)
	assert.Equal(t, a, response.ModelVersion)
	assert.Equal(t, models.DecisionProceed, response.Decision)
}
