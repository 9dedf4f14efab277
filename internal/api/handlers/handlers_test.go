package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeenode/predictd/internal/model"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/service"
	"github.com/skeenode/predictd/internal/storage/memory"
	"github.com/skeenode/predictd/internal/training"
	"github.com/skeenode/predictd/pkg/models"
)

type apiFixture struct {
	router   *mux.Router
	registry *registry.Registry
	store    *memory.Store
	release  chan struct{}
}

// blockingTrainer holds the training lock until released, so tests can
// observe the in-progress state deterministically.
type blockingTrainer struct {
	release chan struct{}
}

func (bt *blockingTrainer) Train(ctx context.Context) (*training.TrainedModel, error) {
	select {
	case <-bt.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return training.BaselineTrainer{}.Train(ctx)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := memory.NewStore()
	reg, err := registry.New(nil, store, store, nil)
	require.NoError(t, err)

	svc, err := service.New(&service.Config{CacheEnabled: true, CacheTTL: time.Minute}, reg, store, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	runner := training.NewRunner(store, reg, &blockingTrainer{release: release}, nil)

	router := mux.NewRouter()

	health := NewHealthHandler(reg, []Dependency{{Name: "memory", Store: store}}, "test", nil)
	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.Ready).Methods(http.MethodGet)
	router.HandleFunc("/live", health.Live).Methods(http.MethodGet)
	router.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	modelsHandler := NewModelsHandler(reg, nil)
	router.HandleFunc("/models", modelsHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/models/activate", modelsHandler.Activate).Methods(http.MethodPost)
	router.HandleFunc("/models/rollback/{version_id}", modelsHandler.Rollback).Methods(http.MethodPost)
	router.HandleFunc("/models/{version_id}", modelsHandler.Delete).Methods(http.MethodDelete)

	predictions := NewPredictionsHandler(svc, DefaultMaxBatchSize, nil)
	router.HandleFunc("/predict", predictions.Predict).Methods(http.MethodPost)
	router.HandleFunc("/predict/batch", predictions.PredictBatch).Methods(http.MethodPost)

	trainingHandler := NewTrainingHandler(runner, nil)
	router.HandleFunc("/training/start", trainingHandler.Start).Methods(http.MethodPost)
	router.HandleFunc("/training/status", trainingHandler.Status).Methods(http.MethodGet)

	return &apiFixture{router: router, registry: reg, store: store, release: release}
}

func (f *apiFixture) registerModel(t *testing.T, probability float64, activate bool) string {
	t.Helper()
	artifact, err := model.Encode(&model.ConstantModel{Probability: probability}, nil)
	require.NoError(t, err)
	versionID, err := f.registry.Register(context.Background(), artifact, registry.RegisterOptions{
		ModelType: model.TypeConstant,
		Activate:  activate,
	})
	require.NoError(t, err)
	return versionID
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func predictPayload(jobID string) *models.PredictionRequest {
	return &models.PredictionRequest{
		JobID: jobID,
		Features: models.JobFeatures{
			DayOfWeek:      1,
			Hour:           9,
			JobType:        "DOCKER",
			ExecutionCount: 3,
		},
	}
}

func TestPredictEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.registerModel(t, 0.2, true)

	rec := f.do(t, http.MethodPost, "/predict", predictPayload("job-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "job-1", response.JobID)
	assert.Equal(t, models.DecisionProceed, response.Decision)
	assert.NotEmpty(t, response.ModelVersion)
}

func TestPredictNoActiveModel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/predict", predictPayload("job-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPredictInvalidBody(t *testing.T) {
	f := newAPIFixture(t)
	f.registerModel(t, 0.2, true)

	r := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictInvalidFeatures(t *testing.T) {
	f := newAPIFixture(t)
	f.registerModel(t, 0.2, true)

	payload := predictPayload("job-1")
	payload.Features.JobType = "COBOL"

	rec := f.do(t, http.MethodPost, "/predict", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JOB_TYPE")
}

func TestPredictBatchEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.registerModel(t, 0.2, true)

	batch := models.BatchPredictionRequest{}
	for i := 0; i < 3; i++ {
		batch.Predictions = append(batch.Predictions, *predictPayload(fmt.Sprintf("job-%d", i)))
	}

	rec := f.do(t, http.MethodPost, "/predict/batch", batch)
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.BatchPredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response.Results, 3)
}

func TestPredictBatchTooLarge(t *testing.T) {
	// No active model on purpose: an oversized batch must be rejected
	// before any prediction is attempted, so this returns 422 rather
	// than 503.
	f := newAPIFixture(t)

	batch := models.BatchPredictionRequest{}
	for i := 0; i < DefaultMaxBatchSize+1; i++ {
		batch.Predictions = append(batch.Predictions, *predictPayload(fmt.Sprintf("job-%d", i)))
	}

	rec := f.do(t, http.MethodPost, "/predict/batch", batch)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "BATCH_TOO_LARGE")
}

func TestPredictBatchEmpty(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/predict/batch", models.BatchPredictionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsList(t *testing.T) {
	f := newAPIFixture(t)
	active := f.registerModel(t, 0.2, true)
	f.registerModel(t, 0.4, false)

	rec := f.do(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.ModelListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response.Models, 2)
	assert.Equal(t, active, response.ActiveVersion)
}

func TestActivateEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerModel(t, 0.2, false)

	rec := f.do(t, http.MethodPost, "/models/activate", models.ActivateModelRequest{VersionID: id})
	require.Equal(t, http.StatusOK, rec.Code)

	v, ok := f.registry.GetVersion(id)
	require.True(t, ok)
	assert.True(t, v.IsActive)
	assert.Equal(t, 1.0, v.TrafficWeight)
}

func TestActivateUnknownVersion(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/models/activate", models.ActivateModelRequest{VersionID: "v_missing_0"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "VERSION_NOT_FOUND")
}

func TestActivateInvalidWeight(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerModel(t, 0.2, false)

	weight := 1.5
	rec := f.do(t, http.MethodPost, "/models/activate", models.ActivateModelRequest{
		VersionID:     id,
		TrafficWeight: &weight,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivateMissingVersionID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/models/activate", models.ActivateModelRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRollbackEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	a := f.registerModel(t, 0.2, true)
	b := f.registerModel(t, 0.4, true)

	rec := f.do(t, http.MethodPost, "/models/rollback/"+a, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	va, _ := f.registry.GetVersion(a)
	vb, _ := f.registry.GetVersion(b)
	assert.True(t, va.IsActive)
	assert.False(t, vb.IsActive)
}

func TestRollbackUnknownVersion(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/models/rollback/v_missing_0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteActiveVersionRejected(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerModel(t, 0.2, true)

	rec := f.do(t, http.MethodDelete, "/models/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VERSION_ACTIVE")

	_, ok := f.registry.GetVersion(id)
	assert.True(t, ok)
}

func TestDeleteInactiveVersion(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerModel(t, 0.2, false)

	rec := f.do(t, http.MethodDelete, "/models/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := f.registry.GetVersion(id)
	assert.False(t, ok)
}

func TestReadyGatesOnActiveModel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f.registerModel(t, 0.2, true)

	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveAlwaysOK(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegradedWithoutModel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, models.HealthStatusDegraded, response.Status)
	assert.False(t, response.ModelLoaded)
}

func TestHealthHealthyWithModel(t *testing.T) {
	f := newAPIFixture(t)
	f.registerModel(t, 0.2, true)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, models.HealthStatusHealthy, response.Status)
	assert.True(t, response.ModelLoaded)
	require.Len(t, response.Dependencies, 1)
	assert.Equal(t, models.HealthStatusHealthy, response.Dependencies[0].Status)
}

func TestVersionEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "predictd")
}

func TestTrainingStartConflict(t *testing.T) {
	f := newAPIFixture(t)
	defer close(f.release)

	rec := f.do(t, http.MethodPost, "/training/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/training/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "TRAINING_IN_PROGRESS")
}

func TestTrainingStatus(t *testing.T) {
	f := newAPIFixture(t)
	defer close(f.release)

	rec := f.do(t, http.MethodGet, "/training/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/training/start", nil).Code)

	rec = f.do(t, http.MethodGet, "/training/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
}
