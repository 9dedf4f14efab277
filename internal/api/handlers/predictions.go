package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/service"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// DefaultMaxBatchSize caps the number of predictions per batch request.
const DefaultMaxBatchSize = 100

// PredictionsHandler serves the prediction endpoints.
type PredictionsHandler struct {
	service      *service.Service
	maxBatchSize int
	logger       *logrus.Logger
}

// NewPredictionsHandler creates a predictions handler.
func NewPredictionsHandler(svc *service.Service, maxBatchSize int, logger *logrus.Logger) *PredictionsHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PredictionsHandler{
		service:      svc,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// Predict serves one prediction.
func (h *PredictionsHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req models.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	response, err := h.service.Predict(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// PredictBatch serves up to maxBatchSize predictions in one request. The
// whole batch is validated before any model is invoked, so an oversized or
// malformed batch costs nothing.
func (h *PredictionsHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchPredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput, "invalid request body"))
		return
	}
	if len(req.Predictions) == 0 {
		writeError(w, r, errors.NewValidationError(errors.CodeMissingField, "predictions must not be empty"))
		return
	}
	if len(req.Predictions) > h.maxBatchSize {
		appErr := errors.NewValidationError(errors.CodeBatchTooLarge,
			fmt.Sprintf("batch size %d exceeds maximum %d", len(req.Predictions), h.maxBatchSize))
		appErr.HTTPStatus = http.StatusUnprocessableEntity
		writeError(w, r, appErr)
		return
	}
	for i := range req.Predictions {
		if err := req.Predictions[i].Validate(); err != nil {
			writeError(w, r, err)
			return
		}
	}

	results, totalLatencyMs, err := h.service.PredictBatch(r.Context(), req.Predictions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &models.BatchPredictionResponse{
		Results:        results,
		TotalLatencyMs: totalLatencyMs,
	})
}
