package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/training"
	"github.com/skeenode/predictd/pkg/errors"
)

// TrainingHandler serves the training coordination endpoints.
type TrainingHandler struct {
	runner *training.Runner
	logger *logrus.Logger
}

// NewTrainingHandler creates a training handler.
func NewTrainingHandler(runner *training.Runner, logger *logrus.Logger) *TrainingHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TrainingHandler{runner: runner, logger: logger}
}

// Start launches a background training run. The body is optional; an empty
// body uses default options.
func (h *TrainingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var opts training.StartOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && err != io.EOF {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput, "invalid request body"))
		return
	}

	if err := h.runner.Start(r.Context(), opts); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Status reports whether training is running and the last recorded result.
func (h *TrainingHandler) Status(w http.ResponseWriter, r *http.Request) {
	running, lastResult, err := h.runner.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":     running,
		"last_result": lastResult,
	})
}
