package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// ModelsHandler serves the model lifecycle endpoints.
type ModelsHandler struct {
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(reg *registry.Registry, logger *logrus.Logger) *ModelsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelsHandler{registry: reg, logger: logger}
}

// List returns all registered versions and the advisory active pointer.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	versions := h.registry.ListVersions()

	infos := make([]models.ModelInfo, 0, len(versions))
	for _, v := range versions {
		infos = append(infos, models.ModelInfo{
			VersionID:     v.VersionID,
			ModelType:     v.ModelType,
			CreatedAt:     v.CreatedAt,
			IsActive:      v.IsActive,
			TrafficWeight: v.TrafficWeight,
			Metrics:       v.Metrics,
			Features:      v.Features,
		})
	}

	writeJSON(w, http.StatusOK, &models.ModelListResponse{
		Models:        infos,
		ActiveVersion: h.registry.ActiveVersionPointer(r.Context()),
	})
}

// Activate routes traffic to a version. Omitting the traffic weight promotes
// the version as the single active one.
func (h *ModelsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req models.ActivateModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.VersionID == "" {
		writeError(w, r, errors.NewValidationError(errors.CodeMissingField, "version_id is required"))
		return
	}

	weight := 1.0
	if req.TrafficWeight != nil {
		weight = *req.TrafficWeight
		if weight <= 0 || weight > 1 {
			writeError(w, r, errors.NewValidationError(errors.CodeOutOfRange, "traffic_weight must be in (0, 1]"))
			return
		}
	}

	if err := h.registry.Activate(r.Context(), req.VersionID, weight); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version_id":     req.VersionID,
		"traffic_weight": weight,
		"status":         "activated",
	})
}

// Rollback restores a previous version as the single active one.
func (h *ModelsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	versionID := mux.Vars(r)["version_id"]

	if err := h.registry.Rollback(r.Context(), versionID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"version_id": versionID,
		"status":     "activated",
	})
}

// Delete removes an inactive version. Deleting the active version is a
// client error, not a conflict: the client must roll traffic away first.
func (h *ModelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	versionID := mux.Vars(r)["version_id"]

	if err := h.registry.Delete(r.Context(), versionID); err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Code == errors.CodeVersionActive {
			appErr.HTTPStatus = http.StatusBadRequest
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"version_id": versionID,
		"status":     "deleted",
	})
}
