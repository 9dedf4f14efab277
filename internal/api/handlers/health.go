package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/storage"
	"github.com/skeenode/predictd/pkg/models"
)

// Dependency is an external store the health endpoint probes.
type Dependency struct {
	Name  string
	Store storage.Store
}

// HealthHandler serves the liveness, readiness and health endpoints.
type HealthHandler struct {
	registry       *registry.Registry
	dependencies   []Dependency
	serviceVersion string
	started        time.Time
	logger         *logrus.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(reg *registry.Registry, dependencies []Dependency, serviceVersion string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{
		registry:       reg,
		dependencies:   dependencies,
		serviceVersion: serviceVersion,
		started:        time.Now(),
		logger:         logger,
	}
}

// Health reports overall service health. A failed dependency or a missing
// active model degrades the service; it is unhealthy only when every
// dependency is down.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	deps := make([]models.DependencyHealth, 0, len(h.dependencies))
	failed := 0
	for _, dep := range h.dependencies {
		deps = append(deps, h.probe(r.Context(), dep))
		if deps[len(deps)-1].Status != models.HealthStatusHealthy {
			failed++
		}
	}

	modelLoaded := h.registry.HasActiveVersion()

	status := models.HealthStatusHealthy
	switch {
	case len(h.dependencies) > 0 && failed == len(h.dependencies):
		status = models.HealthStatusUnhealthy
	case failed > 0 || !modelLoaded:
		status = models.HealthStatusDegraded
	}

	writeJSON(w, http.StatusOK, &models.HealthResponse{
		Status:             status,
		Service:            "predictd",
		Version:            h.serviceVersion,
		UptimeSeconds:      time.Since(h.started).Seconds(),
		Timestamp:          time.Now().UTC(),
		Dependencies:       deps,
		ModelLoaded:        modelLoaded,
		ActiveModelVersion: h.registry.ActiveVersionPointer(r.Context()),
	})
}

// Ready gates traffic on a servable model being available.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.registry.HasActiveVersion() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "no active model available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live reports process liveness only.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Version reports build information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "predictd",
		"version": h.serviceVersion,
	})
}

func (h *HealthHandler) probe(ctx context.Context, dep Dependency) models.DependencyHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := dep.Store.Ping(probeCtx)
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		h.logger.WithError(err).WithField("dependency", dep.Name).Warn("Dependency health check failed")
		return models.DependencyHealth{
			Name:      dep.Name,
			Status:    models.HealthStatusUnhealthy,
			LatencyMs: latency,
			Message:   err.Error(),
		}
	}
	return models.DependencyHealth{
		Name:      dep.Name,
		Status:    models.HealthStatusHealthy,
		LatencyMs: latency,
	}
}
