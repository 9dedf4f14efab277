package models

import (
	"time"
)

// ModelVersion holds the metadata for one registered model artifact.
// VersionID, CreatedAt, Metrics, Features and ModelType are immutable once
// registered; IsActive and TrafficWeight change only through registry
// lifecycle operations.
type ModelVersion struct {
	VersionID        string             `json:"version_id"`
	ArtifactLocation string             `json:"artifact_location"`
	CreatedAt        time.Time          `json:"created_at"`
	Metrics          map[string]float64 `json:"metrics"`
	IsActive         bool               `json:"is_active"`
	TrafficWeight    float64            `json:"traffic_weight"`
	Features         []string           `json:"features"`
	ModelType        string             `json:"model_type"`
}

// Clone returns a deep copy safe for concurrent readers.
func (v *ModelVersion) Clone() *ModelVersion {
	cp := *v
	if v.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(v.Metrics))
		for k, val := range v.Metrics {
			cp.Metrics[k] = val
		}
	}
	if v.Features != nil {
		cp.Features = append([]string(nil), v.Features...)
	}
	return &cp
}

// ModelInfo is the API representation of a registered version.
type ModelInfo struct {
	VersionID     string             `json:"version_id"`
	ModelType     string             `json:"model_type"`
	CreatedAt     time.Time          `json:"created_at"`
	IsActive      bool               `json:"is_active"`
	TrafficWeight float64            `json:"traffic_weight"`
	Metrics       map[string]float64 `json:"metrics"`
	Features      []string           `json:"features"`
}

// ModelListResponse lists registered versions plus the advisory active
// pointer from the version store.
type ModelListResponse struct {
	Models        []ModelInfo `json:"models"`
	ActiveVersion string      `json:"active_version,omitempty"`
}

// ActivateModelRequest asks the registry to route traffic to a version.
type ActivateModelRequest struct {
	VersionID     string   `json:"version_id"`
	TrafficWeight *float64 `json:"traffic_weight,omitempty"`
}
