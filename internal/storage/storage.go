package storage

import (
	"context"
	"time"

	"github.com/skeenode/predictd/pkg/models"
)

// Store is the common lifecycle for storage backends.
type Store interface {
	// Connect establishes connection to the storage backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// ArtifactStore holds the opaque serialized model blobs, addressed by
// version id.
type ArtifactStore interface {
	Store

	// PutArtifact durably writes an artifact blob
	PutArtifact(ctx context.Context, versionID string, data []byte) error

	// GetArtifact reads an artifact blob
	GetArtifact(ctx context.Context, versionID string) ([]byte, error)

	// DeleteArtifact removes an artifact blob
	DeleteArtifact(ctx context.Context, versionID string) error
}

// VersionStore is the durable, shared record of registered model versions.
// It is the replication medium between registry instances: writes from one
// process become visible to others on their next reconciliation pass.
type VersionStore interface {
	Store

	// PutVersion upserts a version record
	PutVersion(ctx context.Context, version *models.ModelVersion) error

	// GetVersions reads all version records
	GetVersions(ctx context.Context) (map[string]*models.ModelVersion, error)

	// DeleteVersion removes a version record
	DeleteVersion(ctx context.Context, versionID string) error

	// SetActiveVersion records the advisory active-version pointer
	SetActiveVersion(ctx context.Context, versionID string) error

	// GetActiveVersion reads the advisory active-version pointer, or ""
	GetActiveVersion(ctx context.Context) (string, error)
}

// PredictionCache stores computed prediction responses under a derived key
// with a TTL. A nil response with nil error means a cache miss.
type PredictionCache interface {
	// GetPrediction returns the cached response for a key, or nil on miss
	GetPrediction(ctx context.Context, key string) (*models.PredictionResponse, error)

	// SetPrediction stores a response under a key with the given TTL
	SetPrediction(ctx context.Context, key string, response *models.PredictionResponse, ttl time.Duration) error
}

// TrainingCoordinator serializes training runs across processes with a
// TTL lock and records the last run's outcome.
type TrainingCoordinator interface {
	// AcquireTrainingLock tries to take the training lock; false when held
	AcquireTrainingLock(ctx context.Context) (bool, error)

	// ReleaseTrainingLock releases the training lock
	ReleaseTrainingLock(ctx context.Context) error

	// TrainingRunning reports whether the lock is currently held
	TrainingRunning(ctx context.Context) (bool, error)

	// SetTrainingResult stores the outcome of the last training run
	SetTrainingResult(ctx context.Context, result map[string]interface{}) error

	// GetTrainingResult returns the outcome of the last run, or nil
	GetTrainingResult(ctx context.Context) (map[string]interface{}, error)
}
