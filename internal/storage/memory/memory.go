// Package memory provides process-local implementations of the storage
// interfaces. They back unit tests and single-process deployments that run
// without Redis; cross-process replication obviously does not apply.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// Store implements the version store, prediction cache, training
// coordinator and artifact store in process memory.
type Store struct {
	mu            sync.RWMutex
	versions      map[string]*models.ModelVersion
	activeVersion string
	artifacts     map[string][]byte
	predictions   map[string]cachedPrediction
	trainingLock  bool
	trainingRes   map[string]interface{}
	now           func() time.Time
}

type cachedPrediction struct {
	response  *models.PredictionResponse
	expiresAt time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		versions:    make(map[string]*models.ModelVersion),
		artifacts:   make(map[string][]byte),
		predictions: make(map[string]cachedPrediction),
		now:         time.Now,
	}
}

// SetClock overrides the time source, for TTL tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Connect is a no-op.
func (s *Store) Connect(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ping is a no-op.
func (s *Store) Ping(ctx context.Context) error { return nil }

// PutVersion upserts a version record.
func (s *Store) PutVersion(ctx context.Context, version *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[version.VersionID] = version.Clone()
	return nil
}

// GetVersions returns a copy of all version records.
func (s *Store) GetVersions(ctx context.Context) (map[string]*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.ModelVersion, len(s.versions))
	for id, v := range s.versions {
		out[id] = v.Clone()
	}
	return out, nil
}

// DeleteVersion removes a version record.
func (s *Store) DeleteVersion(ctx context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, versionID)
	return nil
}

// SetActiveVersion records the advisory active pointer.
func (s *Store) SetActiveVersion(ctx context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeVersion = versionID
	return nil
}

// GetActiveVersion returns the advisory active pointer.
func (s *Store) GetActiveVersion(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeVersion, nil
}

// PutArtifact stores an artifact blob.
func (s *Store) PutArtifact(ctx context.Context, versionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.artifacts[versionID] = cp
	return nil
}

// GetArtifact reads an artifact blob.
func (s *Store) GetArtifact(ctx context.Context, versionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[versionID]
	if !ok {
		return nil, errors.WrapError(errors.ErrArtifactNotFound, errors.ErrorTypeStorage, errors.CodeReadFailed,
			"artifact "+versionID+" not found")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// DeleteArtifact removes an artifact blob.
func (s *Store) DeleteArtifact(ctx context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, versionID)
	return nil
}

// GetPrediction returns a cached response, or nil when missing or expired.
func (s *Store) GetPrediction(ctx context.Context, key string) (*models.PredictionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.predictions[key]
	if !ok {
		return nil, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.predictions, key)
		return nil, nil
	}
	cp := *entry.response
	return &cp, nil
}

// SetPrediction stores a response with a TTL.
func (s *Store) SetPrediction(ctx context.Context, key string, response *models.PredictionResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *response
	s.predictions[key] = cachedPrediction{
		response:  &cp,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// AcquireTrainingLock tries to take the training lock.
func (s *Store) AcquireTrainingLock(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trainingLock {
		return false, nil
	}
	s.trainingLock = true
	return true, nil
}

// ReleaseTrainingLock releases the training lock.
func (s *Store) ReleaseTrainingLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainingLock = false
	return nil
}

// TrainingRunning reports whether the lock is held.
func (s *Store) TrainingRunning(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trainingLock, nil
}

// SetTrainingResult stores the outcome of the last training run.
func (s *Store) SetTrainingResult(ctx context.Context, result map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainingRes = result
	return nil
}

// GetTrainingResult returns the outcome of the last run, or nil.
func (s *Store) GetTrainingResult(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trainingRes, nil
}
