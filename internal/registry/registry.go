// Package registry maintains the authoritative in-memory view of model
// versions, replicated to a shared version store so other serving processes
// pick up activations and rollbacks within one reconciliation interval.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/model"
	"github.com/skeenode/predictd/internal/observability/metrics"
	"github.com/skeenode/predictd/internal/storage"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// Config contains registry configuration.
type Config struct {
	// ReconcileInterval is how often the background loop re-reads version
	// metadata from the store. Zero disables the loop.
	ReconcileInterval time.Duration `json:"reconcile_interval" yaml:"reconcile_interval"`

	// Rand supplies uniform draws in [0,1) for weighted selection. Tests
	// inject a fixed sequence; production uses math/rand.
	Rand func() float64 `json:"-" yaml:"-"`
}

// RegisterOptions carries the metadata accompanying a new artifact.
type RegisterOptions struct {
	Metrics       map[string]float64
	Features      []string
	ModelType     string
	Activate      bool
	TrafficWeight float64
}

// Registry owns the version map and the per-process materialized model
// cache. Both are guarded by one RWMutex; artifact loads happen outside the
// lock with double-checked insertion.
type Registry struct {
	config    *Config
	store     storage.VersionStore
	artifacts storage.ArtifactStore
	logger    *logrus.Logger

	mu       sync.RWMutex
	versions map[string]*models.ModelVersion
	resident map[string]model.Model
	// deleting marks versions with a removal in flight so Activate cannot
	// promote a version between its inactive check and its map removal.
	deleting map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a registry backed by the given stores.
func New(config *Config, store storage.VersionStore, artifacts storage.ArtifactStore, logger *logrus.Logger) (*Registry, error) {
	if store == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "version store is required")
	}
	if artifacts == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "artifact store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Rand == nil {
		config.Rand = rand.Float64
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Registry{
		config:    config,
		store:     store,
		artifacts: artifacts,
		logger:    logger,
		versions:  make(map[string]*models.ModelVersion),
		resident:  make(map[string]model.Model),
		deleting:  make(map[string]struct{}),
	}, nil
}

// LoadFromStore replaces the in-memory version map with the store contents.
// Called once at startup before serving.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	stored, err := r.store.GetVersions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.versions = stored
	r.mu.Unlock()

	metrics.SetActiveVersions(r.countActive())
	r.logger.WithField("versions", len(stored)).Info("Loaded model versions from store")
	return nil
}

// Register persists a new artifact and its metadata, then adds the version
// to the in-memory map. Registration fails closed: no in-memory entry
// without durable metadata, and no metadata without a durable artifact.
func (r *Registry) Register(ctx context.Context, artifact []byte, opts RegisterOptions) (string, error) {
	decoded, _, err := model.Decode(artifact)
	if err != nil {
		return "", err
	}

	versionID := newVersionID(artifact)

	r.mu.RLock()
	_, exists := r.versions[versionID]
	r.mu.RUnlock()
	if exists {
		return "", errors.NewConflictError("VERSION_EXISTS",
			fmt.Sprintf("version %s already registered", versionID))
	}

	if err := r.artifacts.PutArtifact(ctx, versionID, artifact); err != nil {
		return "", err
	}

	version := &models.ModelVersion{
		VersionID:        versionID,
		ArtifactLocation: versionID,
		CreatedAt:        time.Now().UTC(),
		Metrics:          opts.Metrics,
		IsActive:         false,
		TrafficWeight:    opts.TrafficWeight,
		Features:         opts.Features,
		ModelType:        opts.ModelType,
	}

	if err := r.store.PutVersion(ctx, version); err != nil {
		// Roll the artifact back so a failed registration leaves nothing
		// behind in either store.
		if delErr := r.artifacts.DeleteArtifact(ctx, versionID); delErr != nil {
			r.logger.WithError(delErr).WithField("version_id", versionID).
				Warn("Failed to remove artifact after metadata write failure")
		}
		return "", err
	}

	r.mu.Lock()
	// Re-check under the write lock: a concurrent registration of the same
	// artifact in the same second passes the early read check, and the insert
	// must not silently overwrite the winner's entry. The loser leaves the
	// shared blob and metadata in place since the winner references both.
	if _, raced := r.versions[versionID]; raced {
		r.mu.Unlock()
		return "", errors.NewConflictError("VERSION_EXISTS",
			fmt.Sprintf("version %s already registered", versionID))
	}
	r.versions[versionID] = version
	r.resident[versionID] = decoded
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"version_id": versionID,
		"model_type": opts.ModelType,
		"activate":   opts.Activate,
	}).Info("Registered model version")

	if opts.Activate {
		if err := r.Activate(ctx, versionID, 1.0); err != nil {
			return "", err
		}
	}

	metrics.SetActiveVersions(r.countActive())
	return versionID, nil
}

// Activate marks a version eligible for traffic. A weight >= 1.0 atomically
// deactivates and zero-weights every other version (single-winner). Lower
// weights compose additively with other active versions; keeping the total
// at or under 1 is the caller's responsibility.
func (r *Registry) Activate(ctx context.Context, versionID string, trafficWeight float64) error {
	r.mu.Lock()

	target, ok := r.versions[versionID]
	if !ok {
		r.mu.Unlock()
		return errors.NewNotFoundError(errors.CodeVersionNotFound,
			fmt.Sprintf("unknown version: %s", versionID))
	}
	if _, busy := r.deleting[versionID]; busy {
		r.mu.Unlock()
		return errors.NewConflictError(errors.CodeVersionDeleting,
			fmt.Sprintf("version %s has a delete in progress", versionID))
	}

	changed := []*models.ModelVersion{}
	if trafficWeight >= 1.0 {
		for _, v := range r.versions {
			if v.VersionID == versionID {
				continue
			}
			if v.IsActive || v.TrafficWeight != 0 {
				v.IsActive = false
				v.TrafficWeight = 0
				changed = append(changed, v.Clone())
			}
		}
	}

	target.IsActive = true
	target.TrafficWeight = trafficWeight
	changed = append(changed, target.Clone())

	r.mu.Unlock()

	// Replication to the store happens after the in-memory transition; a
	// write failure leaves this instance serving the new state and the
	// store converges on the next successful mutation or reconcile pass.
	for _, v := range changed {
		if err := r.store.PutVersion(ctx, v); err != nil {
			r.logger.WithError(err).WithField("version_id", v.VersionID).
				Warn("Failed to replicate version record")
		}
	}
	if err := r.store.SetActiveVersion(ctx, versionID); err != nil {
		r.logger.WithError(err).Warn("Failed to update active version pointer")
	}

	metrics.SetActiveVersions(r.countActive())
	r.logger.WithFields(logrus.Fields{
		"version_id":     versionID,
		"traffic_weight": trafficWeight,
	}).Info("Activated model version")
	return nil
}

// Rollback restores a previous version as the single active one.
func (r *Registry) Rollback(ctx context.Context, versionID string) error {
	if err := r.Activate(ctx, versionID, 1.0); err != nil {
		return err
	}
	r.logger.WithField("version_id", versionID).Info("Rolled back to model version")
	return nil
}

// SelectForPrediction performs weighted random selection over active
// versions and returns the chosen version id with its materialized model.
// Versions are walked in ascending version-id order accumulating normalized
// weight until the draw is covered; the last entry absorbs rounding error.
func (r *Registry) SelectForPrediction(ctx context.Context) (string, model.Model, error) {
	r.mu.RLock()
	active := make([]*models.ModelVersion, 0, len(r.versions))
	for _, v := range r.versions {
		if v.IsActive && v.TrafficWeight > 0 {
			active = append(active, v)
		}
	}

	if len(active) == 0 {
		r.mu.RUnlock()
		return "", nil, errors.NewUnavailableError("no active model available")
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].VersionID < active[j].VersionID
	})

	total := 0.0
	for _, v := range active {
		total += v.TrafficWeight
	}

	draw := r.config.Rand()
	selected := active[len(active)-1]
	cumulative := 0.0
	for _, v := range active {
		cumulative += v.TrafficWeight / total
		if draw < cumulative {
			selected = v
			break
		}
	}

	versionID := selected.VersionID
	resident, ok := r.resident[versionID]
	r.mu.RUnlock()
	if ok {
		return versionID, resident, nil
	}

	m, err := r.materialize(ctx, versionID)
	if err != nil {
		return "", nil, err
	}
	return versionID, m, nil
}

// materialize loads a version's artifact into the resident cache, with
// double-checked locking so concurrent callers race to at most one insert.
func (r *Registry) materialize(ctx context.Context, versionID string) (model.Model, error) {
	r.mu.RLock()
	if resident, ok := r.resident[versionID]; ok {
		r.mu.RUnlock()
		return resident, nil
	}
	r.mu.RUnlock()

	// Artifact load stays outside the lock so a slow store cannot stall
	// selection for other versions.
	data, err := r.artifacts.GetArtifact(ctx, versionID)
	if err != nil {
		return nil, err
	}
	decoded, _, err := model.Decode(data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if resident, ok := r.resident[versionID]; ok {
		return resident, nil
	}
	r.resident[versionID] = decoded
	return decoded, nil
}

// ListVersions returns a snapshot of all versions ordered by creation time,
// ties broken by version id. Safe for concurrent iteration.
func (r *Registry) ListVersions() []*models.ModelVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ModelVersion, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VersionID < out[j].VersionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetVersion returns a copy of one version's metadata.
func (r *Registry) GetVersion(versionID string) (*models.ModelVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[versionID]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// HasActiveVersion reports whether any version is eligible for traffic.
func (r *Registry) HasActiveVersion() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.versions {
		if v.IsActive && v.TrafficWeight > 0 {
			return true
		}
	}
	return false
}

// ActiveVersionPointer reads the advisory active pointer from the store.
func (r *Registry) ActiveVersionPointer(ctx context.Context) string {
	pointer, err := r.store.GetActiveVersion(ctx)
	if err != nil {
		r.logger.WithError(err).Debug("Failed to read active version pointer")
		return ""
	}
	return pointer
}

// Delete removes an inactive version: blob first, metadata second, so a
// failure mid-delete leaves the version queryable rather than dangling.
// Deleting an unknown id is a no-op.
func (r *Registry) Delete(ctx context.Context, versionID string) error {
	r.mu.Lock()
	v, ok := r.versions[versionID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if v.IsActive {
		r.mu.Unlock()
		return errors.NewConflictError(errors.CodeVersionActive,
			fmt.Sprintf("cannot delete active version %s", versionID))
	}
	if _, busy := r.deleting[versionID]; busy {
		r.mu.Unlock()
		return errors.NewConflictError(errors.CodeVersionDeleting,
			fmt.Sprintf("version %s has a delete in progress", versionID))
	}
	// Hold the marker across the store deletes so an Activate arriving while
	// the lock is released cannot promote a version we are about to remove.
	r.deleting[versionID] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.deleting, versionID)
		r.mu.Unlock()
	}()

	if err := r.artifacts.DeleteArtifact(ctx, versionID); err != nil {
		return err
	}
	if err := r.store.DeleteVersion(ctx, versionID); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.versions, versionID)
	delete(r.resident, versionID)
	r.mu.Unlock()

	metrics.SetActiveVersions(r.countActive())
	r.logger.WithField("version_id", versionID).Info("Deleted model version")
	return nil
}

// Start launches the background reconciliation loop.
func (r *Registry) Start(ctx context.Context) {
	if r.config.ReconcileInterval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.config.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := r.reconcile(loopCtx); err != nil {
					metrics.IncReconcileFailures()
					r.logger.WithError(err).Warn("Registry reconciliation failed")
				}
			}
		}
	}()

	r.logger.WithField("interval", r.config.ReconcileInterval).Info("Started registry reconciliation loop")
}

// Stop cancels the reconciliation loop and waits for it to exit.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.logger.Info("Stopped registry reconciliation loop")
}

// reconcile merges the store's view into the in-memory map. Known versions
// take the stored metadata, unknown ones are added, and versions missing
// from the store are dropped unless they are both resident and active,
// which protects in-flight serving from a transiently empty read.
func (r *Registry) reconcile(ctx context.Context) error {
	stored, err := r.store.GetVersions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for id, v := range stored {
		r.versions[id] = v
	}
	for id, v := range r.versions {
		if _, ok := stored[id]; ok {
			continue
		}
		_, isResident := r.resident[id]
		if isResident && v.IsActive {
			continue
		}
		delete(r.versions, id)
		delete(r.resident, id)
	}
	r.mu.Unlock()

	metrics.SetActiveVersions(r.countActive())
	return nil
}

func (r *Registry) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, v := range r.versions {
		if v.IsActive && v.TrafficWeight > 0 {
			count++
		}
	}
	return count
}

// newVersionID derives a version id from the artifact content hash plus a
// creation timestamp.
func newVersionID(artifact []byte) string {
	digest := sha256.Sum256(artifact)
	return fmt.Sprintf("v_%s_%d", hex.EncodeToString(digest[:])[:12], time.Now().Unix())
}
