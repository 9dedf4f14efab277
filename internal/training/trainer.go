// Package training coordinates background model training runs. The actual
// model fitting is a black box behind the Trainer interface; this package
// owns cross-process serialization via the training lock, registration of
// the produced artifact, and the last-result record.
package training

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/model"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/storage"
	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// TrainedModel is what a Trainer hands back: the encoded artifact plus the
// metadata registered alongside it.
type TrainedModel struct {
	Artifact    []byte
	Metrics     map[string]float64
	Features    []string
	ModelType   string
	SamplesUsed int
}

// Trainer produces a servable model artifact.
type Trainer interface {
	Train(ctx context.Context) (*TrainedModel, error)
}

// StartOptions controls what happens with a successful training run.
type StartOptions struct {
	ActivateOnSuccess bool    `json:"activate_on_success"`
	MinAccuracy       float64 `json:"min_accuracy"`
}

// Runner executes training runs under the shared training lock.
type Runner struct {
	coordinator storage.TrainingCoordinator
	registry    *registry.Registry
	trainer     Trainer
	logger      *logrus.Logger
	timeout     time.Duration
}

// NewRunner creates a training runner.
func NewRunner(coordinator storage.TrainingCoordinator, reg *registry.Registry, trainer Trainer, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		coordinator: coordinator,
		registry:    reg,
		trainer:     trainer,
		logger:      logger,
		timeout:     30 * time.Minute,
	}
}

// Start begins a training run in the background. It fails with a conflict
// error when another run holds the lock.
func (r *Runner) Start(ctx context.Context, opts StartOptions) error {
	running, err := r.coordinator.TrainingRunning(ctx)
	if err != nil {
		return err
	}
	if running {
		return errors.NewConflictError(errors.CodeTrainingInProgress, "training already in progress")
	}

	acquired, err := r.coordinator.AcquireTrainingLock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return errors.NewConflictError(errors.CodeTrainingInProgress, "failed to acquire training lock")
	}

	go r.run(opts)

	r.logger.WithField("activate_on_success", opts.ActivateOnSuccess).Info("Training started")
	return nil
}

// Status reports whether a run is active and the last recorded outcome.
func (r *Runner) Status(ctx context.Context) (bool, map[string]interface{}, error) {
	running, err := r.coordinator.TrainingRunning(ctx)
	if err != nil {
		return false, nil, err
	}
	result, err := r.coordinator.GetTrainingResult(ctx)
	if err != nil {
		return running, nil, err
	}
	return running, result, nil
}

// cleanupTimeout bounds lock release and result writes, which must not run
// on the training context: after a Train timeout that context is already
// expired and would strand the lock until its TTL.
const cleanupTimeout = 10 * time.Second

// run executes one training pass. It owns the lock for its duration and
// always records a result before releasing it.
func (r *Runner) run(opts StartOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer releaseCancel()
		if err := r.coordinator.ReleaseTrainingLock(releaseCtx); err != nil {
			r.logger.WithError(err).Warn("Failed to release training lock")
		}
	}()

	start := time.Now()
	trained, err := r.trainer.Train(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Training failed")
		r.record(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if opts.MinAccuracy > 0 && trained.Metrics["accuracy"] < opts.MinAccuracy {
		r.logger.WithFields(logrus.Fields{
			"accuracy":     trained.Metrics["accuracy"],
			"min_accuracy": opts.MinAccuracy,
		}).Warn("Trained model below accuracy floor, not registering")
		r.record(map[string]interface{}{
			"success": false,
			"error":   "model accuracy below configured minimum",
			"metrics": trained.Metrics,
		})
		return
	}

	versionID, err := r.registry.Register(ctx, trained.Artifact, registry.RegisterOptions{
		Metrics:   trained.Metrics,
		Features:  trained.Features,
		ModelType: trained.ModelType,
		Activate:  opts.ActivateOnSuccess,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to register trained model")
		r.record(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	r.record(map[string]interface{}{
		"success":               true,
		"version_id":            versionID,
		"metrics":               trained.Metrics,
		"samples_used":          trained.SamplesUsed,
		"training_time_seconds": time.Since(start).Seconds(),
	})
	r.logger.WithFields(logrus.Fields{
		"version_id": versionID,
		"duration":   time.Since(start),
	}).Info("Training completed")
}

func (r *Runner) record(result map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.coordinator.SetTrainingResult(ctx, result); err != nil {
		r.logger.WithError(err).Warn("Failed to store training result")
	}
}

// BaselineTrainer produces the heuristic placeholder model used to resolve
// cold starts: elevated failure risk toward the weekend and during
// off-hours, mild penalties for long-running or historically flaky jobs.
type BaselineTrainer struct{}

// Train implements Trainer.
func (BaselineTrainer) Train(ctx context.Context) (*TrainedModel, error) {
	baseline := &model.LinearModel{
		// Weights align with models.DefaultFeatures.
		Weights: []float64{0.35, -0.04, 0.02, -0.001, 0.0001, 2.5},
		Bias:    -2.2,
	}

	artifact, err := model.Encode(baseline, models.DefaultFeatures)
	if err != nil {
		return nil, err
	}

	return &TrainedModel{
		Artifact: artifact,
		Metrics: map[string]float64{
			"accuracy": 0.62,
			"roc_auc":  0.58,
		},
		Features:  models.DefaultFeatures,
		ModelType: model.TypeLinear,
	}, nil
}
