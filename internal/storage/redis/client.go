package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/pkg/errors"
	"github.com/skeenode/predictd/pkg/models"
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	Addr         string        `json:"addr" yaml:"addr"`
	Password     string        `json:"password" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
	TrainingTTL  time.Duration `json:"training_ttl" yaml:"training_ttl"`
}

// Storage implements the version store, prediction cache and training
// coordinator on a single Redis connection. All calls inherit the client's
// bounded dial/read/write timeouts, so a Redis stall cannot hang a request
// indefinitely.
type Storage struct {
	config *Config
	client *redis.Client
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewStorage creates a new Redis storage instance.
func NewStorage(config *Config, logger *logrus.Logger) (*Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Redis config cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Redis address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 3 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 3 * time.Second
	}
	if config.TrainingTTL <= 0 {
		config.TrainingTTL = time.Hour
	}

	return &Storage{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to Redis.
func (s *Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil // Already connected
	}

	client := redis.NewClient(&redis.Options{
		Addr:         s.config.Addr,
		Password:     s.config.Password,
		DB:           s.config.DB,
		DialTimeout:  s.config.DialTimeout,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		PoolSize:     s.config.PoolSize,
		MinIdleConns: s.config.MinIdleConns,
		MaxRetries:   s.config.MaxRetries,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "failed to connect to Redis")
	}

	s.client = client

	s.logger.WithFields(logrus.Fields{
		"addr": s.config.Addr,
		"db":   s.config.DB,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		s.closed = true
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "CLOSE_FAILED", "failed to close Redis connection")
		}
	}

	s.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection.
func (s *Storage) Ping(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := client.Ping(ctx).Result(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Redis ping failed")
	}
	return nil
}

// PutVersion upserts a version record into the registry hash.
func (s *Storage) PutVersion(ctx context.Context, version *models.ModelVersion) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(version)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to marshal version record")
	}

	if err := client.HSet(ctx, s.registryKey(), version.VersionID, data).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to store version %s", version.VersionID))
	}
	return nil
}

// GetVersions reads all version records from the registry hash.
func (s *Storage) GetVersions(ctx context.Context) (map[string]*models.ModelVersion, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}

	entries, err := client.HGetAll(ctx, s.registryKey()).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read version records")
	}

	versions := make(map[string]*models.ModelVersion, len(entries))
	for versionID, data := range entries {
		version := &models.ModelVersion{}
		if err := json.Unmarshal([]byte(data), version); err != nil {
			s.logger.WithError(err).WithField("version_id", versionID).Warn("Skipping undecodable version record")
			continue
		}
		versions[versionID] = version
	}
	return versions, nil
}

// DeleteVersion removes a version record from the registry hash.
func (s *Storage) DeleteVersion(ctx context.Context, versionID string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.HDel(ctx, s.registryKey(), versionID).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to delete version %s", versionID))
	}
	return nil
}

// SetActiveVersion records the advisory active-version pointer.
func (s *Storage) SetActiveVersion(ctx context.Context, versionID string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, s.activeKey(), versionID, 0).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to set active version pointer")
	}
	return nil
}

// GetActiveVersion reads the advisory active-version pointer.
func (s *Storage) GetActiveVersion(ctx context.Context) (string, error) {
	client, err := s.conn()
	if err != nil {
		return "", err
	}
	value, err := client.Get(ctx, s.activeKey()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read active version pointer")
	}
	return value, nil
}

// GetPrediction returns a cached prediction response, or nil on miss.
func (s *Storage) GetPrediction(ctx context.Context, key string) (*models.PredictionResponse, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, s.predictionKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "cache read failed")
	}

	response := &models.PredictionResponse{}
	if err := json.Unmarshal([]byte(data), response); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decode cached prediction")
	}
	return response, nil
}

// SetPrediction stores a prediction response with a TTL.
func (s *Storage) SetPrediction(ctx context.Context, key string, response *models.PredictionResponse, ttl time.Duration) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	data, err := json.Marshal(response)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to marshal prediction response")
	}

	if err := client.Set(ctx, s.predictionKey(key), data, ttl).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "cache write failed")
	}
	return nil
}

// AcquireTrainingLock tries to take the cross-process training lock. The
// lock carries a TTL so a crashed trainer cannot wedge training forever.
func (s *Storage) AcquireTrainingLock(ctx context.Context) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}
	acquired, err := client.SetNX(ctx, s.trainingLockKey(), "1", s.config.TrainingTTL).Result()
	if err != nil {
		return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to acquire training lock")
	}
	return acquired, nil
}

// ReleaseTrainingLock releases the training lock.
func (s *Storage) ReleaseTrainingLock(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, s.trainingLockKey()).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to release training lock")
	}
	return nil
}

// TrainingRunning reports whether the training lock is held.
func (s *Storage) TrainingRunning(ctx context.Context) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}
	count, err := client.Exists(ctx, s.trainingLockKey()).Result()
	if err != nil {
		return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to check training lock")
	}
	return count > 0, nil
}

// SetTrainingResult stores the outcome of the last training run.
func (s *Storage) SetTrainingResult(ctx context.Context, result map[string]interface{}) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to marshal training result")
	}
	if err := client.Set(ctx, s.trainingResultKey(), data, 0).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to store training result")
	}
	return nil
}

// GetTrainingResult returns the outcome of the last training run, or nil.
func (s *Storage) GetTrainingResult(ctx context.Context) (map[string]interface{}, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, s.trainingResultKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to read training result")
	}
	result := map[string]interface{}{}
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "failed to decode training result")
	}
	return result, nil
}

func (s *Storage) conn() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "Redis not connected")
	}
	return s.client, nil
}

func (s *Storage) registryKey() string {
	return s.prefixed("model_registry")
}

func (s *Storage) activeKey() string {
	return s.prefixed("active_model")
}

func (s *Storage) predictionKey(key string) string {
	return s.prefixed("prediction:" + key)
}

func (s *Storage) trainingLockKey() string {
	return s.prefixed("training:lock")
}

func (s *Storage) trainingResultKey() string {
	return s.prefixed("training:result")
}

func (s *Storage) prefixed(key string) string {
	if s.config.KeyPrefix == "" {
		return key
	}
	return s.config.KeyPrefix + ":" + key
}
