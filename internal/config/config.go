// Package config loads service configuration from an optional YAML file and
// the environment, with sane defaults for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/skeenode/predictd/pkg/errors"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage" yaml:"storage"`
	Redis     RedisConfig     `mapstructure:"redis" json:"redis" yaml:"redis"`
	S3        S3Config        `mapstructure:"s3" json:"s3" yaml:"s3"`
	Cache     CacheConfig     `mapstructure:"cache" json:"cache" yaml:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	Registry  RegistryConfig  `mapstructure:"registry" json:"registry" yaml:"registry"`
	Training  TrainingConfig  `mapstructure:"training" json:"training" yaml:"training"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host                string `mapstructure:"host" json:"host" yaml:"host"`
	Port                int    `mapstructure:"port" json:"port" yaml:"port"`
	MetricsPort         int    `mapstructure:"metrics_port" json:"metrics_port" yaml:"metrics_port"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds" json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds" json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `mapstructure:"idle_timeout_seconds" json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	MaxBatchSize        int    `mapstructure:"max_batch_size" json:"max_batch_size" yaml:"max_batch_size"`
}

// StorageConfig selects the backing stores.
type StorageConfig struct {
	// Backend selects the version store and cache: "redis" or "memory".
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`
	// ArtifactBackend selects blob storage: "file" or "s3".
	ArtifactBackend string `mapstructure:"artifact_backend" json:"artifact_backend" yaml:"artifact_backend"`
	// ModelStorageRoot is the artifact directory for the file backend.
	ModelStorageRoot string `mapstructure:"model_storage_root" json:"model_storage_root" yaml:"model_storage_root"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr           string `mapstructure:"addr" json:"addr" yaml:"addr"`
	Password       string `mapstructure:"password" json:"password" yaml:"password"`
	Database       int    `mapstructure:"database" json:"database" yaml:"database"`
	PoolSize       int    `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	KeyPrefix      string `mapstructure:"key_prefix" json:"key_prefix" yaml:"key_prefix"`
}

// S3Config configures the s3 artifact backend.
type S3Config struct {
	Region    string `mapstructure:"region" json:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" json:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key" yaml:"secret_key"`
}

// CacheConfig configures the prediction cache.
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds" json:"ttl_seconds" yaml:"ttl_seconds"`
}

// RateLimitConfig configures per-client admission control.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	RequestsPerWindow int  `mapstructure:"requests_per_window" json:"requests_per_window" yaml:"requests_per_window"`
	WindowSeconds     int  `mapstructure:"window_seconds" json:"window_seconds" yaml:"window_seconds"`
}

// RegistryConfig configures the model registry.
type RegistryConfig struct {
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds" json:"reconcile_interval_seconds" yaml:"reconcile_interval_seconds"`
}

// TrainingConfig configures training coordination and cold-start behavior.
type TrainingConfig struct {
	// Bootstrap registers and activates a heuristic baseline model when the
	// registry is empty at startup.
	Bootstrap   bool    `mapstructure:"bootstrap" json:"bootstrap" yaml:"bootstrap"`
	MinAccuracy float64 `mapstructure:"min_accuracy" json:"min_accuracy" yaml:"min_accuracy"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the PREDICTD_ prefix with sections
// separated by underscores, e.g. PREDICTD_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PREDICTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput,
				fmt.Sprintf("failed to read config file %s", path))
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput,
			"failed to unmarshal configuration")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 120)
	v.SetDefault("server.max_batch_size", 100)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.artifact_backend", "file")
	v.SetDefault("storage.model_storage_root", "./models")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout_seconds", 5)
	v.SetDefault("redis.key_prefix", "predictd")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "predictd")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 300)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_window", 100)
	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("registry.reconcile_interval_seconds", 30)

	v.SetDefault("training.bootstrap", true)
	v.SetDefault("training.min_accuracy", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.NewValidationError(errors.CodeOutOfRange, "server.port must be between 1 and 65535")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return errors.NewValidationError(errors.CodeOutOfRange, "server.metrics_port must be between 0 and 65535")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.Port {
		return errors.NewValidationError(errors.CodeInvalidInput, "server.metrics_port must differ from server.port")
	}
	if c.Server.MaxBatchSize <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "server.max_batch_size must be positive")
	}

	switch c.Storage.Backend {
	case "redis", "memory":
	default:
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("storage.backend must be redis or memory, got %q", c.Storage.Backend))
	}
	switch c.Storage.ArtifactBackend {
	case "file", "s3":
	default:
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("storage.artifact_backend must be file or s3, got %q", c.Storage.ArtifactBackend))
	}
	if c.Storage.ArtifactBackend == "file" && c.Storage.ModelStorageRoot == "" {
		return errors.NewValidationError(errors.CodeMissingField,
			"storage.model_storage_root is required for the file artifact backend")
	}
	if c.Storage.ArtifactBackend == "s3" && c.S3.Bucket == "" {
		return errors.NewValidationError(errors.CodeMissingField,
			"s3.bucket is required for the s3 artifact backend")
	}
	if c.Storage.Backend == "redis" && c.Redis.Addr == "" {
		return errors.NewValidationError(errors.CodeMissingField,
			"redis.addr is required for the redis backend")
	}

	if c.Cache.TTLSeconds <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "cache.ttl_seconds must be positive")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "rate_limit.requests_per_window must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "rate_limit.window_seconds must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("logging.level %q is not a valid level", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	return nil
}

// CacheTTL returns the prediction cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ReconcileInterval returns the registry reconcile interval as a duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Registry.ReconcileIntervalSeconds) * time.Second
}
