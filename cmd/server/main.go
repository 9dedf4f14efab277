package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skeenode/predictd/internal/api/handlers"
	"github.com/skeenode/predictd/internal/api/middleware"
	"github.com/skeenode/predictd/internal/config"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/server"
	"github.com/skeenode/predictd/internal/service"
	"github.com/skeenode/predictd/internal/storage"
	filestore "github.com/skeenode/predictd/internal/storage/file"
	memorystore "github.com/skeenode/predictd/internal/storage/memory"
	redisstore "github.com/skeenode/predictd/internal/storage/redis"
	s3store "github.com/skeenode/predictd/internal/storage/s3"
	"github.com/skeenode/predictd/internal/training"
)

var (
	configFile  string
	logLevel    string
	logFormat   string
	host        string
	port        int
	metricsPort int
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "predictd",
		Short:   "Job failure prediction service",
		Long:    "predictd serves job failure predictions from a versioned model registry with weighted traffic splitting.",
		Version: Version,
		RunE:    runServer,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Override configured log level")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Override configured log format (json|text)")
	rootCmd.Flags().StringVar(&host, "host", "", "Override configured listen host")
	rootCmd.Flags().IntVar(&port, "port", 0, "Override configured listen port")
	rootCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Override configured metrics port")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if metricsPort > 0 {
		cfg.Server.MetricsPort = metricsPort
	}

	logger := setupLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"version":          Version,
		"storage_backend":  cfg.Storage.Backend,
		"artifact_backend": cfg.Storage.ArtifactBackend,
	}).Info("Starting predictd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	artifacts, err := buildArtifactStore(cfg, logger)
	if err != nil {
		return err
	}
	if err := artifacts.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect artifact store: %w", err)
	}
	defer artifacts.Close()

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}
	if err := backend.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect storage backend: %w", err)
	}
	defer backend.Close()

	reg, err := registry.New(&registry.Config{
		ReconcileInterval: cfg.ReconcileInterval(),
	}, backend, artifacts, logger)
	if err != nil {
		return err
	}
	if err := reg.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("failed to load model versions: %w", err)
	}

	if cfg.Training.Bootstrap && len(reg.ListVersions()) == 0 {
		if err := bootstrapBaseline(ctx, reg, logger); err != nil {
			return fmt.Errorf("failed to bootstrap baseline model: %w", err)
		}
	}

	var cache storage.PredictionCache
	if cfg.Cache.Enabled {
		cache = backend
	}
	svc, err := service.New(&service.Config{
		CacheEnabled: cfg.Cache.Enabled,
		CacheTTL:     cfg.CacheTTL(),
	}, reg, cache, logger)
	if err != nil {
		return err
	}

	runner := training.NewRunner(backend, reg, training.BaselineTrainer{}, logger)

	srv, err := server.New(&server.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MetricsPort:  cfg.Server.MetricsPort,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxBatchSize: cfg.Server.MaxBatchSize,
		RateLimit: middleware.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowSeconds:     cfg.RateLimit.WindowSeconds,
		},
	}, server.Options{
		Registry:       reg,
		Service:        svc,
		TrainingRunner: runner,
		Dependencies: []handlers.Dependency{
			{Name: cfg.Storage.Backend, Store: backend},
			{Name: cfg.Storage.ArtifactBackend, Store: artifacts},
		},
		ServiceVersion: Version,
	}, logger)
	if err != nil {
		return err
	}

	reg.Start(ctx)
	defer reg.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// storageBackend is the composite contract the redis and memory backends
// satisfy: version metadata, prediction cache and training coordination in
// one connected store.
type storageBackend interface {
	storage.Store
	storage.VersionStore
	storage.PredictionCache
	storage.TrainingCoordinator
}

func buildBackend(cfg *config.Config, logger *logrus.Logger) (storageBackend, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return redisstore.NewStorage(&redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.Database,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  time.Duration(cfg.Redis.TimeoutSeconds) * time.Second,
			ReadTimeout:  time.Duration(cfg.Redis.TimeoutSeconds) * time.Second,
			WriteTimeout: time.Duration(cfg.Redis.TimeoutSeconds) * time.Second,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, logger)
	case "memory":
		return memorystore.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildArtifactStore(cfg *config.Config, logger *logrus.Logger) (artifactBackend, error) {
	switch cfg.Storage.ArtifactBackend {
	case "s3":
		return s3store.NewArtifactStore(&s3store.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
		}, logger)
	case "file":
		return filestore.NewArtifactStore(&filestore.Config{
			BasePath:   cfg.Storage.ModelStorageRoot,
			CreateDirs: true,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Storage.ArtifactBackend)
	}
}

// artifactBackend is the contract artifact stores satisfy.
type artifactBackend interface {
	storage.Store
	storage.ArtifactStore
}

// bootstrapBaseline registers and activates the heuristic baseline model so
// a fresh deployment serves predictions before the first training run.
func bootstrapBaseline(ctx context.Context, reg *registry.Registry, logger *logrus.Logger) error {
	trained, err := training.BaselineTrainer{}.Train(ctx)
	if err != nil {
		return err
	}

	versionID, err := reg.Register(ctx, trained.Artifact, registry.RegisterOptions{
		Metrics:   trained.Metrics,
		Features:  trained.Features,
		ModelType: trained.ModelType,
		Activate:  true,
	})
	if err != nil {
		return err
	}

	logger.WithField("version_id", versionID).Info("Bootstrapped baseline model")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}
