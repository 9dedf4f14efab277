// Package server assembles the HTTP surface: router, middleware chain and
// the separate metrics listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/internal/api/handlers"
	"github.com/skeenode/predictd/internal/api/middleware"
	"github.com/skeenode/predictd/internal/registry"
	"github.com/skeenode/predictd/internal/service"
	"github.com/skeenode/predictd/internal/training"
)

// Config contains HTTP server configuration.
type Config struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	MetricsPort  int           `json:"metrics_port" yaml:"metrics_port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxBatchSize int           `json:"max_batch_size" yaml:"max_batch_size"`

	RateLimit middleware.RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Server is the HTTP front end.
type Server struct {
	config        *Config
	logger        *logrus.Logger
	httpServer    *http.Server
	metricsServer *http.Server
}

// Options carries the components the server exposes over HTTP.
type Options struct {
	Registry       *registry.Registry
	Service        *service.Service
	TrainingRunner *training.Runner
	Dependencies   []handlers.Dependency
	ServiceVersion string
}

// New creates the server and wires up routes and middleware.
func New(config *Config, opts Options, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		config: config,
		logger: logger,
	}

	router := s.buildRouter(opts)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	if config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:        fmt.Sprintf("%s:%d", config.Host, config.MetricsPort),
			Handler:     metricsMux,
			ReadTimeout: config.ReadTimeout,
			IdleTimeout: config.IdleTimeout,
		}
	}

	return s, nil
}

func (s *Server) buildRouter(opts Options) *mux.Router {
	router := mux.NewRouter()

	rateLimit := middleware.NewRateLimitMiddleware(&s.config.RateLimit, s.logger)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(s.logger))
	router.Use(middleware.Recovery(s.logger))
	router.Use(rateLimit.Middleware())

	health := handlers.NewHealthHandler(opts.Registry, opts.Dependencies, opts.ServiceVersion, s.logger)
	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.Ready).Methods(http.MethodGet)
	router.HandleFunc("/live", health.Live).Methods(http.MethodGet)
	router.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	modelsHandler := handlers.NewModelsHandler(opts.Registry, s.logger)
	router.HandleFunc("/models", modelsHandler.List).Methods(http.MethodGet)
	router.HandleFunc("/models/activate", modelsHandler.Activate).Methods(http.MethodPost)
	router.HandleFunc("/models/rollback/{version_id}", modelsHandler.Rollback).Methods(http.MethodPost)
	router.HandleFunc("/models/{version_id}", modelsHandler.Delete).Methods(http.MethodDelete)

	predictions := handlers.NewPredictionsHandler(opts.Service, s.config.MaxBatchSize, s.logger)
	router.HandleFunc("/predict", predictions.Predict).Methods(http.MethodPost)
	router.HandleFunc("/predict/batch", predictions.PredictBatch).Methods(http.MethodPost)

	if opts.TrainingRunner != nil {
		trainingHandler := handlers.NewTrainingHandler(opts.TrainingRunner, s.logger)
		router.HandleFunc("/training/start", trainingHandler.Start).Methods(http.MethodPost)
		router.HandleFunc("/training/status", trainingHandler.Status).Methods(http.MethodGet)
	}

	return router
}

// Start begins serving. It blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	if s.metricsServer != nil {
		go func() {
			s.logger.WithField("address", s.metricsServer.Addr).Info("Starting metrics server")
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts both listeners down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
