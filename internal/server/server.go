// Package server exposes the imputation pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/config"
	"github.com/aircast-th/aircast/internal/imputation"
	"github.com/aircast-th/aircast/internal/series"
)

// Server wires the gin engine, the orchestrator and the model artifacts
// behind the public API.
type Server struct {
	cfg       config.Config
	orch      *imputation.Orchestrator
	artifacts *imputation.ArtifactStore
	logger    *zap.Logger
	metrics   *Metrics
	engine    *gin.Engine
}

// New builds a fully routed server. It does not start listening.
func New(cfg config.Config, orch *imputation.Orchestrator, artifacts *imputation.ArtifactStore, logger *zap.Logger) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		orch:      orch,
		artifacts: artifacts,
		logger:    logger,
		metrics:   NewMetrics(),
	}
	s.registerValidations()
	s.engine = s.buildRouter()
	return s
}

// Engine returns the underlying gin engine, mainly for httptest.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		// "parameter" accepts any published pollutant code,
		// case-insensitively, matching the upstream API.
		_ = v.RegisterValidation("parameter", func(fl validator.FieldLevel) bool {
			return series.ValidParameter(fl.Field().String())
		})
	}
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(s.logger, true))
	engine.Use(s.metrics.Middleware())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/", s.handleRoot)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.metrics.Handler())

	api := engine.Group("/api")
	{
		api.GET("/stations", s.handleStations)
		api.GET("/parameters", s.handleParameters)
		api.GET("/models", s.handleModels)
		api.POST("/air-quality", s.handleAirQuality)
		api.POST("/air-quality/filled", s.handleAirQualityFilled)
	}
	return engine
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.Addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.Duration("timeout", s.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
