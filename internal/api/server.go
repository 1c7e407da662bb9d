package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/observability"
	"github.com/tphakala/idconsensus/internal/observation"
	"github.com/tphakala/idconsensus/internal/service"
)

// Pipeline is the part of service.Service the handlers use.
type Pipeline interface {
	CreateObservation(ctx context.Context, in service.NewObservation) (*observation.Observation, []effects.Effect, error)
	GetObservation(ctx context.Context, id uint) (*observation.Observation, error)
	ListIdentifications(ctx context.Context, observationID uint) ([]*observation.Identification, error)
	GetIdentification(ctx context.Context, id uint) (*observation.Identification, error)
	OnIdentificationCreated(ctx context.Context, ident *observation.Identification) ([]effects.Effect, error)
	OnIdentificationUpdated(ctx context.Context, ident *observation.Identification) ([]effects.Effect, error)
	OnIdentificationDestroyed(ctx context.Context, ident *observation.Identification) ([]effects.Effect, error)
	GetCuratorPointer(ctx context.Context, observationID, projectID uint) (*uint, error)
	Recompute(ctx context.Context, observationID uint) ([]effects.Effect, error)
	InvalidateTaxon(id uint) int
}

var _ Pipeline = (*service.Service)(nil)

// OutboxStats reports outbox backlog for /healthz and the metrics gauges.
type OutboxStats interface {
	Stats(ctx context.Context) (datastore.OutboxStats, error)
}

// HealthCheck returns nil when a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP server for idconsensus.
type Server struct {
	echo     *echo.Echo
	config   *Config
	pipeline Pipeline
	log      logger.Logger

	metrics *observability.Metrics
	outbox  OutboxStats
	checks  map[string]HealthCheck

	startTime time.Time
	wg        sync.WaitGroup
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics records request metrics and, when enabled in Config, serves /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithOutbox reports outbox row counts on /healthz.
func WithOutbox(o OutboxStats) ServerOption {
	return func(s *Server) {
		s.outbox = o
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// New creates a new HTTP server with the given configuration and options.
func New(pipeline Pipeline, config *Config, opts ...ServerOption) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		pipeline:  pipeline,
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("api")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.httpErrorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(requestID())
	s.echo.Use(requestLogger(s.log))
	if s.metrics != nil {
		s.echo.Use(requestMetrics(s.metrics.HTTP))
	}
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.metrics != nil && s.config.Metrics {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")

	v1.POST("/observations", s.createObservation)
	v1.GET("/observations/:id", s.getObservation)
	v1.POST("/observations/:id/recompute", s.recomputeObservation)
	v1.GET("/observations/:id/identifications", s.listIdentifications)
	v1.GET("/observations/:id/projects/:project_id/curator-pointer", s.getCuratorPointer)

	v1.POST("/identifications", s.createIdentification)
	v1.PATCH("/identifications/:id", s.updateIdentification)
	v1.DELETE("/identifications/:id", s.destroyIdentification)

	v1.POST("/taxa/:id/invalidate", s.invalidateTaxon)
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	s.wg.Go(func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
		}
	})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
