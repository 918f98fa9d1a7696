package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	mw "github.com/tphakala/forestwatch/internal/api/middleware"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
	"github.com/tphakala/forestwatch/internal/prediction"
)

// Predictor answers coordinate predictions. *prediction.Service implements it.
type Predictor interface {
	PredictForCoordinate(ctx context.Context, lat, lon float64) (*prediction.Response, error)
	TimeSeries() prediction.TimeSeries
	ModelKind() string
	ModelReady() bool
}

// HistoryReader lists stored predictions.
type HistoryReader interface {
	RecentPredictions(ctx context.Context, limit int) ([]datastore.PredictionRecord, error)
	CountPredictions(ctx context.Context) (int64, error)
}

// Server is the ForestWatch HTTP server.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	predictor Predictor
	history   HistoryReader
	metrics   *observability.Metrics
	build     *buildinfo.Context
	listener  net.Listener

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithHistory enables GET /api/v1/predictions.
func WithHistory(h HistoryReader) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// WithMetrics enables GET /metrics and HTTP request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBuildInfo sets the version reported by /health.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) {
		s.build = b
	}
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithLogger overrides the package logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// New creates the server. predictor is required.
func New(config *Config, predictor Predictor, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if predictor == nil {
		return nil, fmt.Errorf("api server requires a predictor")
	}

	s := &Server{
		config:    config,
		predictor: predictor,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	echoLog := logger.NewEchoLoggerAdapter(s.log.Module("echo"))
	echoLog.SetLevel(logger.EchoLevel(config.LogLevel))
	s.echo.Logger = echoLog
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("history", s.history != nil),
		logger.Bool("metrics", s.metrics != nil),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Request ID first so every later log line carries the trace id
	s.echo.Use(mw.NewRequestID())

	s.echo.Use(mw.NewRequestLogger(s.log, s.httpMetrics()))
	s.echo.Use(mw.NewRecover(s.log))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.StaticFS("/static", staticFiles())
	s.echo.POST("/predict", s.handlePredict)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/chart", s.handleChart)
	s.echo.GET("/api/v1/predictions", s.handleHistory)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Address()
	if s.listener != nil {
		s.echo.Listener = s.listener
		addr = s.listener.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("starting HTTP server", logger.String("address", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		s.log.Info("shutting down HTTP server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
