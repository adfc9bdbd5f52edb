// Package httpapi exposes the published pricing snapshot, its history and
// the scheduler status over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/scheduler"
)

// SnapshotSource returns the currently published snapshot, or nil.
type SnapshotSource interface {
	Current() *pricing.Snapshot
}

// HistorySource yields stored snapshots captured in [from, to].
type HistorySource interface {
	History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error]
}

// StatusSource reports the scheduler state.
type StatusSource interface {
	State() scheduler.State
	LastResult() (scheduler.Result, bool)
}

// Config holds the HTTP surface settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Deps are the read-only views the handlers serve.
type Deps struct {
	Cache    SnapshotSource
	History  HistorySource
	Status   StatusSource
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server is the HTTP API server.
type Server struct {
	echo   *echo.Echo
	config Config
	deps   Deps
}

func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(io.Discard)

	s := &Server{echo: e, config: cfg, deps: deps}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(requestLogger(s.deps.Logger))
	s.echo.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: s.config.RequestTimeout,
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	s.echo.GET("/readyz", s.readyCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/v1")
	v1.GET("/pricing/current", s.currentSnapshot)
	v1.GET("/pricing/history", s.history)
	v1.GET("/pricing/status", s.status)
	v1.POST("/tco/estimate", s.estimate)
}

// requestLogger writes one structured event per request.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.deps.Logger.Info("starting http server", "addr", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Handler returns the underlying router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}
