package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TenderSync/internal/ports"
	"TenderSync/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the read models and the sync trigger served over HTTP.
type Deps struct {
	Tenders ports.TenderReader
	Runs    ports.SyncRunReader
	Syncer  usecase.SyncRunner
	DB      Pinger
	Logger  *slog.Logger
}

// Server exposes the tender store and sync ledger as a JSON API.
type Server struct {
	address string
	echo    *echo.Echo
	logger  *slog.Logger
}

// NewServer builds the echo instance with all routes registered.
func NewServer(address string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(deps.Logger)
	e.Use(middleware.Recover())
	e.Use(requestLogger(deps.Logger))

	h := &handlers{deps: deps, started: time.Now()}
	e.GET("/api/v1/health", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tenders := e.Group("/api/v1/tenders")
	tenders.GET("", h.searchTenders)
	tenders.GET("/:externalId", h.getTender)

	runs := e.Group("/api/v1/sync-runs")
	runs.GET("", h.listRuns)
	runs.GET("/:id", h.getRun)
	runs.POST("", h.triggerSync)

	return &Server{address: address, echo: e, logger: deps.Logger}
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "address", s.address)
		if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			logger.Debug("http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start))
			return nil
		}
	}
}
