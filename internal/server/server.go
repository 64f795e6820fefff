package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gqy20/issuelab-secondme/config"
	"github.com/gqy20/issuelab-secondme/internal/agent/telemetry"
	"github.com/gqy20/issuelab-secondme/internal/runtime"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Options carries the collaborators behind the HTTP API. Store and Mirror
// are optional; their endpoints answer 503 when absent.
type Options struct {
	Orchestrator Runner
	Store        RunStore
	Mirror       EventMirror
	Metrics      *telemetry.Metrics
}

// New builds the echo instance with every route registered.
func New(cfg *config.Config, opts Options) (*echo.Echo, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{"X-Run-ID"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.MetricsEnabled && opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}

	api := e.Group("/api")
	secret, err := runtime.LoadJWTSecret(cfg)
	switch {
	case err == nil:
		api.Use(runtime.EchoAuthMiddleware(secret))
	case errors.Is(err, runtime.ErrAuthDisabled):
		baseLogger.Printf("auth disabled: %v", err)
	default:
		return nil, err
	}

	rh := &RunsHandler{
		orch:   opts.Orchestrator,
		store:  opts.Store,
		mirror: opts.Mirror,
		logger: log.New(log.Writer(), "[RUNS] ", log.LstdFlags),
	}
	rh.Register(api)
	return e, nil
}

// Run wires dependencies from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	tel, err := runtime.SetupTracing(ctx, cfg.Telemetry, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	deps, err := NewDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	opts := Options{Orchestrator: deps.Orchestrator, Metrics: deps.Metrics}
	// typed nils must not leak into the interfaces
	if deps.Store != nil {
		opts.Store = deps.Store
	}
	if deps.Mirror != nil {
		opts.Mirror = deps.Mirror
	}
	e, err := New(cfg, opts)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (rounds=%d, agents=%v)", cfg.Server.Address, deps.Orchestrator.Rounds(), cfg.Agents.Enabled)
		errCh <- e.Start(cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	}
}
