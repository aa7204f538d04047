package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/health"
	"github.com/sqlnice/graticule/internal/core/middleware"
	"github.com/sqlnice/graticule/internal/core/router"
)

// Deps carries the wired service surfaces the routes dispatch into.
type Deps struct {
	Overlay  router.OverlayHandler
	Sessions router.Sessions
	Ready    health.ReadinessReporter

	// Metrics serves /metrics; nil falls back to the default registry.
	Metrics http.Handler
}

// Routes builds the full route table.
func Routes(cfg config.Config, logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ready))

	mh := deps.Metrics
	if mh == nil {
		mh = promhttp.Handler()
	}
	r.Get("/metrics", mh.ServeHTTP)

	r.Get("/overlay", router.HandleOverlay(logger, cfg, deps.Overlay))

	r.Post("/sessions", router.HandleSessionCreate(logger, deps.Sessions))
	r.Get("/sessions/{id}/view", router.HandleSessionView(deps.Sessions))
	r.Post("/sessions/{id}/view", router.HandleSessionViewUpdate(deps.Sessions))
	r.Post("/sessions/{id}/options", router.HandleSessionOptions(deps.Sessions))
	r.Get("/sessions/{id}/overlay", router.HandleSessionOverlay(logger, deps.Sessions))
	r.Delete("/sessions/{id}", router.HandleSessionDelete(logger, deps.Sessions))

	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Routes(cfg, logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
