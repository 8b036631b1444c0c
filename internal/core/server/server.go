package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/config"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/health"
	middleware "github.com/mohammed-shakir/mvt-tileserver/internal/core/middleware"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/router"
)

type Deps struct {
	Tiles       router.TileSource
	Metrics     http.Handler
	MetricsPath string
	Ready       map[string]health.Check
}

// NewHandler builds the chi router with every route mounted
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, d.Metrics)
	}

	r.Get("/tilesets", router.HandleTilesets(d.Tiles))
	r.Get("/tilesets/{id}", router.HandleTileset(d.Tiles))
	tiles := router.HandleTile(logger, d.Tiles)
	r.Get(router.TileRoute, tiles)
	r.Head(router.TileRoute, tiles)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
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
