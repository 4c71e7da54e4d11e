// Package server exposes sweeps, progress and the price catalogue over HTTP.
//
// Endpoints, relative to the base path:
//
//	POST   /sweeps               start a sweep over enabled items (202, 409 when one is running)
//	DELETE /sweeps/:runId        cancel the running sweep
//	GET    /progress             current run state
//	GET    /items                tracked items
//	POST   /items                add or update an item by external id
//	GET    /items/:id            one item
//	PATCH  /items/:id            enable or disable an item
//	POST   /items/:id/refresh    sweep a single item
//	GET    /items/:id/latest     latest successful snapshot
//	GET    /items/:id/history    recent snapshots, newest first
//	GET    /alerts               recent alerts
//	GET    /stats                catalogue counters
//	GET    /cache/stats          cache contents
//
// /metrics is served at the root when metrics are enabled.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pricewatch/internal/cache"
	"pricewatch/internal/metrics"
	"pricewatch/internal/progress"
	"pricewatch/internal/storage"
)

// SweepController is the part of the runner the API drives.
type SweepController interface {
	StartEnabled(ctx context.Context) (string, error)
	RefreshItem(ctx context.Context, id int64) (string, error)
	Cancel(runID string) bool
	Progress() progress.State
}

// Options configure the router.
type Options struct {
	BasePath string
	Metrics  bool
	// ViewTTL bounds how long read endpoints reuse a cached response.
	ViewTTL time.Duration
}

// Router wires handlers to the runner, the store and the cache.
type Router struct {
	sweeps SweepController
	store  storage.Store
	cache  cache.Cache
	logger zerolog.Logger
	opts   Options
}

// NewRouter constructs a Router. c may be nil, in which case nothing is memoised.
func NewRouter(sweeps SweepController, store storage.Store, c cache.Cache, logger zerolog.Logger, opts Options) *Router {
	opts.BasePath = sanitizeBase(opts.BasePath)
	if opts.ViewTTL <= 0 {
		opts.ViewTTL = cache.DefaultTTL
	}
	return &Router{
		sweeps: sweeps,
		store:  store,
		cache:  c,
		logger: logger.With().Str("component", "http").Logger(),
		opts:   opts,
	}
}

// Handler returns an http.Handler powered by gin.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())

	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	group := g.Group(r.opts.BasePath)
	group.POST("/sweeps", r.handleStartSweep)
	group.DELETE("/sweeps/:runId", r.handleCancelSweep)
	group.GET("/progress", r.handleProgress)
	group.GET("/items", r.handleListItems)
	group.POST("/items", r.handleUpsertItem)
	group.GET("/items/:id", r.handleGetItem)
	group.PATCH("/items/:id", r.handlePatchItem)
	group.POST("/items/:id/refresh", r.handleRefreshItem)
	group.GET("/items/:id/latest", r.handleLatest)
	group.GET("/items/:id/history", r.handleHistory)
	group.GET("/alerts", r.handleAlerts)
	group.GET("/stats", r.handleStats)
	group.GET("/cache/stats", r.handleCacheStats)
	return g
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it down.
func (r *Router) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info().Str("addr", addr).Str("base_path", r.opts.BasePath).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}
