package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pricewatch/internal/cache"
	"pricewatch/internal/domain"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
)

type errorResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type sweepResp struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId,omitempty"`
}

type okResp struct {
	Success bool `json:"success"`
}

// itemRequest is the body of POST /items.
type itemRequest struct {
	ExternalID    string `json:"externalId" binding:"required"`
	DisplayName   string `json:"displayName"`
	Enabled       *bool  `json:"enabled"`
	AlertEnabled  *bool  `json:"alertEnabled"`
	Policy        string `json:"policy"`
	WasUnreleased bool   `json:"wasUnreleased"`
}

type patchRequest struct {
	Enabled *bool `json:"enabled"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResp{Success: false, Error: msg})
}

func (r *Router) handleStartSweep(c *gin.Context) {
	runID, err := r.sweeps.StartEnabled(c.Request.Context())
	r.respondSweep(c, runID, err)
}

func (r *Router) handleRefreshItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	runID, err := r.sweeps.RefreshItem(c.Request.Context(), id)
	r.respondSweep(c, runID, err)
}

func (r *Router) respondSweep(c *gin.Context, runID string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, sweepResp{Success: true, RunID: runID})
	case errors.Is(err, service.ErrAlreadyRunning):
		fail(c, http.StatusConflict, service.ErrAlreadyRunning.Error())
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "item not found")
	default:
		r.logger.Error().Err(err).Msg("failed to start sweep")
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) handleCancelSweep(c *gin.Context) {
	if !r.sweeps.Cancel(c.Param("runId")) {
		fail(c, http.StatusNotFound, "no running sweep with that id")
		return
	}
	c.JSON(http.StatusOK, okResp{Success: true})
}

func (r *Router) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, r.sweeps.Progress())
}

func (r *Router) handleListItems(c *gin.Context) {
	items, err := cache.Lookup(c.Request.Context(), r.cache, cache.ItemsListKey("all"), r.opts.ViewTTL,
		func(ctx context.Context) ([]domain.TrackedItem, error) {
			return r.store.ListItems(ctx)
		})
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (r *Router) handleUpsertItem(c *gin.Context) {
	var req itemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	policy, err := domain.ParsePolicy(req.Policy)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	item := domain.TrackedItem{
		ExternalID:    req.ExternalID,
		DisplayName:   req.DisplayName,
		Enabled:       boolOr(req.Enabled, true),
		AlertEnabled:  boolOr(req.AlertEnabled, true),
		Policy:        policy,
		WasUnreleased: req.WasUnreleased,
	}
	saved, err := r.store.UpsertItem(c.Request.Context(), item)
	if err != nil {
		r.storeError(c, err)
		return
	}
	cache.InvalidateItem(c.Request.Context(), r.cache, saved.ID)
	c.JSON(http.StatusOK, saved)
}

func (r *Router) handleGetItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	item, err := cache.Lookup(c.Request.Context(), r.cache, cache.ItemKey(id), r.opts.ViewTTL,
		func(ctx context.Context) (domain.TrackedItem, error) {
			return r.store.GetItem(ctx, id)
		})
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (r *Router) handlePatchItem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, "body must set enabled")
		return
	}
	if err := r.store.SetItemEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		r.storeError(c, err)
		return
	}
	cache.InvalidateItem(c.Request.Context(), r.cache, id)
	c.JSON(http.StatusOK, okResp{Success: true})
}

func (r *Router) handleLatest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := cache.Lookup(c.Request.Context(), r.cache, cache.LatestPriceKey(id), r.opts.ViewTTL,
		func(ctx context.Context) (domain.Snapshot, error) {
			latest, err := r.store.LatestSnapshot(ctx, id)
			if err != nil {
				return domain.Snapshot{}, err
			}
			if latest == nil {
				return domain.Snapshot{}, storage.ErrNotFound
			}
			return *latest, nil
		})
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (r *Router) handleHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snaps, err := r.store.ListRecentSnapshots(c.Request.Context(), id, queryInt(c, "limit", 50))
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (r *Router) handleAlerts(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	alerts, err := cache.Lookup(c.Request.Context(), r.cache, cache.RecentAlertsKey(limit), r.opts.ViewTTL,
		func(ctx context.Context) ([]domain.AlertEvent, error) {
			return r.store.ListRecentAlerts(ctx, limit)
		})
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (r *Router) handleStats(c *gin.Context) {
	stats, err := cache.Lookup(c.Request.Context(), r.cache, cache.GamesStatsKey, r.opts.ViewTTL,
		func(ctx context.Context) (storage.Stats, error) {
			return r.store.Stats(ctx)
		})
	if err != nil {
		r.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (r *Router) handleCacheStats(c *gin.Context) {
	if r.cache == nil {
		c.JSON(http.StatusOK, cache.Stats{Keys: []string{}})
		return
	}
	c.JSON(http.StatusOK, r.cache.Stats(c.Request.Context()))
}

func (r *Router) storeError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "not found")
		return
	}
	r.logger.Error().Err(err).Str("path", c.FullPath()).Msg("store request failed")
	fail(c, http.StatusInternalServerError, "internal error")
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > 500 {
		return 500
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
