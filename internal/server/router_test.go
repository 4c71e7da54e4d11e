package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/cache"
	"pricewatch/internal/config"
	"pricewatch/internal/domain"
	"pricewatch/internal/progress"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
)

type fakeSweeps struct {
	mu        sync.Mutex
	running   bool
	runID     string
	refreshed []int64
	state     progress.State
}

func (f *fakeSweeps) StartEnabled(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return "", service.ErrAlreadyRunning
	}
	f.running = true
	return f.runID, nil
}

func (f *fakeSweeps) RefreshItem(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == 404 {
		return "", storage.ErrNotFound
	}
	if f.running {
		return "", service.ErrAlreadyRunning
	}
	f.running = true
	f.refreshed = append(f.refreshed, id)
	return f.runID, nil
}

func (f *fakeSweeps) Cancel(runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running && runID == f.runID
}

func (f *fakeSweeps) Progress() progress.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fixture struct {
	sweeps  *fakeSweeps
	store   *storage.SQLStore
	cache   *cache.Memory
	handler http.Handler
}

func newFixture(t *testing.T, basePath string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mem := cache.NewMemory(cache.MemoryOptions{}, zerolog.Nop())
	t.Cleanup(func() { _ = mem.Close() })

	sweeps := &fakeSweeps{runID: "run-1"}
	r := NewRouter(sweeps, store, mem, zerolog.Nop(), Options{BasePath: basePath, Metrics: true})
	return &fixture{sweeps: sweeps, store: store, cache: mem, handler: r.Handler()}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api/":  "/api",
		" /v1 ":  "/v1",
		"/a/b//": "/a/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeBase(in), "输入 %q", in)
	}
}

func TestStartSweepThenConflict(t *testing.T) {
	f := newFixture(t, "/api")

	rec := doReq(t, f.handler, http.MethodPost, "/api/sweeps", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decode[sweepResp](t, rec)
	assert.True(t, started.Success)
	assert.Equal(t, "run-1", started.RunID)

	rec = doReq(t, f.handler, http.MethodPost, "/api/sweeps", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	rejected := decode[errorResp](t, rec)
	assert.False(t, rejected.Success)
	assert.Equal(t, "already running", rejected.Error)
}

func TestCancelSweep(t *testing.T) {
	f := newFixture(t, "/api")

	rec := doReq(t, f.handler, http.MethodDelete, "/api/sweeps/run-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "没有运行中的扫描时应返回 404")

	doReq(t, f.handler, http.MethodPost, "/api/sweeps", nil)
	rec = doReq(t, f.handler, http.MethodDelete, "/api/sweeps/other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doReq(t, f.handler, http.MethodDelete, "/api/sweeps/run-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProgressEndpoint(t *testing.T) {
	f := newFixture(t, "/api")
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	eta := 12
	f.sweeps.state = progress.State{
		IsRunning:                 true,
		RunID:                     "run-1",
		CurrentItemLabel:          "Portal 2",
		CompletedCount:            2,
		TotalCount:                5,
		StartedAt:                 &started,
		EstimatedSecondsRemaining: &eta,
	}

	rec := doReq(t, f.handler, http.MethodGet, "/api/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["isRunning"])
	assert.Equal(t, "Portal 2", raw["currentItemLabel"])
	assert.EqualValues(t, 2, raw["completedCount"])
	assert.EqualValues(t, 5, raw["totalCount"])
	assert.EqualValues(t, 12, raw["estimatedSecondsRemaining"])
}

func TestItemLifecycle(t *testing.T) {
	f := newFixture(t, "/api")

	rec := doReq(t, f.handler, http.MethodPost, "/api/items", map[string]any{
		"externalId":  "620",
		"displayName": "Portal 2",
		"policy":      "below:1500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decode[domain.TrackedItem](t, rec)
	require.NotZero(t, item.ID)
	assert.True(t, item.Enabled)
	assert.True(t, item.AlertEnabled)
	require.NotNil(t, item.Policy)
	assert.Equal(t, domain.PolicyPriceBelow, item.Policy.Kind)

	rec = doReq(t, f.handler, http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.TrackedItem](t, rec), 1)

	rec = doReq(t, f.handler, http.MethodPatch, "/api/items/"+itoa(item.ID), map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, f.handler, http.MethodGet, "/api/items/"+itoa(item.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.TrackedItem](t, rec).Enabled, "修改后缓存应失效")
}

func TestItemValidation(t *testing.T) {
	f := newFixture(t, "/api")

	rec := doReq(t, f.handler, http.MethodPost, "/api/items", map[string]any{"displayName": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "缺少 externalId")

	rec = doReq(t, f.handler, http.MethodPost, "/api/items", map[string]any{"externalId": "1", "policy": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.handler, http.MethodGet, "/api/items/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.handler, http.MethodGet, "/api/items/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, f.handler, http.MethodPatch, "/api/items/99", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, f.handler, http.MethodPatch, "/api/items/99", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshItem(t *testing.T) {
	f := newFixture(t, "/api")

	rec := doReq(t, f.handler, http.MethodPost, "/api/items/404/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, f.handler, http.MethodPost, "/api/items/7/refresh", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{7}, f.sweeps.refreshed)

	rec = doReq(t, f.handler, http.MethodPost, "/api/items/7/refresh", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLatestAndHistory(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	item, err := f.store.UpsertItem(ctx, domain.TrackedItem{ExternalID: "70", Enabled: true, AlertEnabled: true})
	require.NoError(t, err)

	rec := doReq(t, f.handler, http.MethodGet, "/items/"+itoa(item.ID)+"/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "无快照时应返回 404")
	assert.Empty(t, f.cache.Stats(ctx).Keys, "not found 不应被缓存")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, price := range []int64{999, 499} {
		_, err := f.store.AppendSnapshot(ctx, domain.Snapshot{
			ItemID:        item.ID,
			CurrentPrice:  decimal.NewFromInt(price),
			OriginalPrice: decimal.NewFromInt(999),
			HistoricalLow: decimal.NewFromInt(price),
			Source:        domain.SourceNormal,
			RecordedAt:    base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	rec = doReq(t, f.handler, http.MethodGet, "/items/"+itoa(item.ID)+"/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[domain.Snapshot](t, rec)
	assert.True(t, latest.CurrentPrice.Equal(decimal.NewFromInt(499)))

	rec = doReq(t, f.handler, http.MethodGet, "/items/"+itoa(item.ID)+"/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Snapshot](t, rec), 1)
}

func TestAlertsStatsAndCache(t *testing.T) {
	f := newFixture(t, "/api")
	ctx := context.Background()
	item, err := f.store.UpsertItem(ctx, domain.TrackedItem{ExternalID: "400", Enabled: true, AlertEnabled: true})
	require.NoError(t, err)
	_, err = f.store.AppendAlert(ctx, domain.AlertEvent{
		ItemID:       item.ID,
		Kind:         domain.AlertNewLow,
		TriggerPrice: decimal.NewFromInt(100),
		PreviousLow:  decimal.NewFromInt(200),
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	rec := doReq(t, f.handler, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]domain.AlertEvent](t, rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertNewLow, alerts[0].Kind)

	rec = doReq(t, f.handler, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[storage.Stats](t, rec)
	assert.EqualValues(t, 1, stats.Items)
	assert.EqualValues(t, 1, stats.Alerts)

	rec = doReq(t, f.handler, http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cs := decode[cache.Stats](t, rec)
	assert.Contains(t, cs.Keys, cache.GamesStatsKey)
	assert.Contains(t, cs.Keys, cache.RecentAlertsKey(20))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "/api")
	rec := doReq(t, f.handler, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
