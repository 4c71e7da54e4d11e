package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/domain"
	"pricewatch/internal/storage"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Database:  config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "pricewatch.db")},
		Cache:     config.CacheConfig{Backend: "memory", DefaultTTL: time.Minute},
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Sweep:     config.SweepConfig{FetchTimeout: time.Second},
		Export:    config.ExportConfig{MaxDataPoints: 100},
		HTTP:      config.HTTPConfig{PollInterval: 10 * time.Millisecond},
	}
	return NewApp(cfg, zerolog.Nop())
}

func seedHistory(t *testing.T, a *App, itemID int64, prices ...int64) {
	t.Helper()
	ctx := context.Background()
	store, err := a.openStore(ctx)
	require.NoError(t, err)
	defer store.Close()

	base := time.Now().UTC().Add(-time.Duration(len(prices)+1) * time.Hour)
	low := prices[0]
	for i, p := range prices {
		if p < low {
			low = p
		}
		_, err := store.AppendSnapshot(ctx, domain.Snapshot{
			ItemID:          itemID,
			CurrentPrice:    decimal.NewFromInt(p),
			OriginalPrice:   decimal.NewFromInt(2000),
			DiscountPercent: domain.DiscountPercent(decimal.NewFromInt(p), decimal.NewFromInt(2000)),
			IsOnSale:        p < 2000,
			HistoricalLow:   decimal.NewFromInt(low),
			Source:          domain.SourceNormal,
			RecordedAt:      base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestAddAndToggleItem(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	item, err := a.AddItem(ctx, ItemOptions{ExternalID: "620", DisplayName: "Portal 2", Policy: "discount:50"})
	require.NoError(t, err)
	require.NotNil(t, item.Policy)
	assert.Equal(t, 50, item.Policy.Percent)
	assert.True(t, item.Enabled)

	require.NoError(t, a.SetItemEnabled(ctx, item.ID, false))
	assert.ErrorIs(t, a.SetItemEnabled(ctx, item.ID+100, true), storage.ErrNotFound)

	_, err = a.AddItem(ctx, ItemOptions{ExternalID: "1", Policy: "bogus"})
	assert.Error(t, err)
	_, err = a.AddItem(ctx, ItemOptions{})
	assert.Error(t, err)
}

func TestWriteItems(t *testing.T) {
	var buf bytes.Buffer
	writeItems(&buf, []domain.TrackedItem{
		{ID: 1, ExternalID: "620", DisplayName: "Portal 2", Enabled: true, AlertEnabled: true, Policy: domain.AnySaleStart()},
		{ID: 2, ExternalID: "70", Enabled: false},
	})
	out := buf.String()
	assert.Contains(t, out, "Portal 2")
	assert.Contains(t, out, "sale")
	assert.Contains(t, out, "none")
	assert.Contains(t, out, "disabled")
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := make([]domain.Snapshot, 10)
	for i := range snaps {
		snaps[i].ID = int64(i)
	}

	assert.Len(t, downsampleSnapshots(snaps, 0), 10)
	assert.Len(t, downsampleSnapshots(snaps, 20), 10)

	got := downsampleSnapshots(snaps, 4)
	require.Len(t, got, 4)
	assert.EqualValues(t, 0, got[0].ID, "首个点应保留")
	assert.EqualValues(t, 9, got[3].ID, "末尾点应保留")

	one := downsampleSnapshots(snaps, 1)
	require.Len(t, one, 1)
	assert.EqualValues(t, 9, one[0].ID)
}

func TestExportCSV(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	item, err := a.AddItem(ctx, ItemOptions{ExternalID: "400"})
	require.NoError(t, err)
	seedHistory(t, a, item.ID, 2000, 1500, 1800)

	path := filepath.Join(t.TempDir(), "out", "history.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{ItemID: item.ID, CSVPath: path}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "recorded_at", rows[0][0])
	assert.Equal(t, "1500", rows[2][2])
	assert.Equal(t, "25", rows[2][4])
	assert.Equal(t, "1500", rows[3][6], "历史最低价应延续")
}

func TestExportValidation(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	assert.Error(t, a.Export(ctx, ExportOptions{ItemID: 1}))
	assert.Error(t, a.Export(ctx, ExportOptions{CSVPath: "x.csv"}))

	item, err := a.AddItem(ctx, ItemOptions{ExternalID: "400"})
	require.NoError(t, err)
	from := time.Now()
	to := from.Add(-time.Hour)
	assert.Error(t, a.Export(ctx, ExportOptions{ItemID: item.ID, CSVPath: "x.csv", From: &from, To: &to}))
}

func TestSimulateAlertLeavesStoreUntouched(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	item, err := a.AddItem(ctx, ItemOptions{ExternalID: "620", Policy: "below:1200"})
	require.NoError(t, err)
	seedHistory(t, a, item.ID, 2000)

	require.NoError(t, a.SimulateAlert(ctx, SimulateOptions{ItemID: item.ID, Price: 1000, Original: 2000}))

	store, err := a.openStore(ctx)
	require.NoError(t, err)
	defer store.Close()
	alerts, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts, "模拟不应写入真实库")
	snaps, err := store.ListRecentSnapshots(ctx, item.ID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSeedScratchRunsPolicy(t *testing.T) {
	ctx := context.Background()
	item := domain.TrackedItem{ID: 42, ExternalID: "620", Enabled: true, Policy: domain.PriceBelow(decimal.NewFromInt(1200))}
	prev := &domain.Snapshot{
		ItemID:        42,
		CurrentPrice:  decimal.NewFromInt(2000),
		OriginalPrice: decimal.NewFromInt(2000),
		HistoricalLow: decimal.NewFromInt(2000),
		Source:        domain.SourceNormal,
		RecordedAt:    time.Now().UTC().Add(-time.Hour),
	}
	scratch, saved, err := seedScratch(ctx, item, prev)
	require.NoError(t, err)
	defer scratch.Close()
	assert.True(t, saved.AlertEnabled, "模拟时总是启用告警")

	a := newTestApp(t)
	var out bytes.Buffer
	printer := &consoleNotifier{out: &out}
	runner := a.newRunner(ctx, scratch, &staticFetcher{obs: SimulateOptions{Price: 1000, Original: 2000}.observation()}, nil, printer)
	_, err = runner.RefreshItem(ctx, saved.ID)
	require.NoError(t, err)
	require.NoError(t, runner.Wait(ctx))

	assert.Equal(t, 3, printer.count())
	assert.Contains(t, out.String(), "new_low")
	assert.Contains(t, out.String(), "threshold_met")
	assert.Contains(t, out.String(), "sale_start")
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, alerting.Notification) error {
	c.n++
	return nil
}

func TestConsoleNotifierForwards(t *testing.T) {
	next := &countingNotifier{}
	var out bytes.Buffer
	c := &consoleNotifier{out: &out, next: next}
	note := alerting.Notification{
		Item:  domain.TrackedItem{ExternalID: "620", DisplayName: "Portal 2"},
		Event: domain.AlertEvent{Kind: domain.AlertFreeGame, TriggerPrice: decimal.Zero, PreviousLow: decimal.NewFromInt(999)},
	}
	require.NoError(t, c.Notify(context.Background(), note))
	assert.Equal(t, 1, next.n)
	assert.Equal(t, "free_game: Portal 2 now 0.00 (previous low 9.99)\n", out.String())
}

func TestSimulateObservation(t *testing.T) {
	obs := SimulateOptions{Price: 1500}.observation()
	assert.True(t, obs.OriginalPrice.Equal(decimal.NewFromInt(1500)))
	assert.False(t, obs.IsOnSale)

	obs = SimulateOptions{Free: true}.observation()
	assert.True(t, obs.IsFree)
}
