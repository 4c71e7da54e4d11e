package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/domain"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/storage"
)

// SimulateAlert 将给定的观测价格送入一次单项扫描, 打印触发的告警并按配置发送通知。
// 扫描在内存库中进行, 真实库只被读取。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.ItemID <= 0 {
		return errors.New("--item is required")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	item, err := store.GetItem(ctx, opts.ItemID)
	if err != nil {
		return err
	}
	prev, err := store.LatestSnapshot(ctx, item.ID)
	if err != nil {
		return err
	}

	scratch, scratchItem, err := seedScratch(ctx, item, prev)
	if err != nil {
		return err
	}
	defer func() { _ = scratch.Close() }()

	printer := &consoleNotifier{out: os.Stdout, next: a.newNotifier()}
	if printer.next == nil {
		a.Logger.Warn().Msg("未配置任何告警通道, 仅打印告警")
	}

	obs := opts.observation()
	runner := a.newRunner(ctx, scratch, &staticFetcher{obs: obs}, nil, printer)
	if _, err := runner.RefreshItem(ctx, scratchItem.ID); err != nil {
		return err
	}
	if err := runner.Wait(ctx); err != nil {
		return err
	}

	if printer.count() == 0 {
		fmt.Fprintln(os.Stdout, "no alerts would fire")
	}
	return nil
}

// seedScratch copies item and its baseline snapshot into an in-memory store.
func seedScratch(ctx context.Context, item domain.TrackedItem, prev *domain.Snapshot) (*storage.SQLStore, domain.TrackedItem, error) {
	scratch, err := storage.Open(ctx, config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		return nil, domain.TrackedItem{}, err
	}

	copyItem := item
	copyItem.ID = 0
	copyItem.AlertEnabled = true
	saved, err := scratch.UpsertItem(ctx, copyItem)
	if err != nil {
		_ = scratch.Close()
		return nil, domain.TrackedItem{}, err
	}

	if prev != nil {
		baseline := *prev
		baseline.ID = 0
		baseline.ItemID = saved.ID
		if _, err := scratch.AppendSnapshot(ctx, baseline); err != nil {
			_ = scratch.Close()
			return nil, domain.TrackedItem{}, err
		}
	}
	return scratch, saved, nil
}

func (o SimulateOptions) observation() domain.Observation {
	original := o.Original
	if original <= 0 {
		original = o.Price
	}
	return domain.Observation{
		CurrentPrice:  decimal.NewFromInt(o.Price),
		OriginalPrice: decimal.NewFromInt(original),
		IsOnSale:      o.Price < original,
		IsFree:        o.Free,
		IsUnreleased:  o.Unreleased,
		IsRemoved:     o.Removed,
	}
}

type staticFetcher struct {
	obs domain.Observation
}

func (s *staticFetcher) Fetch(context.Context, string) (domain.Observation, error) {
	return s.obs, nil
}

// consoleNotifier prints every alert and forwards it to the configured channel, if any.
type consoleNotifier struct {
	out  io.Writer
	next alerting.Notifier

	mu sync.Mutex
	n  int
}

func (c *consoleNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.mu.Lock()
	c.n++
	fmt.Fprintf(c.out, "%s: %s now %s (previous low %s)\n",
		note.Event.Kind,
		note.Item.Label(),
		alerting.FormatPrice(note.Event.TriggerPrice, note.Currency),
		alerting.FormatPrice(note.Event.PreviousLow, note.Currency),
	)
	c.mu.Unlock()

	if c.next == nil {
		return nil
	}
	return c.next.Notify(ctx, note)
}

func (c *consoleNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

var _ fetcher.PriceFetcher = (*staticFetcher)(nil)
var _ alerting.Notifier = (*consoleNotifier)(nil)
