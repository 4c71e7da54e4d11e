package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pricewatch/internal/alerting"
	"pricewatch/internal/cache"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/metrics"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/server"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
	"pricewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	sf := a.Config.Storefront
	api := fetcher.NewStorefront(fetcher.StorefrontOptions{
		BaseURL:           sf.BaseURL,
		Country:           sf.Country,
		Language:          sf.Language,
		Timeout:           sf.RequestTimeout,
		UserAgent:         sf.UserAgent,
		RequestsPerMinute: sf.RequestsPerMinute,
	}, a.Logger)
	if !sf.PageFallback {
		return api
	}

	page := fetcher.NewPage(fetcher.PageOptions{
		BaseURL:           sf.PageBaseURL,
		Timeout:           sf.RequestTimeout,
		UserAgent:         sf.UserAgent,
		RequestsPerMinute: sf.RequestsPerMinute,
	}, a.Logger)
	return fetcher.NewChain(a.Logger, api, page)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.NotifyTimeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// newCache returns the configured backend. An unreachable Redis degrades to the
// in-process cache instead of failing startup.
func (a *App) newCache(ctx context.Context) cache.Cache {
	cfg := a.Config.Cache
	if strings.EqualFold(cfg.Backend, "redis") {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := cache.NewRedis(pingCtx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, a.Logger)
		if err == nil {
			return rc
		}
		a.Logger.Warn().Err(err).Msg("redis unavailable; falling back to in-memory cache")
	}
	return cache.NewMemory(cache.MemoryOptions{SweepInterval: cfg.SweepInterval}, a.Logger)
}

func (a *App) newRunner(base context.Context, store storage.Store, f fetcher.PriceFetcher, c cache.Cache, n alerting.Notifier) *service.Runner {
	return service.New(base, store, f, c, n, a.Logger, service.Options{
		FetchTTL:      a.Config.Cache.FetchTTL,
		FetchTimeout:  a.Config.Sweep.FetchTimeout,
		NotifyTimeout: a.Config.Alerting.NotifyTimeout,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	})
}

// Run serves the HTTP API and, when enabled, the sweep scheduler until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c := a.newCache(ctx)
	defer func() { _ = c.Close() }()

	runner := a.newRunner(ctx, store, a.newFetcher(), c, a.newNotifier())
	router := server.NewRouter(runner, store, c, a.Logger, server.Options{
		BasePath: a.Config.HTTP.BasePath,
		Metrics:  a.Config.Metrics.Enabled,
		ViewTTL:  a.Config.Cache.DefaultTTL,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- router.Serve(ctx, a.Config.HTTP.Addr) }()

	workers := 1
	if a.Config.Scheduler.Enabled {
		sched, err := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			Cron:         a.Config.Scheduler.Cron,
		}, a.Logger)
		if err != nil {
			cancel()
			<-errCh
			return err
		}
		workers++
		go func() { errCh <- sched.Run(ctx, runner.RunScheduled) }()
	} else {
		a.Logger.Info().Msg("scheduler disabled; sweeps run on request only")
	}

	a.Logger.Info().Str("addr", a.Config.HTTP.Addr).Str("driver", store.Driver()).Str("version", version.Version).Msg("starting price monitor")

	var firstErr error
	for i := 0; i < workers; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			a.Logger.Error().Err(err).Msg("service terminated with error")
		}
		cancel()
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := runner.Wait(waitCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("sweep did not finish before shutdown")
	}

	a.Logger.Info().Msg("price monitor stopped")
	return firstErr
}

// SweepOptions configure the sweep and refresh commands.
type SweepOptions struct {
	// Server, when set, drives a running instance over HTTP instead of sweeping in-process.
	Server string
	Poll   time.Duration
	// ItemID limits the sweep to one item.
	ItemID int64
}

// ExportOptions hold parameters for exporting an item's price history.
type ExportOptions struct {
	ItemID    int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
	ItemID int64
}

// SimulateOptions describe the observation fed through a dry-run sweep.
type SimulateOptions struct {
	ItemID     int64
	Price      int64
	Original   int64
	Free       bool
	Unreleased bool
	Removed    bool
}
