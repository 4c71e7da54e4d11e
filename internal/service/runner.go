package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricewatch/internal/alerting"
	"pricewatch/internal/cache"
	"pricewatch/internal/domain"
	"pricewatch/internal/evaluator"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/metrics"
	"pricewatch/internal/progress"
	"pricewatch/internal/storage"
)

// ErrAlreadyRunning rejects a sweep request while another sweep is in progress.
var ErrAlreadyRunning = errors.New("already running")

// Options tune the runner.
type Options struct {
	// FetchTTL bounds how long a storefront observation is reused across sweeps.
	FetchTTL      time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	// LockKey guards scheduled sweeps across processes; zero disables the lock.
	LockKey int64
	Now     func() time.Time
}

// Runner executes sweeps: one at a time, one item at a time.
type Runner struct {
	store    storage.Store
	fetcher  fetcher.PriceFetcher
	cache    cache.Cache
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	tracker  *progress.Tracker
	logger   zerolog.Logger
	opts     Options

	base context.Context

	mu     sync.Mutex
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	// notes tracks the notifications of the latest run.
	notes *sync.WaitGroup
}

// New constructs a runner. base bounds the lifetime of every sweep; cancelling it
// stops the current sweep at the next item boundary. notifier and c may be nil.
func New(base context.Context, store storage.Store, f fetcher.PriceFetcher, c cache.Cache, notifier alerting.Notifier, logger zerolog.Logger, opts Options) *Runner {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Runner{
		store:    store,
		fetcher:  f,
		cache:    c,
		notifier: notifier,
		locker:   locker,
		tracker:  progress.NewTracker(),
		logger:   logger.With().Str("component", "runner").Logger(),
		opts:     opts,
		base:     base,
	}
}

// Progress returns a copy of the current run state.
func (r *Runner) Progress() progress.State {
	return r.tracker.State()
}

// StartSweep begins processing items in order and returns the run id immediately.
func (r *Runner) StartSweep(items []domain.TrackedItem) (string, error) {
	runID := uuid.NewString()
	if !r.tracker.TryStart(runID, len(items), r.opts.Now()) {
		return "", ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(r.base)
	done := make(chan struct{})
	notes := &sync.WaitGroup{}

	r.mu.Lock()
	r.runID = runID
	r.cancel = cancel
	r.done = done
	r.notes = notes
	r.mu.Unlock()

	metrics.SetSweepRunning(true)
	r.logger.Info().Str("run_id", runID).Int("items", len(items)).Msg("sweep started")

	go r.run(ctx, runID, items, done, notes)
	return runID, nil
}

// StartEnabled sweeps every enabled item.
func (r *Runner) StartEnabled(ctx context.Context) (string, error) {
	if running := r.tracker.State(); running.IsRunning {
		return "", ErrAlreadyRunning
	}
	items, err := r.store.ListEnabledItems(ctx)
	if err != nil {
		return "", fmt.Errorf("list enabled items: %w", err)
	}
	return r.StartSweep(items)
}

// RefreshItem sweeps a single item, bypassing the cached storefront observation.
func (r *Runner) RefreshItem(ctx context.Context, id int64) (string, error) {
	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	if r.cache != nil {
		r.cache.Delete(ctx, cache.FetchKey(item.ExternalID))
	}
	return r.StartSweep([]domain.TrackedItem{item})
}

// Cancel asks the run identified by runID to stop after the current item.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil || r.runID != runID || !r.tracker.State().IsRunning {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the latest sweep and its notifications have finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done, notes := r.done, r.notes
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	// The run is over, so nothing adds to notes any more.
	notified := make(chan struct{})
	go func() {
		notes.Wait()
		close(notified)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-notified:
		return nil
	}
}

// RunScheduled is the scheduler tick: sweep all enabled items unless another
// process holds the advisory lock or a sweep is already running here.
func (r *Runner) RunScheduled(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Time("tick", tick).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	runID, err := r.StartEnabled(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		r.logger.Info().Time("tick", tick).Msg("skip scheduled sweep, one is already running")
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Debug().Str("run_id", runID).Time("tick", tick).Msg("scheduled sweep started")
	return r.Wait(ctx)
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.LockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

type alertKey struct {
	itemID int64
	kind   domain.AlertKind
}

func (r *Runner) run(ctx context.Context, runID string, items []domain.TrackedItem, done chan struct{}, notes *sync.WaitGroup) {
	defer close(done)

	started := time.Now()
	logger := r.logger.With().Str("run_id", runID).Logger()
	fired := make(map[alertKey]struct{})
	cancelled := false

	for _, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		r.tracker.Begin(item.Label())
		failed := r.processItem(r.base, logger, item, fired, notes)
		r.tracker.Advance(failed, r.opts.Now())
	}

	n := cache.InvalidateAggregates(context.Background(), r.cache)
	metrics.AddCacheInvalidated(n)

	r.tracker.Finish(cancelled, r.opts.Now())
	r.cancelRun(runID)

	outcome := "completed"
	if cancelled {
		outcome = "cancelled"
	}
	metrics.IncSweep(outcome)
	metrics.ObserveSweepDuration(time.Since(started).Seconds())
	metrics.SetSweepRunning(false)

	state := r.tracker.State()
	logger.Info().
		Str("outcome", outcome).
		Int("completed", state.CompletedCount).
		Int("failed", state.FailedCount).
		Int("total", state.TotalCount).
		Int("invalidated_keys", n).
		Dur("elapsed", time.Since(started)).
		Msg("sweep finished")
}

// cancelRun releases the run context once the run is over.
func (r *Runner) cancelRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runID == runID && r.cancel != nil {
		r.cancel()
	}
}

// processItem runs fetch, evaluate, persist and notify for one item and reports
// whether the item counts as failed. Nothing here aborts the sweep, a panic included.
func (r *Runner) processItem(ctx context.Context, logger zerolog.Logger, item domain.TrackedItem, fired map[alertKey]struct{}, notes *sync.WaitGroup) (failed bool) {
	log := logger.With().Int64("item_id", item.ID).Str("external_id", item.ExternalID).Logger()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).Msg("item processing panicked")
			metrics.IncItem("failed", "panic")
			failed = true
		}
	}()

	prev, err := r.store.LatestSnapshot(ctx, item.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load previous snapshot")
		metrics.IncItem("failed", "store")
		return true
	}

	obs, fetchErr := r.fetch(ctx, item)
	now := r.opts.Now()
	res := evaluator.Evaluate(item.ID, prev, obs, fetchErr, now)
	events := alerting.Evaluate(item, prev, res, now)

	if fetchErr != nil {
		log.Warn().Err(fetchErr).Str("kind", string(fetcher.KindOf(fetchErr))).Msg("fetch failed")
	}

	snap, err := r.store.AppendSnapshot(ctx, res.Snapshot)
	if err != nil {
		log.Error().Err(err).Msg("failed to append snapshot")
		metrics.IncItem("failed", "store")
		return true
	}

	failed = fetchErr != nil
	for _, ev := range events {
		key := alertKey{itemID: item.ID, kind: ev.Kind}
		if _, dup := fired[key]; dup {
			continue
		}
		stored, err := r.store.AppendAlert(ctx, ev)
		if err != nil {
			log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to persist alert")
			failed = true
			continue
		}
		fired[key] = struct{}{}
		metrics.IncAlert(string(ev.Kind))
		log.Info().Str("kind", string(ev.Kind)).Str("price", ev.TriggerPrice.String()).Msg("alert fired")
		r.notify(notes, item, stored, snap, obs.Currency)
	}

	if item.WasUnreleased && alerting.Released(item, prev, res) {
		if err := r.store.MarkReleased(ctx, item.ID); err != nil {
			log.Error().Err(err).Msg("failed to clear unreleased flag")
		}
	}

	result := "ok"
	if failed {
		result = "failed"
	}
	metrics.IncItem(result, string(snap.Source))
	log.Debug().Str("source", string(snap.Source)).Str("price", snap.CurrentPrice.String()).Msg("item processed")
	return failed
}

func (r *Runner) fetch(ctx context.Context, item domain.TrackedItem) (domain.Observation, error) {
	return cache.Lookup(ctx, r.cache, cache.FetchKey(item.ExternalID), r.opts.FetchTTL,
		func(ctx context.Context) (domain.Observation, error) {
			fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
			defer cancel()
			return r.fetcher.Fetch(fetchCtx, item.ExternalID)
		})
}

// notify delivers in the background; failures are logged and counted only.
func (r *Runner) notify(notes *sync.WaitGroup, item domain.TrackedItem, ev domain.AlertEvent, snap domain.Snapshot, currency string) {
	if r.notifier == nil {
		return
	}
	note := alerting.Notification{Item: item, Event: ev, Snapshot: snap, Currency: currency}

	notes.Add(1)
	go func() {
		defer notes.Done()
		defer func() {
			if rec := recover(); rec != nil {
				metrics.IncNotifyFailure()
				r.logger.Error().Interface("panic", rec).Int64("item_id", item.ID).Str("kind", string(ev.Kind)).Msg("notifier panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(r.base, r.opts.NotifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, note); err != nil {
			metrics.IncNotifyFailure()
			r.logger.Error().Err(err).Int64("item_id", item.ID).Str("kind", string(ev.Kind)).Msg("failed to dispatch alert")
		}
	}()
}
