package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often a Poller reads progress.
const DefaultPollInterval = time.Second

// Source returns the current sweep state, typically over HTTP.
type Source interface {
	Progress(ctx context.Context) (State, error)
}

// PollerOptions configure a Poller.
type PollerOptions struct {
	Interval time.Duration
	// OnUpdate receives every successfully read state, including the final one.
	OnUpdate func(State)
	// OnDone fires once, with the first state that reports the run as finished.
	OnDone func(State)
}

// Poller reads a Source periodically until the run finishes or Stop is called.
// Reads are issued from a single goroutine, so a slow request delays the next
// tick instead of overlapping it.
type Poller struct {
	src    Source
	opts   PollerOptions
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewPoller builds an idle poller.
func NewPoller(src Source, opts PollerOptions, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	return &Poller{
		src:    src,
		opts:   opts,
		logger: logger.With().Str("component", "progress_poller").Logger(),
		done:   make(chan struct{}),
	}
}

// Start launches the polling loop. Calling it again is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop ends the loop and waits for it to exit. OnDone is not invoked for a stopped
// poller. Stopping a poller that was never started closes Done and makes any later
// Start a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.started = true
		close(p.done)
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		// already stopped before start
		return
	}
	cancel()
	<-p.done
}

// Done is closed once the loop has exited, or by Stop on a poller that never started.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if p.poll(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll reports true once the run has finished.
func (p *Poller) poll(ctx context.Context) bool {
	state, err := p.src.Progress(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("progress poll failed")
		}
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(state)
	}
	if state.IsRunning {
		return false
	}
	if p.opts.OnDone != nil {
		p.opts.OnDone(state)
	}
	return true
}
