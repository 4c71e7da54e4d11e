package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu       sync.Mutex
	states   []State
	errs     []error
	calls    int
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (s *scriptedSource) Progress(ctx context.Context) (State, error) {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return State{}, s.errs[i]
	}
	if i >= len(s.states) {
		return s.states[len(s.states)-1], nil
	}
	return s.states[i], nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollerStopsWhenRunFinishes(t *testing.T) {
	src := &scriptedSource{states: []State{
		{IsRunning: true, CompletedCount: 1, TotalCount: 3},
		{IsRunning: true, CompletedCount: 2, TotalCount: 3},
		{IsRunning: false, CompletedCount: 3, TotalCount: 3},
	}}

	var (
		mu      sync.Mutex
		updates []int
		doneN   atomic.Int32
		final   State
	)
	p := NewPoller(src, PollerOptions{
		Interval: 5 * time.Millisecond,
		OnUpdate: func(s State) {
			mu.Lock()
			updates = append(updates, s.CompletedCount)
			mu.Unlock()
		},
		OnDone: func(s State) {
			doneN.Add(1)
			final = s
		},
	}, zerolog.Nop())

	p.Start(context.Background())
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not finish")
	}
	p.Stop()

	assert.Equal(t, int32(1), doneN.Load())
	assert.Equal(t, 3, final.CompletedCount)
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, updates)
	mu.Unlock()
	assert.Equal(t, 3, src.count())
}

func TestPollerKeepsGoingAfterErrors(t *testing.T) {
	src := &scriptedSource{
		errs:   []error{errors.New("unreachable"), nil},
		states: []State{{}, {IsRunning: false}},
	}
	var done atomic.Bool
	p := NewPoller(src, PollerOptions{Interval: 5 * time.Millisecond, OnDone: func(State) { done.Store(true) }}, zerolog.Nop())

	p.Start(context.Background())
	<-p.Done()

	assert.True(t, done.Load())
	assert.Equal(t, 2, src.count())
}

func TestPollerStopWithoutCompletion(t *testing.T) {
	src := &scriptedSource{states: []State{{IsRunning: true}}}
	var done atomic.Bool
	p := NewPoller(src, PollerOptions{Interval: 5 * time.Millisecond, OnDone: func(State) { done.Store(true) }}, zerolog.Nop())

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	assert.False(t, done.Load())
	n := src.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, src.count(), "no polls after Stop")
}

func TestPollerNeverOverlapsRequests(t *testing.T) {
	src := &scriptedSource{
		states: []State{{IsRunning: true}, {IsRunning: true}, {IsRunning: true}, {IsRunning: false}},
		delay:  15 * time.Millisecond,
	}
	p := NewPoller(src, PollerOptions{Interval: time.Millisecond}, zerolog.Nop())

	p.Start(context.Background())
	<-p.Done()

	assert.False(t, src.overlap.Load())
	assert.Equal(t, 4, src.count())
}

func TestPollerStartTwiceAndStopIdle(t *testing.T) {
	idle := NewPoller(&scriptedSource{states: []State{{}}}, PollerOptions{}, zerolog.Nop())
	idle.Stop()

	src := &scriptedSource{states: []State{{IsRunning: false}}}
	p := NewPoller(src, PollerOptions{}, zerolog.Nop())
	require.Equal(t, DefaultPollInterval, p.opts.Interval)

	p.Start(context.Background())
	p.Start(context.Background())
	<-p.Done()
	p.Stop()
	assert.Equal(t, 1, src.count())
}

func TestPollerStopBeforeStartClosesDone(t *testing.T) {
	src := &scriptedSource{states: []State{{IsRunning: true}}}
	p := NewPoller(src, PollerOptions{}, zerolog.Nop())
	p.Stop()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("未启动的 poller 在 Stop 后 Done 应关闭")
	}

	p.Start(context.Background())
	p.Stop()
	assert.Equal(t, 0, src.count(), "Stop 之后 Start 不应再轮询")
}
