// Package progress holds the live state of the current sweep and the client-side
// loop that polls it.
package progress

import (
	"math"
	"sync"
	"time"
)

// State is the pollable view of a sweep. Readers always receive a copy.
type State struct {
	IsRunning                 bool       `json:"isRunning"`
	RunID                     string     `json:"runId,omitempty"`
	CurrentItemLabel          string     `json:"currentItemLabel,omitempty"`
	CompletedCount            int        `json:"completedCount"`
	TotalCount                int        `json:"totalCount"`
	FailedCount               int        `json:"failedCount"`
	StartedAt                 *time.Time `json:"startedAt,omitempty"`
	FinishedAt                *time.Time `json:"finishedAt,omitempty"`
	Cancelled                 bool       `json:"cancelled"`
	EstimatedSecondsRemaining *int       `json:"estimatedSecondsRemaining,omitempty"`
}

// Tracker guards the single State of a process.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart moves the tracker from idle to running. It reports false, leaving the
// state untouched, when a run is already in progress.
func (t *Tracker) TryStart(runID string, total int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsRunning {
		return false
	}
	started := now
	t.state = State{
		IsRunning:  true,
		RunID:      runID,
		TotalCount: total,
		StartedAt:  &started,
	}
	return true
}

// Begin records which item is being processed.
func (t *Tracker) Begin(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsRunning {
		t.state.CurrentItemLabel = label
	}
}

// Advance counts one processed item and refreshes the remaining-time estimate.
func (t *Tracker) Advance(failed bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return
	}
	t.state.CompletedCount++
	if failed {
		t.state.FailedCount++
	}
	t.state.EstimatedSecondsRemaining = estimate(t.state, now)
}

// Finish returns the tracker to idle, keeping the counters of the finished run.
func (t *Tracker) Finish(cancelled bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.IsRunning {
		return
	}
	finished := now
	t.state.IsRunning = false
	t.state.CurrentItemLabel = ""
	t.state.Cancelled = cancelled
	t.state.FinishedAt = &finished
	t.state.EstimatedSecondsRemaining = nil
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.state
	if t.state.StartedAt != nil {
		v := *t.state.StartedAt
		out.StartedAt = &v
	}
	if t.state.FinishedAt != nil {
		v := *t.state.FinishedAt
		out.FinishedAt = &v
	}
	if t.state.EstimatedSecondsRemaining != nil {
		v := *t.state.EstimatedSecondsRemaining
		out.EstimatedSecondsRemaining = &v
	}
	return out
}

// estimate extrapolates the mean per-item time over the items still to go.
func estimate(s State, now time.Time) *int {
	if s.StartedAt == nil || s.CompletedCount == 0 {
		return nil
	}
	remaining := s.TotalCount - s.CompletedCount
	if remaining < 0 {
		remaining = 0
	}
	elapsed := now.Sub(*s.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	secs := int(math.Ceil(elapsed / float64(s.CompletedCount) * float64(remaining)))
	return &secs
}
