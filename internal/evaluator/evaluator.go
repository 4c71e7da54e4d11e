// Package evaluator classifies a fresh price observation against the previous snapshot.
// Everything here is pure: the same inputs always produce the same Result.
package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// Result is the classified snapshot plus the transition flags derived from it.
type Result struct {
	Snapshot         domain.Snapshot
	NewHistoricalLow bool
	// Released marks an unreleased -> normal transition with a positive price.
	Released bool
}

// Evaluate applies the classification rules in priority order: fetch failure, free,
// unreleased, removed, normal. A fetch failure is an expected outcome, not an error.
func Evaluate(itemID int64, prev *domain.Snapshot, obs domain.Observation, fetchErr error, at time.Time) Result {
	snap := domain.Snapshot{
		ItemID:     itemID,
		RecordedAt: at,
	}
	if prev != nil {
		snap.HistoricalLow = prev.HistoricalLow
	}

	switch {
	case fetchErr != nil:
		snap.Source = domain.SourceFetchFailed
		snap.CurrentPrice = decimal.Zero
		snap.OriginalPrice = decimal.Zero
		return Result{Snapshot: snap}

	case obs.IsFree:
		snap.Source = domain.SourceFree
		snap.CurrentPrice = decimal.Zero
		snap.OriginalPrice = obs.OriginalPrice
		return Result{Snapshot: snap}

	case obs.IsUnreleased:
		snap.Source = domain.SourceUnreleased
		snap.CurrentPrice = obs.CurrentPrice
		snap.OriginalPrice = obs.OriginalPrice
		return Result{Snapshot: snap}

	case obs.IsRemoved:
		snap.Source = domain.SourceRemoved
		snap.CurrentPrice = obs.CurrentPrice
		snap.OriginalPrice = obs.OriginalPrice
		return Result{Snapshot: snap}
	}

	current := obs.CurrentPrice
	snap.Source = domain.SourceNormal
	snap.CurrentPrice = current
	snap.OriginalPrice = obs.OriginalPrice
	snap.IsOnSale = current.LessThan(obs.OriginalPrice)
	snap.DiscountPercent = domain.DiscountPercent(current, obs.OriginalPrice)

	// The low only accumulates across consecutive normal snapshots. After a
	// free, unreleased or removed interlude it restarts at the current price; the
	// low carried on the non-normal snapshot is for display only.
	res := Result{}
	if prev != nil && prev.Source == domain.SourceNormal {
		snap.HistoricalLow = decimal.Min(prev.HistoricalLow, current)
		res.NewHistoricalLow = current.LessThan(prev.HistoricalLow)
	} else {
		snap.HistoricalLow = current
	}
	res.Released = prev != nil && prev.Source == domain.SourceUnreleased && current.IsPositive()
	res.Snapshot = snap
	return res
}
