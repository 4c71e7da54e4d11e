package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
	"pricewatch/internal/evaluator"
)

// Evaluate decides which alerts a classified observation fires for item.
// Events come back in a fixed order: released, free_game, new_low, threshold_met,
// sale_start. Nothing fires when alerts are disabled or the policy is absent or unknown.
func Evaluate(item domain.TrackedItem, prev *domain.Snapshot, res evaluator.Result, at time.Time) []domain.AlertEvent {
	if !item.AlertEnabled || item.Policy == nil || !item.Policy.Kind.Valid() {
		return nil
	}

	snap := res.Snapshot
	previousLow := decimal.Zero
	if prev != nil {
		previousLow = prev.HistoricalLow
	}

	var events []domain.AlertEvent
	fire := func(kind domain.AlertKind) {
		events = append(events, domain.AlertEvent{
			ItemID:       item.ID,
			Kind:         kind,
			TriggerPrice: snap.CurrentPrice,
			PreviousLow:  previousLow,
			CreatedAt:    at,
		})
	}

	isNormal := snap.Source == domain.SourceNormal

	if Released(item, prev, res) {
		fire(domain.AlertReleased)
	}
	if snap.Source == domain.SourceFree && (prev == nil || prev.Source != domain.SourceFree) {
		fire(domain.AlertFreeGame)
	}
	if isNormal && res.NewHistoricalLow {
		fire(domain.AlertNewLow)
	}
	if isNormal && thresholdMet(item.Policy, snap) {
		fire(domain.AlertThresholdMet)
	}
	if isNormal && snap.IsOnSale && (prev == nil || !prev.IsOnSale) {
		fire(domain.AlertSaleStart)
	}
	return events
}

// Released reports a release transition. The evaluator detects it from the
// previous snapshot; an item never observed before falls back to its own
// WasUnreleased flag.
func Released(item domain.TrackedItem, prev *domain.Snapshot, res evaluator.Result) bool {
	if res.Released {
		return true
	}
	snap := res.Snapshot
	return prev == nil && item.WasUnreleased &&
		snap.Source == domain.SourceNormal && snap.CurrentPrice.IsPositive()
}

func thresholdMet(p *domain.AlertPolicy, snap domain.Snapshot) bool {
	switch p.Kind {
	case domain.PolicyPriceBelow:
		return snap.CurrentPrice.LessThanOrEqual(p.Amount)
	case domain.PolicyDiscountAtLeast:
		return snap.EffectiveDiscount() >= p.Percent
	default:
		return false
	}
}
