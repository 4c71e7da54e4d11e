package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind enumerates the events the policy engine can raise.
type AlertKind string

const (
	AlertReleased     AlertKind = "released"
	AlertFreeGame     AlertKind = "free_game"
	AlertNewLow       AlertKind = "new_low"
	AlertThresholdMet AlertKind = "threshold_met"
	AlertSaleStart    AlertKind = "sale_start"
)

// AlertEvent is an append-only record of a fired alert.
type AlertEvent struct {
	ID           int64           `json:"id,omitempty"`
	ItemID       int64           `json:"itemId"`
	Kind         AlertKind       `json:"kind"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	PreviousLow  decimal.Decimal `json:"previousLow"`
	CreatedAt    time.Time       `json:"createdAt"`
}
