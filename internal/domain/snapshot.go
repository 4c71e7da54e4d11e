package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source classifies how a snapshot's price should be read.
type Source string

const (
	SourceNormal      Source = "normal"
	SourceFree        Source = "free"
	SourceUnreleased  Source = "unreleased"
	SourceRemoved     Source = "removed"
	SourceFetchFailed Source = "fetch_failed"
)

var hundred = decimal.NewFromInt(100)

// Observation is the raw answer of a price source for one item.
// Prices are in the storefront's minor currency unit.
type Observation struct {
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
	IsOnSale      bool            `json:"isOnSale"`
	IsFree        bool            `json:"isFree"`
	IsUnreleased  bool            `json:"isUnreleased"`
	IsRemoved     bool            `json:"isRemoved"`
	Currency      string          `json:"currency,omitempty"`
}

// Snapshot is one immutable price observation of an item.
type Snapshot struct {
	ID              int64           `json:"id,omitempty"`
	ItemID          int64           `json:"itemId"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	OriginalPrice   decimal.Decimal `json:"originalPrice"`
	DiscountPercent int             `json:"discountPercent"`
	IsOnSale        bool            `json:"isOnSale"`
	HistoricalLow   decimal.Decimal `json:"historicalLow"`
	Source          Source          `json:"source"`
	RecordedAt      time.Time       `json:"recordedAt"`
}

// EffectiveDiscount returns the discount consumers may rely on; anything other than
// a normal snapshot with a positive original price reads as zero.
func (s Snapshot) EffectiveDiscount() int {
	if s.Source != SourceNormal || !s.OriginalPrice.IsPositive() {
		return 0
	}
	return s.DiscountPercent
}

// DiscountPercent computes round(100 × (1 − current/original)), or 0 when original is not positive.
func DiscountPercent(current, original decimal.Decimal) int {
	if !original.IsPositive() {
		return 0
	}
	pct := hundred.Mul(decimal.NewFromInt(1).Sub(current.Div(original))).Round(0)
	return int(pct.IntPart())
}
