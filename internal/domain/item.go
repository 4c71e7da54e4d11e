// Package domain holds the records shared by the sweep engine, storage and the HTTP surface.
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PolicyKind enumerates the alert policies an item can carry.
type PolicyKind string

const (
	PolicyPriceBelow      PolicyKind = "price_below"
	PolicyDiscountAtLeast PolicyKind = "discount_at_least"
	PolicyAnySaleStart    PolicyKind = "any_sale_start"
)

// Valid reports whether k is one of the known policy kinds.
func (k PolicyKind) Valid() bool {
	switch k {
	case PolicyPriceBelow, PolicyDiscountAtLeast, PolicyAnySaleStart:
		return true
	default:
		return false
	}
}

// AlertPolicy is a tagged variant; only the field matching Kind is meaningful.
type AlertPolicy struct {
	Kind    PolicyKind      `json:"kind"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Percent int             `json:"percent,omitempty"`
}

// PriceBelow builds a price floor policy.
func PriceBelow(amount decimal.Decimal) *AlertPolicy {
	return &AlertPolicy{Kind: PolicyPriceBelow, Amount: amount}
}

// DiscountAtLeast builds a minimum discount policy.
func DiscountAtLeast(percent int) *AlertPolicy {
	return &AlertPolicy{Kind: PolicyDiscountAtLeast, Percent: percent}
}

// AnySaleStart builds a policy that fires on any markdown.
func AnySaleStart() *AlertPolicy {
	return &AlertPolicy{Kind: PolicyAnySaleStart}
}

// String renders the policy the way the CLI accepts it.
func (p *AlertPolicy) String() string {
	if p == nil {
		return "none"
	}
	switch p.Kind {
	case PolicyPriceBelow:
		return fmt.Sprintf("below:%s", p.Amount.String())
	case PolicyDiscountAtLeast:
		return fmt.Sprintf("discount:%d", p.Percent)
	case PolicyAnySaleStart:
		return "sale"
	default:
		return string(p.Kind)
	}
}

// ParsePolicy parses "below:<amount>", "discount:<percent>", "sale" or "none".
func ParsePolicy(raw string) (*AlertPolicy, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "none" {
		return nil, nil
	}
	name, arg, _ := strings.Cut(raw, ":")
	switch name {
	case "below":
		amount, err := decimal.NewFromString(arg)
		if err != nil {
			return nil, fmt.Errorf("parse price floor %q: %w", arg, err)
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("price floor must be positive")
		}
		return PriceBelow(amount), nil
	case "discount":
		var pct int
		if _, err := fmt.Sscanf(arg, "%d", &pct); err != nil {
			return nil, fmt.Errorf("parse discount %q: %w", arg, err)
		}
		if pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("discount must be within 1..100")
		}
		return DiscountAtLeast(pct), nil
	case "sale":
		return AnySaleStart(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", raw)
	}
}

// TrackedItem is a storefront item under watch. The engine reads it and only ever
// clears WasUnreleased after observing a release.
type TrackedItem struct {
	ID            int64        `json:"id"`
	ExternalID    string       `json:"externalId"`
	DisplayName   string       `json:"displayName"`
	Enabled       bool         `json:"enabled"`
	AlertEnabled  bool         `json:"alertEnabled"`
	Policy        *AlertPolicy `json:"policy,omitempty"`
	WasUnreleased bool         `json:"wasUnreleased"`
}

// Label is what progress observers see while the item is being processed.
func (i TrackedItem) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ExternalID
}
