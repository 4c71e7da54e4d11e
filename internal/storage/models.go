package storage

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"pricewatch/internal/domain"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func encodePolicy(p *domain.AlertPolicy) (kind, amount any, percent int) {
	if p == nil {
		return nil, nil, 0
	}
	kind = string(p.Kind)
	if p.Kind == domain.PolicyPriceBelow {
		amount = p.Amount.String()
	}
	return kind, amount, p.Percent
}

func decodePolicy(kind, amount sql.NullString, percent int) (*domain.AlertPolicy, error) {
	if !kind.Valid || kind.String == "" {
		return nil, nil
	}
	p := &domain.AlertPolicy{Kind: domain.PolicyKind(kind.String), Percent: percent}
	if amount.Valid && amount.String != "" {
		d, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("parse policy amount: %w", err)
		}
		p.Amount = d
	}
	return p, nil
}

func scanItem(row rowScanner) (domain.TrackedItem, error) {
	var (
		item    domain.TrackedItem
		kind    sql.NullString
		amount  sql.NullString
		percent int
	)
	if err := row.Scan(
		&item.ID,
		&item.ExternalID,
		&item.DisplayName,
		&item.Enabled,
		&item.AlertEnabled,
		&kind,
		&amount,
		&percent,
		&item.WasUnreleased,
	); err != nil {
		return domain.TrackedItem{}, fmt.Errorf("scan item: %w", err)
	}
	policy, err := decodePolicy(kind, amount, percent)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	item.Policy = policy
	return item, nil
}

var snapshotColumns = []string{
	"id", "item_id", "current_price", "original_price", "discount_percent",
	"is_on_sale", "historical_low", "source", "recorded_at",
}

func scanSnapshot(row rowScanner) (domain.Snapshot, error) {
	var (
		snap        domain.Snapshot
		currentStr  string
		originalStr string
		lowStr      string
		source      string
	)
	if err := row.Scan(
		&snap.ID,
		&snap.ItemID,
		&currentStr,
		&originalStr,
		&snap.DiscountPercent,
		&snap.IsOnSale,
		&lowStr,
		&source,
		&snap.RecordedAt,
	); err != nil {
		return domain.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	var err error
	if snap.CurrentPrice, err = decimal.NewFromString(currentStr); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse current price: %w", err)
	}
	if snap.OriginalPrice, err = decimal.NewFromString(originalStr); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse original price: %w", err)
	}
	if snap.HistoricalLow, err = decimal.NewFromString(lowStr); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse historical low: %w", err)
	}
	snap.Source = domain.Source(source)
	snap.RecordedAt = snap.RecordedAt.UTC()
	return snap, nil
}

var alertColumns = []string{"id", "item_id", "kind", "trigger_price", "previous_low", "created_at"}

func scanAlert(row rowScanner) (domain.AlertEvent, error) {
	var (
		ev         domain.AlertEvent
		kind       string
		triggerStr string
		lowStr     string
	)
	if err := row.Scan(&ev.ID, &ev.ItemID, &kind, &triggerStr, &lowStr, &ev.CreatedAt); err != nil {
		return domain.AlertEvent{}, fmt.Errorf("scan alert: %w", err)
	}

	var err error
	if ev.TriggerPrice, err = decimal.NewFromString(triggerStr); err != nil {
		return domain.AlertEvent{}, fmt.Errorf("parse trigger price: %w", err)
	}
	if ev.PreviousLow, err = decimal.NewFromString(lowStr); err != nil {
		return domain.AlertEvent{}, fmt.Errorf("parse previous low: %w", err)
	}
	ev.Kind = domain.AlertKind(kind)
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}
