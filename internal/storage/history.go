package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"pricewatch/internal/domain"
)

// AppendSnapshot records a new observation and returns it with its id.
func (s *SQLStore) AppendSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap.RecordedAt = snap.RecordedAt.UTC()
	query, args, err := s.sb.Insert("price_snapshots").
		Columns(snapshotColumns[1:]...).
		Values(
			snap.ItemID,
			snap.CurrentPrice.String(),
			snap.OriginalPrice.String(),
			snap.DiscountPercent,
			snap.IsOnSale,
			snap.HistoricalLow.String(),
			string(snap.Source),
			snap.RecordedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("build insert snapshot: %w", err)
	}

	if err := db.QueryRowContext(ctx, query, args...).Scan(&snap.ID); err != nil {
		return domain.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the newest successfully fetched snapshot, or nil when the
// item has none. Fetch failures are history, not a baseline, so they are skipped.
func (s *SQLStore) LatestSnapshot(ctx context.Context, itemID int64) (*domain.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, s.sb.Select(snapshotColumns...).
		From("price_snapshots").
		Where(sq.Eq{"item_id": itemID}).
		Where(sq.NotEq{"source": string(domain.SourceFetchFailed)}).
		OrderBy("recorded_at DESC", "id DESC").
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// ListSnapshots returns every snapshot in [from, to) in chronological order.
func (s *SQLStore) ListSnapshots(ctx context.Context, itemID int64, from, to time.Time) ([]domain.Snapshot, error) {
	return s.querySnapshots(ctx, s.sb.Select(snapshotColumns...).
		From("price_snapshots").
		Where(sq.Eq{"item_id": itemID}).
		Where(sq.GtOrEq{"recorded_at": from.UTC()}).
		Where(sq.Lt{"recorded_at": to.UTC()}).
		OrderBy("recorded_at", "id"))
}

// ListRecentSnapshots returns up to limit snapshots, newest first.
func (s *SQLStore) ListRecentSnapshots(ctx context.Context, itemID int64, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.querySnapshots(ctx, s.sb.Select(snapshotColumns...).
		From("price_snapshots").
		Where(sq.Eq{"item_id": itemID}).
		OrderBy("recorded_at DESC", "id DESC").
		Limit(uint64(limit)))
}

func (s *SQLStore) querySnapshots(ctx context.Context, b sq.SelectBuilder) ([]domain.Snapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := make([]domain.Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

// AppendAlert records a fired alert.
func (s *SQLStore) AppendAlert(ctx context.Context, ev domain.AlertEvent) (domain.AlertEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return domain.AlertEvent{}, err
	}

	ev.CreatedAt = ev.CreatedAt.UTC()
	query, args, err := s.sb.Insert("alert_events").
		Columns(alertColumns[1:]...).
		Values(ev.ItemID, string(ev.Kind), ev.TriggerPrice.String(), ev.PreviousLow.String(), ev.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.AlertEvent{}, fmt.Errorf("build insert alert: %w", err)
	}

	if err := db.QueryRowContext(ctx, query, args...).Scan(&ev.ID); err != nil {
		return domain.AlertEvent{}, fmt.Errorf("append alert: %w", err)
	}
	return ev, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLStore) ListRecentAlerts(ctx context.Context, limit int) ([]domain.AlertEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query, args, err := s.sb.Select(alertColumns...).
		From("alert_events").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build alert query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]domain.AlertEvent, 0, limit)
	for rows.Next() {
		ev, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Stats counts items, snapshots and alerts.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	db, err := s.getDB()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	counts := []struct {
		dst *int64
		b   sq.SelectBuilder
	}{
		{&st.Items, s.sb.Select("COUNT(*)").From("items")},
		{&st.EnabledItems, s.sb.Select("COUNT(*)").From("items").Where(sq.Eq{"enabled": true})},
		{&st.Snapshots, s.sb.Select("COUNT(*)").From("price_snapshots")},
		{&st.Alerts, s.sb.Select("COUNT(*)").From("alert_events")},
	}
	for _, c := range counts {
		query, args, err := c.b.ToSql()
		if err != nil {
			return Stats{}, fmt.Errorf("build count: %w", err)
		}
		if err := db.QueryRowContext(ctx, query, args...).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count: %w", err)
		}
	}
	return st, nil
}
