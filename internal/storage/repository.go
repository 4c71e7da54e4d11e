package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ItemStore manages the tracked item catalogue.
type ItemStore interface {
	ListItems(ctx context.Context) ([]domain.TrackedItem, error)
	ListEnabledItems(ctx context.Context) ([]domain.TrackedItem, error)
	GetItem(ctx context.Context, id int64) (domain.TrackedItem, error)
	UpsertItem(ctx context.Context, item domain.TrackedItem) (domain.TrackedItem, error)
	SetItemEnabled(ctx context.Context, id int64, enabled bool) error
	MarkReleased(ctx context.Context, id int64) error
}

// SnapshotStore is the append-only price history.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
	LatestSnapshot(ctx context.Context, itemID int64) (*domain.Snapshot, error)
	ListSnapshots(ctx context.Context, itemID int64, from, to time.Time) ([]domain.Snapshot, error)
	ListRecentSnapshots(ctx context.Context, itemID int64, limit int) ([]domain.Snapshot, error)
}

// AlertStore is the append-only alert log.
type AlertStore interface {
	AppendAlert(ctx context.Context, ev domain.AlertEvent) (domain.AlertEvent, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]domain.AlertEvent, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates everything the engine and the API read and write.
type Store interface {
	ItemStore
	SnapshotStore
	AlertStore
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats are catalogue-wide counters.
type Stats struct {
	Items        int64 `json:"items"`
	EnabledItems int64 `json:"enabledItems"`
	Snapshots    int64 `json:"snapshots"`
	Alerts       int64 `json:"alerts"`
}

// SQLStore implements Store on database/sql for both SQLite and PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	driver string
	sb     sq.StatementBuilderType
}

// Close releases the database handle and, for PostgreSQL, the pool behind it.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// SQLite has a single writer per process so the lock is always granted there.
func (s *SQLStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrNotConfigured
	}
	if s.pool == nil {
		return func() {}, true, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *SQLStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

var itemColumns = []string{
	"id", "external_id", "display_name", "enabled", "alert_enabled",
	"policy_kind", "policy_amount", "policy_percent", "was_unreleased",
}

// ListItems returns every tracked item ordered by id.
func (s *SQLStore) ListItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return s.queryItems(ctx, s.sb.Select(itemColumns...).From("items").OrderBy("id"))
}

// ListEnabledItems returns the items a sweep should visit, in id order.
func (s *SQLStore) ListEnabledItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return s.queryItems(ctx, s.sb.Select(itemColumns...).From("items").
		Where(sq.Eq{"enabled": true}).OrderBy("id"))
}

// GetItem loads one item or returns ErrNotFound.
func (s *SQLStore) GetItem(ctx context.Context, id int64) (domain.TrackedItem, error) {
	items, err := s.queryItems(ctx, s.sb.Select(itemColumns...).From("items").Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.TrackedItem{}, err
	}
	if len(items) == 0 {
		return domain.TrackedItem{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return items[0], nil
}

// UpsertItem inserts an item or updates the one sharing its external id.
func (s *SQLStore) UpsertItem(ctx context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	db, err := s.getDB()
	if err != nil {
		return domain.TrackedItem{}, err
	}

	kind, amount, percent := encodePolicy(item.Policy)
	now := time.Now().UTC()
	query, args, err := s.sb.Insert("items").
		Columns("external_id", "display_name", "enabled", "alert_enabled",
			"policy_kind", "policy_amount", "policy_percent", "was_unreleased",
			"created_at", "updated_at").
		Values(item.ExternalID, item.DisplayName, item.Enabled, item.AlertEnabled,
			kind, amount, percent, item.WasUnreleased, now, now).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			display_name = excluded.display_name,
			enabled = excluded.enabled,
			alert_enabled = excluded.alert_enabled,
			policy_kind = excluded.policy_kind,
			policy_amount = excluded.policy_amount,
			policy_percent = excluded.policy_percent,
			was_unreleased = excluded.was_unreleased,
			updated_at = excluded.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("build upsert item: %w", err)
	}

	if err := db.QueryRowContext(ctx, query, args...).Scan(&item.ID); err != nil {
		return domain.TrackedItem{}, fmt.Errorf("upsert item: %w", err)
	}
	return item, nil
}

// SetItemEnabled toggles whether sweeps visit the item.
func (s *SQLStore) SetItemEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.updateItem(ctx, id, sq.Eq{"enabled": enabled})
}

// MarkReleased clears the pre-release flag after a release transition.
func (s *SQLStore) MarkReleased(ctx context.Context, id int64) error {
	return s.updateItem(ctx, id, sq.Eq{"was_unreleased": false})
}

func (s *SQLStore) updateItem(ctx context.Context, id int64, set sq.Eq) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	set["updated_at"] = time.Now().UTC()
	query, args, err := s.sb.Update("items").SetMap(set).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update item: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) queryItems(ctx context.Context, b sq.SelectBuilder) ([]domain.TrackedItem, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.TrackedItem, 0)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

var _ Store = (*SQLStore)(nil)
var _ AdvisoryLocker = (*SQLStore)(nil)
