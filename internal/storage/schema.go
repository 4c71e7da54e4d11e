package storage

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id    TEXT NOT NULL UNIQUE,
		display_name   TEXT NOT NULL DEFAULT '',
		enabled        BOOLEAN NOT NULL DEFAULT 1,
		alert_enabled  BOOLEAN NOT NULL DEFAULT 1,
		policy_kind    TEXT NULL,
		policy_amount  TEXT NULL,
		policy_percent INTEGER NOT NULL DEFAULT 0,
		was_unreleased BOOLEAN NOT NULL DEFAULT 0,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id          INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		current_price    TEXT NOT NULL,
		original_price   TEXT NOT NULL,
		discount_percent INTEGER NOT NULL DEFAULT 0,
		is_on_sale       BOOLEAN NOT NULL DEFAULT 0,
		historical_low   TEXT NOT NULL,
		source           TEXT NOT NULL,
		recorded_at      TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_price_snapshots_item_time ON price_snapshots(item_id, recorded_at);`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id       INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		kind          TEXT NOT NULL,
		trigger_price TEXT NOT NULL,
		previous_low  TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_created ON alert_events(created_at);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id             BIGSERIAL PRIMARY KEY,
		external_id    TEXT NOT NULL UNIQUE,
		display_name   TEXT NOT NULL DEFAULT '',
		enabled        BOOLEAN NOT NULL DEFAULT TRUE,
		alert_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
		policy_kind    TEXT NULL,
		policy_amount  NUMERIC(14,2) NULL,
		policy_percent INTEGER NOT NULL DEFAULT 0,
		was_unreleased BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		id               BIGSERIAL PRIMARY KEY,
		item_id          BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		current_price    NUMERIC(14,2) NOT NULL,
		original_price   NUMERIC(14,2) NOT NULL,
		discount_percent INTEGER NOT NULL DEFAULT 0,
		is_on_sale       BOOLEAN NOT NULL DEFAULT FALSE,
		historical_low   NUMERIC(14,2) NOT NULL,
		source           TEXT NOT NULL,
		recorded_at      TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_price_snapshots_item_time ON price_snapshots(item_id, recorded_at);`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		id            BIGSERIAL PRIMARY KEY,
		item_id       BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		kind          TEXT NOT NULL,
		trigger_price NUMERIC(14,2) NOT NULL,
		previous_low  NUMERIC(14,2) NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_created ON alert_events(created_at);`,
}
