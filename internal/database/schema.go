package database

import "database/sql"

// schema is applied idempotently at startup. The partial unique index on
// pending totals is load-bearing: it is the last line of defense that keeps
// every open deposit's payable amount distinct, so the webhook listener can
// correlate a payment to exactly one deposit by amount alone.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS deposits (
		id SERIAL PRIMARY KEY,
		deposit_id TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL REFERENCES users(id),
		requested_amount BIGINT NOT NULL CHECK (requested_amount > 0),
		surcharge BIGINT NOT NULL,
		total_amount BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'success', 'rejected', 'expired')),
		payload TEXT NOT NULL,
		qr_image TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS deposits_pending_total_uniq
		ON deposits (total_amount) WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS deposits_user_created_idx
		ON deposits (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS mutations (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		deposit_id TEXT,
		direction TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
		amount BIGINT NOT NULL CHECK (amount > 0),
		balance_after BIGINT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS mutations_user_created_idx
		ON mutations (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS incoming_notifications (
		id UUID PRIMARY KEY,
		raw_payload TEXT NOT NULL,
		parsed_amount BIGINT NOT NULL DEFAULT 0,
		matched_deposit_id TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS qris_templates (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id SERIAL PRIMARY KEY,
		channel TEXT NOT NULL,
		deposit_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
