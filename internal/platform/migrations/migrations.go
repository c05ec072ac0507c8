// Package migrations applies the relational schema of the slot pool.
// Every statement is idempotent so Apply can run on each boot.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS pool_slots (
		number INTEGER PRIMARY KEY,
		claimant_name TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		reserved_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pool_config (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		display_name TEXT NOT NULL DEFAULT '',
		pool_size INTEGER NOT NULL,
		draw_date TEXT NOT NULL DEFAULT '',
		winning_slot INTEGER,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pool_snapshots (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		doc_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshot_slots (
		snapshot_name TEXT NOT NULL,
		number INTEGER NOT NULL,
		claimant_name TEXT NOT NULL,
		paid BOOLEAN NOT NULL,
		reserved_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (snapshot_name, number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pool_slots_paid ON pool_slots (paid)`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
