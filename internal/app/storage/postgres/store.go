// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
	"github.com/raffleworks/slotpool/internal/app/storage"
)

// reserveAttempts bounds the serialization-failure retry loop around a
// reservation transaction.
const reserveAttempts = 3

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db   *sql.DB
	feed storage.Notifier
}

var _ storage.SlotStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- SlotStore --------------------------------------------------------------

// ReserveSlots checks and creates the requested numbers inside one
// serializable transaction. Serialization failures are retried a bounded
// number of times; exhaustion surfaces as UnavailableError.
func (s *Store) ReserveSlots(ctx context.Context, claimant string, numbers []int) ([]slot.Slot, error) {
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	var lastErr error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		created, err := s.reserveOnce(ctx, claimant, sorted)
		if err == nil {
			s.feed.Publish(storage.Change{Kind: storage.ChangeReserved, Slots: created})
			return created, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &storage.UnavailableError{Err: lastErr}
}

func (s *Store) reserveOnce(ctx context.Context, claimant string, sorted []int) ([]slot.Slot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT number
		FROM pool_slots
		WHERE number = ANY($1)
		ORDER BY number
		LIMIT 1
	`, pq.Array(int64s(sorted)))

	var taken int
	switch err := row.Scan(&taken); {
	case err == nil:
		return nil, storage.ConflictError{Number: taken}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	now := time.Now().UTC()
	values := make([]string, 0, len(sorted))
	args := make([]interface{}, 0, len(sorted)*3)
	for i, n := range sorted {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, FALSE, $%d)", base+1, base+2, base+3))
		args = append(args, n, claimant, now)
	}
	query := `INSERT INTO pool_slots (number, claimant_name, paid, reserved_at) VALUES ` + strings.Join(values, ", ")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := make([]slot.Slot, 0, len(sorted))
	for _, n := range sorted {
		created = append(created, slot.Slot{Number: n, ClaimantName: claimant, ReservedAt: now})
	}
	return created, nil
}

func (s *Store) GetSlot(ctx context.Context, number int) (slot.Slot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT number, claimant_name, paid, reserved_at
		FROM pool_slots
		WHERE number = $1
	`, number)

	var rec slot.Slot
	if err := row.Scan(&rec.Number, &rec.ClaimantName, &rec.Paid, &rec.ReservedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return slot.Slot{}, storage.ErrNotFound
		}
		return slot.Slot{}, err
	}
	return rec, nil
}

func (s *Store) ListSlots(ctx context.Context) ([]slot.Slot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, claimant_name, paid, reserved_at
		FROM pool_slots
		ORDER BY number
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slot.Slot
	for rows.Next() {
		var rec slot.Slot
		if err := rows.Scan(&rec.Number, &rec.ClaimantName, &rec.Paid, &rec.ReservedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// SetPaid commits one operation group. Numbers without a row are skipped by
// the WHERE clause, which keeps bulk retries harmless.
func (s *Store) SetPaid(ctx context.Context, numbers []int, paid bool) error {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE pool_slots
		SET paid = $1
		WHERE number = ANY($2)
		RETURNING number, claimant_name, paid, reserved_at
	`, paid, pq.Array(int64s(numbers)))
	if err != nil {
		return err
	}
	defer rows.Close()

	var updated []slot.Slot
	for rows.Next() {
		var rec slot.Slot
		if err := rows.Scan(&rec.Number, &rec.ClaimantName, &rec.Paid, &rec.ReservedAt); err != nil {
			return err
		}
		updated = append(updated, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(updated) > 0 {
		s.feed.Publish(storage.Change{Kind: storage.ChangeUpdated, Slots: updated})
	}
	return nil
}

func (s *Store) DeleteSlots(ctx context.Context, numbers []int) error {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM pool_slots
		WHERE number = ANY($1)
		RETURNING number
	`, pq.Array(int64s(numbers)))
	if err != nil {
		return err
	}
	defer rows.Close()

	var removed []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return err
		}
		removed = append(removed, n)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(removed) > 0 {
		s.feed.Publish(storage.Change{Kind: storage.ChangeDeleted, Numbers: removed})
	}
	return nil
}

func (s *Store) Subscribe(fn func(storage.Change)) func() {
	return s.feed.Subscribe(fn)
}

// --- ConfigStore ------------------------------------------------------------

func (s *Store) GetConfig(ctx context.Context) (pool.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT display_name, pool_size, draw_date, winning_slot, updated_at
		FROM pool_config
		WHERE id = 1
	`)

	var (
		cfg     pool.Config
		winning sql.NullInt64
	)
	if err := row.Scan(&cfg.DisplayName, &cfg.Size, &cfg.DrawDate, &winning, &cfg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pool.Config{}, storage.ErrNotFound
		}
		return pool.Config{}, err
	}
	if winning.Valid {
		cfg.WinningSlot = int(winning.Int64)
	}
	return cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg pool.Config) (pool.Config, error) {
	cfg.UpdatedAt = time.Now().UTC()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pool_config (id, display_name, pool_size, draw_date, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    pool_size = EXCLUDED.pool_size,
		    draw_date = EXCLUDED.draw_date,
		    updated_at = EXCLUDED.updated_at
		RETURNING winning_slot
	`, cfg.DisplayName, cfg.Size, cfg.DrawDate, cfg.UpdatedAt)

	var winning sql.NullInt64
	if err := row.Scan(&winning); err != nil {
		return pool.Config{}, err
	}
	cfg.WinningSlot = 0
	if winning.Valid {
		cfg.WinningSlot = int(winning.Int64)
	}
	return cfg, nil
}

func (s *Store) SetWinningSlot(ctx context.Context, number int) error {
	winning := sql.NullInt64{Int64: int64(number), Valid: number != 0}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_config (id, display_name, pool_size, draw_date, winning_slot, updated_at)
		VALUES (1, '', $3, '', $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET winning_slot = EXCLUDED.winning_slot,
		    updated_at = EXCLUDED.updated_at
	`, winning, time.Now().UTC(), pool.DefaultSize)
	return err
}

// --- SnapshotStore ----------------------------------------------------------

// CopySlots writes one group into the generation's namespace. The upsert
// makes re-copying a group after a partial failure idempotent.
func (s *Store) CopySlots(ctx context.Context, name string, slots []slot.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	values := make([]string, 0, len(slots))
	args := make([]interface{}, 0, len(slots)*5)
	for i, rec := range slots {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		args = append(args, name, rec.Number, rec.ClaimantName, rec.Paid, rec.ReservedAt)
	}
	query := `INSERT INTO snapshot_slots (snapshot_name, number, claimant_name, paid, reserved_at) VALUES ` +
		strings.Join(values, ", ") + `
		ON CONFLICT (snapshot_name, number) DO UPDATE
		SET claimant_name = EXCLUDED.claimant_name,
		    paid = EXCLUDED.paid,
		    reserved_at = EXCLUDED.reserved_at`

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) PutMetadata(ctx context.Context, meta snapshot.Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_snapshots (name, created_at, doc_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET created_at = EXCLUDED.created_at,
		    doc_count = EXCLUDED.doc_count
	`, meta.Name, meta.CreatedAt, meta.DocCount)
	return err
}

func (s *Store) GetMetadata(ctx context.Context, name string) (snapshot.Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, created_at, doc_count
		FROM pool_snapshots
		WHERE name = $1
	`, name)

	var meta snapshot.Metadata
	if err := row.Scan(&meta.Name, &meta.CreatedAt, &meta.DocCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Metadata{}, storage.ErrNotFound
		}
		return snapshot.Metadata{}, err
	}
	return meta, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]snapshot.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, created_at, doc_count
		FROM pool_snapshots
		ORDER BY created_at DESC, name DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []snapshot.Metadata
	for rows.Next() {
		var meta snapshot.Metadata
		if err := rows.Scan(&meta.Name, &meta.CreatedAt, &meta.DocCount); err != nil {
			return nil, err
		}
		result = append(result, meta)
	}
	return result, rows.Err()
}

func (s *Store) ListSnapshotSlots(ctx context.Context, name string) ([]slot.Slot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, claimant_name, paid, reserved_at
		FROM snapshot_slots
		WHERE snapshot_name = $1
		ORDER BY number
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []slot.Slot
	for rows.Next() {
		var rec slot.Slot
		if err := rows.Scan(&rec.Number, &rec.ClaimantName, &rec.Paid, &rec.ReservedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

func int64s(numbers []int) []int64 {
	out := make([]int64, len(numbers))
	for i, n := range numbers {
		out[i] = int64(n)
	}
	return out
}

// retryable reports whether err is worth another transaction attempt:
// serialization failure, deadlock, or a unique violation from a concurrent
// insert of the same number. The retry's conflict check then sees the
// committed row and reports a ConflictError.
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01" || pqErr.Code == "23505"
}
