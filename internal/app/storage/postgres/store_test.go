package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/internal/platform/migrations"
)

func meta(name string, count int) snapshot.Metadata {
	return snapshot.Metadata{Name: name, CreatedAt: time.Now().UTC(), DocCount: count}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestReserveSlotsConflict(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT number").
		WillReturnRows(sqlmock.NewRows([]string{"number"}).AddRow(5))
	mock.ExpectRollback()

	_, err := store.ReserveSlots(context.Background(), "Bea", []int{6, 5})

	var conflict storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.Number != 5 {
		t.Fatalf("expected conflict on 5, got %d", conflict.Number)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveSlotsSuccess(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT number").
		WillReturnRows(sqlmock.NewRows([]string{"number"}))
	mock.ExpectExec("INSERT INTO pool_slots").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	created, err := store.ReserveSlots(context.Background(), "Ana", []int{5, 3, 4})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(created))
	}
	for i, want := range []int{3, 4, 5} {
		if created[i].Number != want {
			t.Fatalf("slot %d: expected number %d, got %d", i, want, created[i].Number)
		}
		if created[i].ClaimantName != "Ana" || created[i].Paid {
			t.Fatalf("slot %d: unexpected record %+v", i, created[i])
		}
		if created[i].ReservedAt.IsZero() {
			t.Fatalf("slot %d: reserved_at not set", i)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveSlotsRetriesSerializationFailure(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT number").
		WillReturnRows(sqlmock.NewRows([]string{"number"}))
	mock.ExpectExec("INSERT INTO pool_slots").
		WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT number").
		WillReturnRows(sqlmock.NewRows([]string{"number"}))
	mock.ExpectExec("INSERT INTO pool_slots").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := store.ReserveSlots(context.Background(), "Ana", []int{7}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveSlotsRetryBudgetExhausted(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	for i := 0; i < reserveAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT number").
			WillReturnRows(sqlmock.NewRows([]string{"number"}))
		mock.ExpectExec("INSERT INTO pool_slots").
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()
	}

	_, err := store.ReserveSlots(context.Background(), "Ana", []int{7})

	var unavailable *storage.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetPaidPublishesChange(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	var got []storage.Change
	cancel := store.Subscribe(func(c storage.Change) { got = append(got, c) })
	defer cancel()

	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE pool_slots").
		WillReturnRows(sqlmock.NewRows([]string{"number", "claimant_name", "paid", "reserved_at"}).
			AddRow(3, "Ana", true, now).
			AddRow(4, "Ana", true, now))

	if err := store.SetPaid(context.Background(), []int{3, 4}, true); err != nil {
		t.Fatalf("set paid: %v", err)
	}
	if len(got) != 1 || got[0].Kind != storage.ChangeUpdated || len(got[0].Slots) != 2 {
		t.Fatalf("unexpected changes: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetConfigAbsent(t *testing.T) {
	db, mock := newMock(t)
	store := New(db)

	mock.ExpectQuery("SELECT display_name").WillReturnError(sql.ErrNoRows)

	_, err := store.GetConfig(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	for _, table := range []string{"snapshot_slots", "pool_snapshots", "pool_slots", "pool_config"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}

	store := New(db)

	created, err := store.ReserveSlots(ctx, "Ana", []int{3, 4, 5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(created))
	}

	_, err = store.ReserveSlots(ctx, "Bea", []int{5, 6})
	var conflict storage.ConflictError
	if !errors.As(err, &conflict) || conflict.Number != 5 {
		t.Fatalf("expected conflict on 5, got %v", err)
	}
	if _, err := store.GetSlot(ctx, 6); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("slot 6 should stay available, got %v", err)
	}

	if err := store.SetPaid(ctx, []int{3, 4}, true); err != nil {
		t.Fatalf("set paid: %v", err)
	}
	rec, err := store.GetSlot(ctx, 3)
	if err != nil || !rec.Paid {
		t.Fatalf("slot 3 should be paid, got %+v err %v", rec, err)
	}

	if err := store.CopySlots(ctx, "entries-itest", created); err != nil {
		t.Fatalf("copy slots: %v", err)
	}
	if err := store.PutMetadata(ctx, meta("entries-itest", 3)); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	frozen, err := store.ListSnapshotSlots(ctx, "entries-itest")
	if err != nil || len(frozen) != 3 {
		t.Fatalf("snapshot slots: %v (%d)", err, len(frozen))
	}

	if _, err := store.SaveConfig(ctx, pool.Config{DisplayName: "itest", Size: 50}); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if err := store.SetWinningSlot(ctx, 3); err != nil {
		t.Fatalf("set winning: %v", err)
	}
	cfg, err := store.GetConfig(ctx)
	if err != nil || cfg.WinningSlot != 3 || cfg.Size != 50 {
		t.Fatalf("config round trip: %+v err %v", cfg, err)
	}

	if _, err := store.SaveConfig(ctx, pool.Config{DisplayName: "itest", Size: 60}); err != nil {
		t.Fatalf("resave config: %v", err)
	}
	cfg, err = store.GetConfig(ctx)
	if err != nil || cfg.WinningSlot != 3 {
		t.Fatalf("save must preserve winning slot: %+v err %v", cfg, err)
	}

	if err := store.DeleteSlots(ctx, []int{3, 4, 5}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	live, err := store.ListSlots(ctx)
	if err != nil || len(live) != 0 {
		t.Fatalf("pool should be empty: %v (%d)", err, len(live))
	}
	frozen, err = store.ListSnapshotSlots(ctx, "entries-itest")
	if err != nil || len(frozen) != 3 {
		t.Fatalf("snapshot must survive live deletes: %v (%d)", err, len(frozen))
	}
}
