package poolconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/storage/memory"
)

func setup() (*Service, *memory.Store) {
	store := memory.New()
	return New(store, store, nil), store
}

func TestGetReturnsDefaultsBeforeFirstSave(t *testing.T) {
	svc, _ := setup()

	cfg, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Size != pool.DefaultSize {
		t.Fatalf("expected default size %d, got %d", pool.DefaultSize, cfg.Size)
	}
	if cfg.WinnerAnnounced() {
		t.Fatalf("fresh config should have no winner")
	}
}

func TestSaveClampsSize(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	cfg, err := svc.Save(ctx, "Raffle", 0, "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if cfg.Size != pool.MinSize {
		t.Fatalf("expected clamp to %d, got %d", pool.MinSize, cfg.Size)
	}

	cfg, err = svc.Save(ctx, "Raffle", 99999, "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if cfg.Size != pool.MaxSize {
		t.Fatalf("expected clamp to %d, got %d", pool.MaxSize, cfg.Size)
	}
}

func TestSaveRejectsShrinkBelowOccupied(t *testing.T) {
	svc, store := setup()
	ctx := context.Background()

	if _, err := store.ReserveSlots(ctx, "Ana", []int{42}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := svc.Save(ctx, "Raffle", 41, "")
	var shrink ShrinkError
	if !errors.As(err, &shrink) {
		t.Fatalf("expected shrink error, got %v", err)
	}
	if shrink.RequestedSize != 41 || shrink.HighestOccupied != 42 {
		t.Fatalf("unexpected shrink detail %+v", shrink)
	}

	// Shrinking down to exactly the highest occupied slot is allowed.
	cfg, err := svc.Save(ctx, "Raffle", 42, "")
	if err != nil {
		t.Fatalf("save at boundary: %v", err)
	}
	if cfg.Size != 42 {
		t.Fatalf("expected size 42, got %d", cfg.Size)
	}
}

func TestSaveValidatesDrawDate(t *testing.T) {
	svc, _ := setup()
	ctx := context.Background()

	if _, err := svc.Save(ctx, "Raffle", 100, "next friday"); err == nil {
		t.Fatalf("expected error for malformed draw date")
	}

	cfg, err := svc.Save(ctx, "Raffle", 100, "2026-09-01")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if cfg.DrawDate != "2026-09-01" {
		t.Fatalf("expected draw date stored, got %q", cfg.DrawDate)
	}
}

func TestSavePreservesAnnouncedWinner(t *testing.T) {
	svc, store := setup()
	ctx := context.Background()

	if _, err := svc.Save(ctx, "Raffle", 100, ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SetWinningSlot(ctx, 7); err != nil {
		t.Fatalf("set winner: %v", err)
	}

	cfg, err := svc.Save(ctx, "Renamed Raffle", 120, "2026-09-01")
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if cfg.WinningSlot != 7 {
		t.Fatalf("expected winner preserved across save, got %d", cfg.WinningSlot)
	}
	if cfg.DisplayName != "Renamed Raffle" || cfg.Size != 120 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
