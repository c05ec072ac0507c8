package poolview

import (
	"context"
	"testing"
	"time"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/storage/memory"
)

func TestStatsOnFreshPool(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)

	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PoolSize != pool.DefaultSize {
		t.Fatalf("expected default pool size %d, got %d", pool.DefaultSize, st.PoolSize)
	}
	if st.Reserved != 0 || st.Paid != 0 || st.Pending != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}
	if st.Available != pool.DefaultSize {
		t.Fatalf("expected %d available, got %d", pool.DefaultSize, st.Available)
	}
}

func TestStatsCountsAndPercentages(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := store.SaveConfig(ctx, pool.Config{DisplayName: "Spring Raffle", Size: 10}); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := store.ReserveSlots(ctx, "Ana", []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.SetPaid(ctx, []int{1, 2, 3}, true); err != nil {
		t.Fatalf("set paid: %v", err)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PoolSize != 10 || st.Reserved != 4 || st.Available != 6 {
		t.Fatalf("unexpected occupancy %+v", st)
	}
	if st.Paid != 3 || st.Pending != 1 {
		t.Fatalf("unexpected payment split %+v", st)
	}
	if st.ReservedPct != 40 || st.PaidPct != 30 {
		t.Fatalf("unexpected percentages %+v", st)
	}
}

func TestStatsAvailableNeverNegative(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := store.ReserveSlots(ctx, "Ana", []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// Write an undersized config straight to the store.
	if _, err := store.SaveConfig(ctx, pool.Config{Size: 2}); err != nil {
		t.Fatalf("save config: %v", err)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Available != 0 {
		t.Fatalf("expected available clamped to 0, got %d", st.Available)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if _, err := store.ReserveSlots(ctx, "Carla", []int{12, 3}); err != nil {
		t.Fatalf("reserve carla: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := store.ReserveSlots(ctx, "ana", []int{7}); err != nil {
		t.Fatalf("reserve ana: %v", err)
	}
	if err := store.SetPaid(ctx, []int{7}, true); err != nil {
		t.Fatalf("set paid: %v", err)
	}

	all, err := svc.List(ctx, "", SortByNumber)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Number != 3 || all[2].Number != 12 {
		t.Fatalf("expected number order [3 7 12], got %+v", all)
	}

	// Case-insensitive claimant substring.
	byName, err := svc.List(ctx, "AN", SortByNumber)
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 1 || byName[0].ClaimantName != "ana" {
		t.Fatalf("expected only ana, got %+v", byName)
	}

	// Digit substring matches slot numbers.
	byDigit, err := svc.List(ctx, "1", SortByNumber)
	if err != nil {
		t.Fatalf("list by digit: %v", err)
	}
	if len(byDigit) != 1 || byDigit[0].Number != 12 {
		t.Fatalf("expected only slot 12, got %+v", byDigit)
	}

	names, err := svc.List(ctx, "", SortByName)
	if err != nil {
		t.Fatalf("list by name order: %v", err)
	}
	if names[0].ClaimantName != "ana" || names[1].Number != 3 || names[2].Number != 12 {
		t.Fatalf("expected ana then carla slots by number, got %+v", names)
	}

	paidFirst, err := svc.List(ctx, "", SortByPaid)
	if err != nil {
		t.Fatalf("list by paid: %v", err)
	}
	if paidFirst[0].Number != 7 {
		t.Fatalf("expected paid slot first, got %+v", paidFirst)
	}

	byTime, err := svc.List(ctx, "", SortByReservedAt)
	if err != nil {
		t.Fatalf("list by reserved_at: %v", err)
	}
	if byTime[0].Number != 3 || byTime[2].Number != 7 {
		t.Fatalf("expected carla's batch before ana's, got %+v", byTime)
	}
}

func TestParseSortKey(t *testing.T) {
	for raw, want := range map[string]SortKey{
		"":            SortByNumber,
		"number":      SortByNumber,
		"name":        SortByName,
		"reserved_at": SortByReservedAt,
		"paid":        SortByPaid,
	} {
		got, err := ParseSortKey(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSortKey(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := ParseSortKey("claimant"); err == nil {
		t.Fatalf("expected error for unknown sort key")
	}
}

func TestProjectionTracksCommittedChanges(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := svc.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	if _, err := store.ReserveSlots(ctx, "Ana", []int{1, 2}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after reserve: %v", err)
	}
	if st.Reserved != 2 || st.Pending != 2 {
		t.Fatalf("projection missed reservation: %+v", st)
	}

	if err := store.SetPaid(ctx, []int{1}, true); err != nil {
		t.Fatalf("set paid: %v", err)
	}
	st, err = svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after payment: %v", err)
	}
	if st.Paid != 1 || st.Pending != 1 {
		t.Fatalf("projection missed payment: %+v", st)
	}

	if err := store.DeleteSlots(ctx, []int{1, 2}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	st, err = svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after delete: %v", err)
	}
	if st.Reserved != 0 {
		t.Fatalf("projection missed delete: %+v", st)
	}
}

func TestProjectionStopFallsBackToStore(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := store.ReserveSlots(ctx, "Ana", []int{9}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after stop: %v", err)
	}
	if st.Reserved != 1 {
		t.Fatalf("expected store passthrough after stop, got %+v", st)
	}
}
