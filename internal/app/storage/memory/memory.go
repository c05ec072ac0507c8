// Package memory provides the in-memory implementation of the storage
// interfaces, used as the default backend and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
	"github.com/raffleworks/slotpool/internal/app/storage"
)

// Store keeps the whole pool in process memory guarded by one RWMutex. It is
// safe for concurrent use; multi-key operations commit under the write lock,
// which is what gives ReserveSlots its check-and-set atomicity.
type Store struct {
	mu       sync.RWMutex
	slots    map[int]slot.Slot
	cfg      pool.Config
	cfgSet   bool
	snapMeta map[string]snapshot.Metadata
	snaps    map[string]map[int]slot.Slot

	feed storage.Notifier
}

var _ storage.SlotStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)
var _ storage.SnapshotStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		slots:    make(map[int]slot.Slot),
		snapMeta: make(map[string]snapshot.Metadata),
		snaps:    make(map[string]map[int]slot.Slot),
	}
}

// ReserveSlots creates every requested number or nothing. The conflict check
// walks the numbers in ascending order so the reported collision is stable.
func (s *Store) ReserveSlots(ctx context.Context, claimant string, numbers []int) ([]slot.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	s.mu.Lock()
	for _, n := range sorted {
		if _, exists := s.slots[n]; exists {
			s.mu.Unlock()
			return nil, storage.ConflictError{Number: n}
		}
	}
	now := time.Now().UTC()
	created := make([]slot.Slot, 0, len(sorted))
	for _, n := range sorted {
		rec := slot.Slot{Number: n, ClaimantName: claimant, ReservedAt: now}
		s.slots[n] = rec
		created = append(created, rec)
	}
	s.mu.Unlock()

	s.feed.Publish(storage.Change{Kind: storage.ChangeReserved, Slots: created})
	return created, nil
}

func (s *Store) GetSlot(ctx context.Context, number int) (slot.Slot, error) {
	if err := ctx.Err(); err != nil {
		return slot.Slot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.slots[number]
	if !ok {
		return slot.Slot{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListSlots(ctx context.Context) ([]slot.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]slot.Slot, 0, len(s.slots))
	for _, rec := range s.slots {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// SetPaid updates the paid flag of every present number in one group commit.
// Absent numbers are skipped so retries of a partial bulk mutation stay
// harmless.
func (s *Store) SetPaid(ctx context.Context, numbers []int, paid bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	updated := make([]slot.Slot, 0, len(numbers))
	for _, n := range numbers {
		rec, ok := s.slots[n]
		if !ok {
			continue
		}
		rec.Paid = paid
		s.slots[n] = rec
		updated = append(updated, rec)
	}
	s.mu.Unlock()

	if len(updated) > 0 {
		s.feed.Publish(storage.Change{Kind: storage.ChangeUpdated, Slots: updated})
	}
	return nil
}

// DeleteSlots removes every present number in one group commit. Absent
// numbers are skipped.
func (s *Store) DeleteSlots(ctx context.Context, numbers []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	removed := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if _, ok := s.slots[n]; !ok {
			continue
		}
		delete(s.slots, n)
		removed = append(removed, n)
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.feed.Publish(storage.Change{Kind: storage.ChangeDeleted, Numbers: removed})
	}
	return nil
}

func (s *Store) Subscribe(fn func(storage.Change)) func() {
	return s.feed.Subscribe(fn)
}

func (s *Store) GetConfig(ctx context.Context) (pool.Config, error) {
	if err := ctx.Err(); err != nil {
		return pool.Config{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cfgSet {
		return pool.Config{}, storage.ErrNotFound
	}
	return s.cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg pool.Config) (pool.Config, error) {
	if err := ctx.Err(); err != nil {
		return pool.Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.WinningSlot = s.cfg.WinningSlot
	cfg.UpdatedAt = time.Now().UTC()
	s.cfg = cfg
	s.cfgSet = true
	return s.cfg, nil
}

func (s *Store) SetWinningSlot(ctx context.Context, number int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfgSet {
		s.cfg = pool.Default()
		s.cfgSet = true
	}
	s.cfg.WinningSlot = number
	s.cfg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CopySlots(ctx context.Context, name string, slots []slot.Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.snaps[name]
	if !ok {
		ns = make(map[int]slot.Slot, len(slots))
		s.snaps[name] = ns
	}
	for _, rec := range slots {
		ns[rec.Number] = rec
	}
	return nil
}

func (s *Store) PutMetadata(ctx context.Context, meta snapshot.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapMeta[meta.Name] = meta
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, name string) (snapshot.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Metadata{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.snapMeta[name]
	if !ok {
		return snapshot.Metadata{}, storage.ErrNotFound
	}
	return meta, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]snapshot.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]snapshot.Metadata, 0, len(s.snapMeta))
	for _, meta := range s.snapMeta {
		out = append(out, meta)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListSnapshotSlots(ctx context.Context, name string) ([]slot.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ns := s.snaps[name]
	out := make([]slot.Slot, 0, len(ns))
	for _, rec := range ns {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
