// Package storage defines the persistence contracts of the slot pool and the
// operation-group helpers shared by every backend.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/domain/snapshot"
)

// ErrNotFound reports a point read of an absent slot, configuration record,
// or snapshot.
var ErrNotFound = errors.New("storage: not found")

// ConflictError reports a reservation that collided with an existing slot.
// Number is the first colliding number in ascending order; the reservation
// wrote nothing.
type ConflictError struct {
	Number int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("slot %d is already reserved", e.Number)
}

// UnavailableError wraps a transient backend failure that survived the
// backend's own bounded retry budget.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// SlotStore persists reservation records keyed by slot number.
//
// ReserveSlots is the only cross-key atomic operation: it checks every
// requested number and creates all of them in one transaction, or creates
// nothing and returns ConflictError. SetPaid and DeleteSlots each commit one
// operation group; numbers without a record are skipped silently so retrying
// a partially applied bulk mutation stays harmless.
type SlotStore interface {
	ReserveSlots(ctx context.Context, claimant string, numbers []int) ([]slot.Slot, error)
	GetSlot(ctx context.Context, number int) (slot.Slot, error)
	ListSlots(ctx context.Context) ([]slot.Slot, error)
	SetPaid(ctx context.Context, numbers []int, paid bool) error
	DeleteSlots(ctx context.Context, numbers []int) error

	// Subscribe registers fn for change notifications emitted after commit.
	// Notifications cover writes made through this store instance only. The
	// returned function cancels the subscription.
	Subscribe(fn func(Change)) func()
}

// ConfigStore persists the singleton pool configuration.
type ConfigStore interface {
	// GetConfig returns ErrNotFound before the first save.
	GetConfig(ctx context.Context) (pool.Config, error)
	// SaveConfig upserts display name, size and draw date. The stored winning
	// slot is preserved; draw state is written only through SetWinningSlot.
	SaveConfig(ctx context.Context, cfg pool.Config) (pool.Config, error)
	// SetWinningSlot records the drawn number; zero clears it.
	SetWinningSlot(ctx context.Context, number int) error
}

// SnapshotStore persists frozen pool generations. CopySlots appends one
// operation group into a generation's namespace; the metadata record is
// written last and its existence is what marks a generation complete.
type SnapshotStore interface {
	CopySlots(ctx context.Context, name string, slots []slot.Slot) error
	PutMetadata(ctx context.Context, meta snapshot.Metadata) error
	GetMetadata(ctx context.Context, name string) (snapshot.Metadata, error)
	// ListMetadata returns completed generations, newest first.
	ListMetadata(ctx context.Context) ([]snapshot.Metadata, error)
	// ListSnapshotSlots returns a generation's slots ascending by number. It
	// does not check metadata; unknown generations yield an empty list and
	// callers gate on GetMetadata for validity.
	ListSnapshotSlots(ctx context.Context, name string) ([]slot.Slot, error)
}
