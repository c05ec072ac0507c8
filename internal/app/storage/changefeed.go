package storage

import (
	"sync"

	"github.com/raffleworks/slotpool/internal/app/domain/slot"
)

// ChangeKind tags a slot-table change notification.
type ChangeKind string

const (
	ChangeReserved ChangeKind = "reserved"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change describes one committed slot-table mutation. Slots carries the
// after-state for reserved/updated changes; Numbers carries the keys removed
// by a delete.
type Change struct {
	Kind    ChangeKind
	Slots   []slot.Slot
	Numbers []int
}

// Notifier fans committed changes out to subscribers. Handlers are invoked
// outside the notifier lock, on the publishing goroutine; they must not block
// for long.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// Subscribe registers fn and returns its cancel function. Cancel is
// idempotent.
func (n *Notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Change))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Publish delivers c to every current subscriber.
func (n *Notifier) Publish(c Change) {
	n.mu.Lock()
	handlers := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(c)
	}
}
