package poolview

import (
	"context"
	"sort"
	"sync"

	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

// changeBuffer bounds the projection inbox. On overflow the cache is marked
// stale and the next read rebuilds it from the store.
const changeBuffer = 256

type flushReq struct {
	done chan struct{}
}

type stopReq struct{}

// projection mirrors the slot table in memory. Change notifications are
// consumed on a single goroutine, so the cache never sees concurrent writers.
// Reads enqueue a barrier behind pending changes, which makes the projection
// read-your-writes within the process.
type projection struct {
	store storage.SlotStore
	log   *logger.Logger

	mu     sync.RWMutex
	cache  map[int]slot.Slot
	loaded bool
	stale  bool

	runMu   sync.Mutex
	running bool
	inbox   chan any
	done    chan struct{}
	cancel  func()
}

func newProjection(store storage.SlotStore, log *logger.Logger) *projection {
	return &projection{store: store, log: log}
}

func (p *projection) start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	p.inbox = make(chan any, changeBuffer)
	p.done = make(chan struct{})
	p.cancel = p.store.Subscribe(p.enqueue)
	p.running = true
	go p.consume(p.inbox, p.done)
}

func (p *projection) stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	inbox := p.inbox
	done := p.done
	p.cancel = nil
	p.runMu.Unlock()

	cancel()
	inbox <- stopReq{}
	<-done
}

// enqueue runs on the publishing goroutine and must not block. A full inbox
// degrades to a stale marker instead.
func (p *projection) enqueue(c storage.Change) {
	select {
	case p.inbox <- c:
	default:
		p.mu.Lock()
		p.stale = true
		p.mu.Unlock()
	}
}

func (p *projection) consume(inbox chan any, done chan struct{}) {
	defer close(done)
	for msg := range inbox {
		switch m := msg.(type) {
		case storage.Change:
			p.apply(m)
		case flushReq:
			close(m.done)
		case stopReq:
			return
		}
	}
}

func (p *projection) apply(c storage.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Before the first read there is nothing to maintain; the initial load
	// captures the full table.
	if !p.loaded {
		return
	}
	switch c.Kind {
	case storage.ChangeDeleted:
		for _, n := range c.Numbers {
			delete(p.cache, n)
		}
	default:
		for _, rec := range c.Slots {
			p.cache[rec.Number] = rec
		}
	}
}

// slots returns the current table ascending by number. While the projection
// runs, reads come from the cache behind a flush barrier; otherwise they fall
// through to the store.
func (p *projection) slots(ctx context.Context) ([]slot.Slot, error) {
	p.runMu.Lock()
	running := p.running
	inbox := p.inbox
	done := p.done
	p.runMu.Unlock()

	if !running {
		return p.store.ListSlots(ctx)
	}

	req := flushReq{done: make(chan struct{})}
	select {
	case inbox <- req:
	case <-done:
		return p.store.ListSlots(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-req.done:
	case <-done:
		return p.store.ListSlots(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.RLock()
	if p.loaded && !p.stale {
		out := make([]slot.Slot, 0, len(p.cache))
		for _, rec := range p.cache {
			out = append(out, rec)
		}
		p.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
		return out, nil
	}
	p.mu.RUnlock()

	return p.reload(ctx)
}

// reload rebuilds the cache from the store. Changes committed after the list
// was taken re-apply on the consumer goroutine once the cache lock releases.
func (p *projection) reload(ctx context.Context) ([]slot.Slot, error) {
	list, err := p.store.ListSlots(ctx)
	if err != nil {
		return nil, err
	}

	cache := make(map[int]slot.Slot, len(list))
	for _, rec := range list {
		cache[rec.Number] = rec
	}

	p.mu.Lock()
	p.cache = cache
	p.loaded = true
	p.stale = false
	p.mu.Unlock()

	return list, nil
}
