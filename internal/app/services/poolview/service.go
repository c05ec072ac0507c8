// Package poolview derives read-only statistics and filtered listings from a
// projection of the slot table. It never mutates the pool.
package poolview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/internal/app/system"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// SortKey selects the ordering of List results.
type SortKey string

const (
	SortByNumber     SortKey = "number"
	SortByName       SortKey = "name"
	SortByReservedAt SortKey = "reserved_at"
	SortByPaid       SortKey = "paid"
)

// ParseSortKey validates a caller-supplied sort key. Empty defaults to
// number order.
func ParseSortKey(raw string) (SortKey, error) {
	switch SortKey(strings.TrimSpace(raw)) {
	case "":
		return SortByNumber, nil
	case SortByNumber:
		return SortByNumber, nil
	case SortByName:
		return SortByName, nil
	case SortByReservedAt:
		return SortByReservedAt, nil
	case SortByPaid:
		return SortByPaid, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", raw)
	}
}

// Stats summarises pool occupancy against the configured size.
type Stats struct {
	PoolSize    int     `json:"pool_size"`
	Reserved    int     `json:"reserved"`
	Available   int     `json:"available"`
	Paid        int     `json:"paid"`
	Pending     int     `json:"pending"`
	ReservedPct float64 `json:"reserved_pct"`
	PaidPct     float64 `json:"paid_pct"`
}

// Service serves pool statistics and filtered slot listings.
type Service struct {
	config storage.ConfigStore
	proj   *projection
	log    *logger.Logger
}

// New constructs the pool view service over the given stores.
func New(slots storage.SlotStore, config storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("poolview")
	}
	return &Service{config: config, proj: newProjection(slots, log), log: log}
}

func (s *Service) Name() string { return "poolview" }

// Start attaches the projection to the store's change feed. Until started,
// reads fall through to the store directly.
func (s *Service) Start(_ context.Context) error {
	s.proj.start()
	s.log.Info("pool view projection started")
	return nil
}

func (s *Service) Stop(_ context.Context) error {
	s.proj.stop()
	return nil
}

// Stats computes occupancy counts and percentage shares.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	slots, err := s.proj.slots(ctx)
	if err != nil {
		return Stats{}, err
	}

	size := pool.DefaultSize
	cfg, err := s.config.GetConfig(ctx)
	switch {
	case err == nil:
		size = cfg.Size
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Stats{}, err
	}

	st := Stats{PoolSize: size, Reserved: len(slots)}
	for _, rec := range slots {
		if rec.Paid {
			st.Paid++
		} else {
			st.Pending++
		}
	}
	st.Available = size - st.Reserved
	if st.Available < 0 {
		st.Available = 0
	}
	st.ReservedPct = pct(st.Reserved, size)
	st.PaidPct = pct(st.Paid, size)
	return st, nil
}

// List returns reservations matching query, ordered by key. The query
// matches case-insensitively as a substring of the claimant name or of the
// slot number's decimal form; empty matches everything.
func (s *Service) List(ctx context.Context, query string, key SortKey) ([]slot.Slot, error) {
	slots, err := s.proj.slots(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = SortByNumber
	}

	query = strings.TrimSpace(query)
	if query != "" {
		q := strings.ToLower(query)
		filtered := make([]slot.Slot, 0, len(slots))
		for _, rec := range slots {
			if strings.Contains(strings.ToLower(rec.ClaimantName), q) ||
				strings.Contains(strconv.Itoa(rec.Number), q) {
				filtered = append(filtered, rec)
			}
		}
		slots = filtered
	}

	orderBy(slots, key)
	return slots, nil
}

// orderBy sorts by the chosen key with slot number as the tiebreak.
func orderBy(slots []slot.Slot, key SortKey) {
	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		switch key {
		case SortByName:
			an, bn := strings.ToLower(a.ClaimantName), strings.ToLower(b.ClaimantName)
			if an != bn {
				return an < bn
			}
		case SortByReservedAt:
			if !a.ReservedAt.Equal(b.ReservedAt) {
				return a.ReservedAt.Before(b.ReservedAt)
			}
		case SortByPaid:
			if a.Paid != b.Paid {
				return a.Paid
			}
		}
		return a.Number < b.Number
	})
}

func pct(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(1000*float64(part)/float64(whole)) / 10
}
