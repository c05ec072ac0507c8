// Package allocation reserves numbered slots and mutates individual
// reservations. Reservations are all-or-nothing: either every requested
// number is free and the whole set is claimed, or nothing is written.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/metrics"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var (
	// ErrNameRequired reports a reservation without a claimant name.
	ErrNameRequired = errors.New("claimant name is required")
	// ErrNoNumbers reports a reservation without slot numbers.
	ErrNoNumbers = errors.New("at least one slot number is required")
)

// Service coordinates slot reservations against the configured pool size.
type Service struct {
	slots  storage.SlotStore
	config storage.ConfigStore
	log    *logger.Logger
}

// New constructs the allocation service.
func New(slots storage.SlotStore, config storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("allocation")
	}
	return &Service{slots: slots, config: config, log: log}
}

// Reserve claims numbers for claimant atomically. Duplicate numbers in the
// request collapse to one claim. On conflict the error names the lowest
// contested number and nothing is written.
func (s *Service) Reserve(ctx context.Context, claimant string, numbers []int) ([]slot.Slot, error) {
	claimant = strings.TrimSpace(claimant)
	if claimant == "" {
		metrics.RecordReservation("invalid", 0)
		return nil, ErrNameRequired
	}
	if len(numbers) == 0 {
		metrics.RecordReservation("invalid", 0)
		return nil, ErrNoNumbers
	}

	size, err := s.poolSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pool size: %w", err)
	}

	wanted := dedupe(numbers)
	for _, n := range wanted {
		if n < 1 || n > size {
			metrics.RecordReservation("invalid", 0)
			return nil, fmt.Errorf("slot number %d is out of range 1..%d", n, size)
		}
	}

	created, err := s.slots.ReserveSlots(ctx, claimant, wanted)
	if err != nil {
		var conflict storage.ConflictError
		if errors.As(err, &conflict) {
			metrics.RecordReservation("conflict", 0)
			s.log.WithField("claimant", claimant).WithField("number", conflict.Number).Info("reservation conflict")
		} else {
			metrics.RecordReservation("error", 0)
			s.log.WithError(err).Error("reservation failed")
		}
		return nil, err
	}

	metrics.RecordReservation("committed", len(created))
	s.log.WithField("claimant", claimant).WithField("slots", len(created)).Info("slots reserved")
	return created, nil
}

// Get returns one reserved slot.
func (s *Service) Get(ctx context.Context, number int) (slot.Slot, error) {
	return s.slots.GetSlot(ctx, number)
}

// TogglePaid flips the payment flag of one reserved slot and returns the
// updated record.
func (s *Service) TogglePaid(ctx context.Context, number int) (slot.Slot, error) {
	rec, err := s.slots.GetSlot(ctx, number)
	if err != nil {
		return slot.Slot{}, err
	}
	if err := s.slots.SetPaid(ctx, []int{number}, !rec.Paid); err != nil {
		return slot.Slot{}, err
	}
	rec.Paid = !rec.Paid
	s.log.WithField("number", number).WithField("paid", rec.Paid).Info("slot payment toggled")
	return rec, nil
}

// Release frees one reserved slot so the number can be claimed again.
func (s *Service) Release(ctx context.Context, number int) error {
	if _, err := s.slots.GetSlot(ctx, number); err != nil {
		return err
	}
	if err := s.slots.DeleteSlots(ctx, []int{number}); err != nil {
		return err
	}
	s.log.WithField("number", number).Info("slot released")
	return nil
}

func (s *Service) poolSize(ctx context.Context) (int, error) {
	cfg, err := s.config.GetConfig(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return pool.DefaultSize, nil
	}
	if err != nil {
		return 0, err
	}
	return cfg.Size, nil
}

// dedupe returns the distinct numbers in ascending order.
func dedupe(numbers []int) []int {
	sorted := make([]int, len(numbers))
	copy(sorted, numbers)
	sort.Ints(sorted)

	out := make([]int, 0, len(sorted))
	for i, n := range sorted {
		if i == 0 || n != sorted[i-1] {
			out = append(out, n)
		}
	}
	return out
}
