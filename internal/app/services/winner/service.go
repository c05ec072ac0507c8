// Package winner draws a raffle winner from the paid slots and keeps the
// announced result in the pool configuration.
package winner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/metrics"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var (
	// ErrNoEligible reports a draw attempt with no paid slots in the pool.
	ErrNoEligible = errors.New("no paid slots eligible for the draw")
	// ErrNoWinner reports that no winner is currently announced.
	ErrNoWinner = errors.New("no winner announced")
)

// Result is an announced winner. ClaimantName is resolved from the live
// slot table and comes back empty when the winning slot was released after
// the draw.
type Result struct {
	Number       int    `json:"number"`
	ClaimantName string `json:"claimant_name,omitempty"`
}

// Service runs draws over the paid subset of the pool.
type Service struct {
	slots  storage.SlotStore
	config storage.ConfigStore
	log    *logger.Logger
}

// New constructs the winner service.
func New(slots storage.SlotStore, config storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("winner")
	}
	return &Service{slots: slots, config: config, log: log}
}

// Draw picks one paid slot uniformly at random, persists it as the announced
// winner and returns it. A repeated draw replaces the previous winner.
func (s *Service) Draw(ctx context.Context) (Result, error) {
	slots, err := s.slots.ListSlots(ctx)
	if err != nil {
		metrics.RecordDraw("error")
		return Result{}, err
	}

	eligible := make([]slot.Slot, 0, len(slots))
	for _, rec := range slots {
		if rec.Paid {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) == 0 {
		metrics.RecordDraw("no_eligible")
		return Result{}, ErrNoEligible
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pick := eligible[rng.Intn(len(eligible))]

	if err := s.config.SetWinningSlot(ctx, pick.Number); err != nil {
		metrics.RecordDraw("error")
		return Result{}, err
	}

	metrics.RecordDraw("drawn")
	s.log.WithField("number", pick.Number).
		WithField("eligible", len(eligible)).
		Info("winner drawn")
	return Result{Number: pick.Number, ClaimantName: pick.ClaimantName}, nil
}

// Reset clears the announced winner. Resetting when no winner is set is a
// no-op.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.config.SetWinningSlot(ctx, 0); err != nil {
		return err
	}
	s.log.Info("draw reset")
	return nil
}

// Current returns the announced winner with the claimant name resolved at
// call time.
func (s *Service) Current(ctx context.Context) (Result, error) {
	cfg, err := s.config.GetConfig(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNoWinner
	}
	if err != nil {
		return Result{}, err
	}
	if !cfg.WinnerAnnounced() {
		return Result{}, ErrNoWinner
	}

	res := Result{Number: cfg.WinningSlot}
	rec, err := s.slots.GetSlot(ctx, cfg.WinningSlot)
	switch {
	case err == nil:
		res.ClaimantName = rec.ClaimantName
	case errors.Is(err, storage.ErrNotFound):
		// Winning slot released since the draw; keep the number alone.
	default:
		return Result{}, err
	}
	return res, nil
}
