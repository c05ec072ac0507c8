// Package poolconfig manages the singleton pool configuration: display
// metadata, pool size and the advisory draw date. The announced winner lives
// in the same record but is written only by the draw.
package poolconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raffleworks/slotpool/internal/app/domain/pool"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

// ShrinkError reports a rejected size reduction below an occupied slot.
type ShrinkError struct {
	RequestedSize   int
	HighestOccupied int
}

func (e ShrinkError) Error() string {
	return fmt.Sprintf("pool size %d is below occupied slot %d", e.RequestedSize, e.HighestOccupied)
}

// Service reads and saves the pool configuration.
type Service struct {
	slots  storage.SlotStore
	config storage.ConfigStore
	log    *logger.Logger
}

// New constructs the configuration service.
func New(slots storage.SlotStore, config storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("poolconfig")
	}
	return &Service{slots: slots, config: config, log: log}
}

// Get returns the stored configuration, or the defaults before the first
// save.
func (s *Service) Get(ctx context.Context) (pool.Config, error) {
	cfg, err := s.config.GetConfig(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return pool.Default(), nil
	}
	return cfg, err
}

// Save persists display name, pool size and draw date. The size is clamped
// to the allowed bounds and may not drop below the highest occupied slot
// number. The announced winner is untouched by saves.
func (s *Service) Save(ctx context.Context, displayName string, size int, drawDate string) (pool.Config, error) {
	displayName = strings.TrimSpace(displayName)
	drawDate = strings.TrimSpace(drawDate)
	if drawDate != "" {
		if _, err := time.Parse("2006-01-02", drawDate); err != nil {
			return pool.Config{}, fmt.Errorf("draw date %q is not an ISO date", drawDate)
		}
	}

	size = pool.ClampSize(size)
	highest, err := s.highestOccupied(ctx)
	if err != nil {
		return pool.Config{}, err
	}
	if size < highest {
		return pool.Config{}, ShrinkError{RequestedSize: size, HighestOccupied: highest}
	}

	cfg, err := s.config.SaveConfig(ctx, pool.Config{
		DisplayName: displayName,
		Size:        size,
		DrawDate:    drawDate,
	})
	if err != nil {
		return pool.Config{}, err
	}

	s.log.WithField("size", cfg.Size).WithField("display_name", cfg.DisplayName).Info("pool configuration saved")
	return cfg, nil
}

func (s *Service) highestOccupied(ctx context.Context) (int, error) {
	slots, err := s.slots.ListSlots(ctx)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, rec := range slots {
		if rec.Number > highest {
			highest = rec.Number
		}
	}
	return highest, nil
}
