package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raffleworks/slotpool/internal/app/system"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler creates snapshots on a cron schedule. An empty schedule leaves
// the scheduler dormant so it can always be registered.
type Scheduler struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a lifecycle-managed snapshot scheduler.
func NewScheduler(service *Service, schedule string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("archive-scheduler")
	}
	return &Scheduler{service: service, schedule: schedule, log: log}
}

func (s *Scheduler) Name() string { return "snapshot-scheduler" }

func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.schedule == "" {
		s.log.Info("snapshot schedule not set; scheduler dormant")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("snapshot scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("snapshot scheduler stopped")
	return nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	meta, err := s.service.Generate(ctx)
	switch {
	case errors.Is(err, ErrEmptyPool):
		s.log.Debug("scheduled snapshot skipped: pool empty")
	case err != nil:
		s.log.WithError(err).Warn("scheduled snapshot failed")
	default:
		s.log.WithField("name", meta.Name).Info("scheduled snapshot created")
	}
}
