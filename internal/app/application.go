package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/raffleworks/slotpool/internal/app/services/allocation"
	"github.com/raffleworks/slotpool/internal/app/services/archive"
	"github.com/raffleworks/slotpool/internal/app/services/bulkops"
	"github.com/raffleworks/slotpool/internal/app/services/poolconfig"
	"github.com/raffleworks/slotpool/internal/app/services/poolview"
	"github.com/raffleworks/slotpool/internal/app/services/winner"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/internal/app/storage/memory"
	"github.com/raffleworks/slotpool/internal/app/system"
	"github.com/raffleworks/slotpool/internal/config"
	"github.com/raffleworks/slotpool/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Slots     storage.SlotStore
	Config    storage.ConfigStore
	Snapshots storage.SnapshotStore
}

// Options carries application-level tunables.
type Options struct {
	MaxGroupSize     int
	SnapshotSchedule string
}

// Application ties the pool services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	stores  Stores

	Allocation *allocation.Service
	Bulk       *bulkops.Service
	Winner     *winner.Service
	Snapshots  *archive.Service
	View       *poolview.Service
	Config     *poolconfig.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Slots == nil {
		stores.Slots = mem
	}
	if stores.Config == nil {
		stores.Config = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}

	manager := system.NewManager()

	allocationSvc := allocation.New(stores.Slots, stores.Config, log)
	bulkSvc := bulkops.New(stores.Slots, opts.MaxGroupSize, log)
	winnerSvc := winner.New(stores.Slots, stores.Config, log)
	archiveSvc := archive.New(stores.Slots, stores.Snapshots, opts.MaxGroupSize, log)
	viewSvc := poolview.New(stores.Slots, stores.Config, log)
	configSvc := poolconfig.New(stores.Slots, stores.Config, log)
	scheduler := archive.NewScheduler(archiveSvc, opts.SnapshotSchedule, log)

	for _, name := range []string{"allocation", "bulkops", "winner", "poolconfig", "archive"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	for _, svc := range []system.Service{viewSvc, scheduler} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		stores:     stores,
		Allocation: allocationSvc,
		Bulk:       bulkSvc,
		Winner:     winnerSvc,
		Snapshots:  archiveSvc,
		View:       viewSvc,
		Config:     configSvc,
	}, nil
}

// Seed applies a seed file on first boot. Once a pool configuration exists
// the seed is skipped, so restarts are safe.
func (a *Application) Seed(ctx context.Context, seed *config.SeedFile) error {
	if seed == nil {
		return nil
	}

	_, err := a.stores.Config.GetConfig(ctx)
	if err == nil {
		a.log.Info("pool already configured; seed file skipped")
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check existing config: %w", err)
	}

	if _, err := a.Config.Save(ctx, seed.DisplayName, seed.PoolSize, seed.DrawDate); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	for i, res := range seed.Reservations {
		created, err := a.Allocation.Reserve(ctx, res.ClaimantName, res.Numbers)
		if err != nil {
			return fmt.Errorf("seed reservation %d: %w", i, err)
		}
		if res.Paid {
			numbers := make([]int, 0, len(created))
			for _, rec := range created {
				numbers = append(numbers, rec.Number)
			}
			if err := a.stores.Slots.SetPaid(ctx, numbers, true); err != nil {
				return fmt.Errorf("seed reservation %d payment: %w", i, err)
			}
		}
	}

	a.log.WithField("reservations", len(seed.Reservations)).Info("pool seeded")
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
