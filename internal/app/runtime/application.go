// Package runtime wires configuration, storage, services and the HTTP server
// into a single program lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"

	app "github.com/raffleworks/slotpool/internal/app"
	"github.com/raffleworks/slotpool/internal/app/httpapi"
	"github.com/raffleworks/slotpool/internal/app/storage/postgres"
	redisstore "github.com/raffleworks/slotpool/internal/app/storage/redis"
	"github.com/raffleworks/slotpool/internal/config"
	"github.com/raffleworks/slotpool/internal/platform/database"
	"github.com/raffleworks/slotpool/internal/platform/migrations"
	"github.com/raffleworks/slotpool/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	db         *sql.DB
	redis      *goredis.Client
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, redisClient, err := buildStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(stores, app.Options{
		MaxGroupSize:     cfg.Store.MaxGroupSize,
		SnapshotSchedule: cfg.Snapshot.Schedule,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	handler := httpapi.NewHandler(application, log, httpapi.Options{
		Tokens:    cfg.Auth.TokenList(),
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		httpServer: srv,
		db:         db,
		redis:      redisClient,
	}, nil
}

// Run starts the services and the HTTP server, seeds the pool on first boot,
// and blocks until the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	if a.cfg.Store.SeedFile != "" {
		seed, err := config.LoadSeedFile(a.cfg.Store.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		if err := a.app.Seed(ctx, seed); err != nil {
			return fmt.Errorf("seed pool: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.httpServer.Addr).Info("http server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops the services and closes the backing
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}

	return nil
}

func buildStores(cfg *config.Config) (app.Stores, *sql.DB, *goredis.Client, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		// app.New fills nil stores with the in-memory implementation.
		return app.Stores{}, nil, nil, nil

	case config.DriverPostgres:
		db, err := database.Open(database.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return app.Stores{}, nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return app.Stores{}, nil, nil, err
		}
		store := postgres.New(db)
		return app.Stores{Slots: store, Config: store, Snapshots: store}, db, nil, nil

	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return app.Stores{}, nil, nil, err
		}
		store := redisstore.New(client)
		return app.Stores{Slots: store, Config: store, Snapshots: store}, nil, client, nil

	default:
		return app.Stores{}, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
