package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/raffleworks/slotpool/internal/config"
)

func TestNewApplicationMemoryDriver(t *testing.T) {
	t.Setenv("SLOTPOOL_STORE_DRIVER", "memory")
	t.Setenv("SLOTPOOL_PORT", "0")

	application, err := NewApplication()
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewApplicationRejectsBadDriver(t *testing.T) {
	t.Setenv("SLOTPOOL_STORE_DRIVER", "etcd")

	if _, err := NewApplication(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestBuildStoresUnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Driver = "etcd"

	if _, _, _, err := buildStores(cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
