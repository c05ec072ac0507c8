package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Fatalf("expected memory driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.Store.MaxGroupSize != 450 {
		t.Fatalf("expected default group size 450, got %d", cfg.Store.MaxGroupSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadValidatesDriver(t *testing.T) {
	t.Setenv("SLOTPOOL_STORE_DRIVER", "etcd")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	t.Setenv("SLOTPOOL_STORE_DRIVER", "postgres")
	t.Setenv("SLOTPOOL_POSTGRES_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for postgres driver without DSN")
	}

	t.Setenv("SLOTPOOL_POSTGRES_DSN", "postgres://localhost/slotpool?sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.Store.Driver)
	}
}

func TestLoadNormalisesDriverCase(t *testing.T) {
	t.Setenv("SLOTPOOL_STORE_DRIVER", " Redis ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverRedis {
		t.Fatalf("expected redis driver, got %q", cfg.Store.Driver)
	}
}

func TestTokenList(t *testing.T) {
	auth := AuthConfig{Tokens: " alpha, beta ,,gamma "}
	tokens := auth.TokenList()
	if len(tokens) != 3 || tokens[0] != "alpha" || tokens[2] != "gamma" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if got := (AuthConfig{}).TokenList(); got != nil {
		t.Fatalf("expected nil token list, got %v", got)
	}
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	body := `display_name: Spring Raffle
pool_size: 50
draw_date: "2026-09-01"
reservations:
  - claimant_name: Ana
    numbers: [1, 2, 3]
    paid: true
  - claimant_name: Bea
    numbers: [10]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if seed.DisplayName != "Spring Raffle" || seed.PoolSize != 50 {
		t.Fatalf("unexpected seed header %+v", seed)
	}
	if len(seed.Reservations) != 2 || !seed.Reservations[0].Paid || seed.Reservations[1].ClaimantName != "Bea" {
		t.Fatalf("unexpected reservations %+v", seed.Reservations)
	}
}

func TestLoadSeedFileValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	body := `reservations:
  - numbers: [1]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatalf("expected error for missing claimant_name")
	}

	if _, err := LoadSeedFile(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
