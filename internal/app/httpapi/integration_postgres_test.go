//go:build integration && postgres

package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/joho/godotenv"

	app "github.com/raffleworks/slotpool/internal/app"
	"github.com/raffleworks/slotpool/internal/app/storage/postgres"
	"github.com/raffleworks/slotpool/internal/platform/database"
	"github.com/raffleworks/slotpool/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the core flows
// survive a process restart.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("SLOTPOOL_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SLOTPOOL_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := database.Open(database.Config{DSN: dsn})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	truncateAll(t, db)

	server := newIntegrationServer(t, db)

	// Configure, reserve, pay, draw, snapshot over the wire.
	resp := doIntegration(t, server, http.MethodPut, "/pool/config", map[string]any{
		"display_name": "Integration Raffle",
		"pool_size":    50,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config status: %d", resp.StatusCode)
	}

	resp = doIntegration(t, server, http.MethodPost, "/pool/reservations", map[string]any{
		"claimant_name": "Ana",
		"numbers":       []int{10, 11},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve status: %d", resp.StatusCode)
	}

	resp = doIntegration(t, server, http.MethodPost, "/pool/bulk", map[string]any{
		"action":  "mark_paid",
		"numbers": []int{10, 11},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk status: %d", resp.StatusCode)
	}

	resp = doIntegration(t, server, http.MethodPost, "/pool/draw", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("draw status: %d", resp.StatusCode)
	}

	resp = doIntegration(t, server, http.MethodPost, "/snapshots", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("snapshot status: %d", resp.StatusCode)
	}

	server.Close()

	// A fresh handler over the same database sees everything.
	restarted := newIntegrationServer(t, db)
	defer restarted.Close()

	resp = doIntegration(t, restarted, http.MethodGet, "/pool/slots", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots status after restart: %d", resp.StatusCode)
	}
	var slots []struct {
		Number int  `json:"number"`
		Paid   bool `json:"paid"`
	}
	decodeIntegration(t, resp, &slots)
	if len(slots) != 2 || !slots[0].Paid || !slots[1].Paid {
		t.Fatalf("unexpected slots after restart: %+v", slots)
	}

	resp = doIntegration(t, restarted, http.MethodGet, "/pool/draw", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("winner status after restart: %d", resp.StatusCode)
	}
	var won struct {
		Number int `json:"number"`
	}
	decodeIntegration(t, resp, &won)
	if won.Number != 10 && won.Number != 11 {
		t.Fatalf("unexpected winner after restart: %+v", won)
	}

	resp = doIntegration(t, restarted, http.MethodGet, "/snapshots", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshots status after restart: %d", resp.StatusCode)
	}
	var metas []struct {
		DocCount int `json:"doc_count"`
	}
	decodeIntegration(t, resp, &metas)
	if len(metas) != 1 || metas[0].DocCount != 2 {
		t.Fatalf("unexpected snapshots after restart: %+v", metas)
	}
}

func newIntegrationServer(t *testing.T, db *sql.DB) *httptest.Server {
	t.Helper()
	store := postgres.New(db)
	application, err := app.New(app.Stores{Slots: store, Config: store, Snapshots: store}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return httptest.NewServer(NewHandler(application, nil, Options{}))
}

func doIntegration(t *testing.T, server *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = marshal(t, body)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeIntegration(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func truncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"snapshot_slots", "pool_snapshots", "pool_slots", "pool_config"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
}
