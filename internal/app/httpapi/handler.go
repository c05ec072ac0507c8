// Package httpapi exposes the slot pool over REST. Routes map one-to-one
// onto the application services; errors translate to status codes in
// respondError.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	app "github.com/raffleworks/slotpool/internal/app"
	"github.com/raffleworks/slotpool/internal/app/domain/slot"
	"github.com/raffleworks/slotpool/internal/app/metrics"
	"github.com/raffleworks/slotpool/internal/app/services/archive"
	"github.com/raffleworks/slotpool/internal/app/services/poolconfig"
	"github.com/raffleworks/slotpool/internal/app/services/poolview"
	"github.com/raffleworks/slotpool/internal/app/services/winner"
	"github.com/raffleworks/slotpool/internal/app/storage"
	"github.com/raffleworks/slotpool/pkg/logger"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

// Options tunes the HTTP surface. Zero values disable the corresponding
// middleware.
type Options struct {
	Tokens    []string
	RateLimit float64
	RateBurst int
	AuditMax  int
}

// handler bundles the REST endpoints over the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

// NewHandler builds the API router with its middleware chain.
func NewHandler(application *app.Application, log *logger.Logger, opts Options) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	h := &handler{
		app:   application,
		log:   log,
		audit: newAuditLog(opts.AuditMax),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/pool", h.poolOverview).Methods(http.MethodGet)
	r.HandleFunc("/pool/reservations", h.reserve).Methods(http.MethodPost)
	r.HandleFunc("/pool/slots", h.listSlots).Methods(http.MethodGet)
	r.HandleFunc("/pool/slots/{number:[0-9]+}", h.getSlot).Methods(http.MethodGet)
	r.HandleFunc("/pool/slots/{number:[0-9]+}", h.releaseSlot).Methods(http.MethodDelete)
	r.HandleFunc("/pool/slots/{number:[0-9]+}/paid", h.togglePaid).Methods(http.MethodPost)
	r.HandleFunc("/pool/bulk", h.bulk).Methods(http.MethodPost)
	r.HandleFunc("/pool/draw", h.draw).Methods(http.MethodPost)
	r.HandleFunc("/pool/draw", h.currentWinner).Methods(http.MethodGet)
	r.HandleFunc("/pool/draw", h.resetDraw).Methods(http.MethodDelete)
	r.HandleFunc("/pool/config", h.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/pool/config", h.saveConfig).Methods(http.MethodPut)

	r.HandleFunc("/snapshots", h.createSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/{name}", h.viewSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/{name}/export", h.exportSnapshot).Methods(http.MethodGet)

	r.HandleFunc("/audit", h.recentAudit).Methods(http.MethodGet)

	// Outermost first: trace, cors (answers preflight), logging, metrics,
	// throttling, then auth and the audit trail in front of the routes.
	var hdl http.Handler = h.audit.middleware(r)
	if len(opts.Tokens) > 0 {
		hdl = authMiddleware(opts.Tokens)(hdl)
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = int(opts.RateLimit)
		}
		hdl = rateLimitMiddleware(rate.NewLimiter(rate.Limit(opts.RateLimit), burst))(hdl)
	}
	hdl = metrics.InstrumentHandler(hdl)
	hdl = requestLogMiddleware(log)(hdl)
	hdl = corsMiddleware(hdl)
	hdl = traceMiddleware(hdl)
	return hdl
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- pool ---

func (h *handler) poolOverview(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Config.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	stats, err := h.app.View.Stats(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg, "stats": stats})
}

func (h *handler) reserve(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClaimantName string `json:"claimant_name"`
		Numbers      []int  `json:"numbers"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Allocation.Reserve(r.Context(), payload.ClaimantName, payload.Numbers)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listSlots(w http.ResponseWriter, r *http.Request) {
	key, err := poolview.ParseSortKey(r.URL.Query().Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	slots, err := h.app.View.List(r.Context(), r.URL.Query().Get("query"), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *handler) getSlot(w http.ResponseWriter, r *http.Request) {
	number, ok := slotNumber(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Allocation.Get(r.Context(), number)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) releaseSlot(w http.ResponseWriter, r *http.Request) {
	number, ok := slotNumber(w, r)
	if !ok {
		return
	}
	if err := h.app.Allocation.Release(r.Context(), number); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) togglePaid(w http.ResponseWriter, r *http.Request) {
	number, ok := slotNumber(w, r)
	if !ok {
		return
	}
	rec, err := h.app.Allocation.TogglePaid(r.Context(), number)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) bulk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action  string `json:"action"`
		Numbers []int  `json:"numbers"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := h.app.Bulk.Apply(r.Context(), slot.BulkAction(payload.Action), payload.Numbers)
	if err != nil {
		var partial *storage.PartialError
		if errors.As(err, &partial) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- draw ---

func (h *handler) draw(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Winner.Draw(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) currentWinner(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Winner.Current(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) resetDraw(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Winner.Reset(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- config ---

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Config.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) saveConfig(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"display_name"`
		PoolSize    int    `json:"pool_size"`
		DrawDate    string `json:"draw_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := h.app.Config.Save(r.Context(), payload.DisplayName, payload.PoolSize, payload.DrawDate)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// --- snapshots ---

func (h *handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	meta, err := h.app.Snapshots.Generate(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	metas, err := h.app.Snapshots.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (h *handler) viewSnapshot(w http.ResponseWriter, r *http.Request) {
	slots, err := h.app.Snapshots.View(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *handler) exportSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var buf bytes.Buffer
	if err := h.app.Snapshots.ExportCSV(r.Context(), name, &buf); err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// --- audit ---

func (h *handler) recentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- helpers ---

func slotNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := mux.Vars(r)["number"]
	number, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid slot number %q", raw))
		return 0, false
	}
	return number, true
}

// respondError maps service and storage errors onto status codes. Unmatched
// errors are treated as validation failures.
func (h *handler) respondError(w http.ResponseWriter, err error) {
	var (
		conflict    storage.ConflictError
		shrink      poolconfig.ShrinkError
		partial     *storage.PartialError
		unavailable *storage.UnavailableError
	)
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"number": conflict.Number,
		})
	case errors.As(err, &shrink):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            err.Error(),
			"highest_occupied": shrink.HighestOccupied,
		})
	case errors.Is(err, winner.ErrNoEligible), errors.Is(err, archive.ErrEmptyPool):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, winner.ErrNoWinner):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &partial):
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":          err.Error(),
			"failed_group":   partial.FailedGroup,
			"applied_groups": partial.Applied,
			"total_groups":   partial.Total,
		})
	case errors.As(err, &unavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
