package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/metrics"
	"github.com/aysihuniks/nhook/internal/placeholder"
	"github.com/aysihuniks/nhook/internal/query"
)

const lookupTimeout = 10 * time.Second

// Handler serves the admin and lookup routes.
type Handler struct {
	reader   Reader
	inv      Invalidator
	renderer Renderer
	players  Players
	pool     db.Pool
	nodeID   string
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /v1/stats", h.Stats)
	mux.HandleFunc("GET /v1/values/{table}/{column}/{identity}", h.Value)
	mux.HandleFunc("GET /v1/rows/{table}/{identity}", h.Row)
	mux.HandleFunc("POST /v1/invalidate", h.Invalidate)
	if h.renderer != nil {
		mux.HandleFunc("GET /v1/placeholders/{token}", h.Placeholder)
	}
	if h.players != nil {
		h.registerPlayerRoutes(mux)
	}

	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /v1/metrics", metrics.Global().JSONHandler())
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.reader.Available()
	if dbOK && h.pool != nil {
		dbOK = h.pool.Ping(ctx) == nil
	}

	status, code := "ok", http.StatusOK
	if !dbOK {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"database":       dbOK,
		"node":           h.nodeID,
		"pool":           h.reader.PoolStats(),
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache": h.reader.Stats(),
		"pool":  h.reader.PoolStats(),
	})
}

type valueResponse struct {
	Table    string `json:"table"`
	Column   string `json:"column,omitempty"`
	Identity string `json:"identity"`
	Found    bool   `json:"found"`
	Value    string `json:"value,omitempty"`
}

// Value handles GET /v1/values/{table}/{column}/{identity}.
func (h *Handler) Value(w http.ResponseWriter, r *http.Request) {
	table, column, identity := r.PathValue("table"), r.PathValue("column"), r.PathValue("identity")

	res, ok := h.wait(w, r, func(ctx context.Context) *inflight.Future[string] {
		return h.reader.FetchColumn(ctx, table, column, identity)
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{
		Table: table, Column: column, Identity: identity,
		Found: res.OK, Value: res.Value,
	})
}

// Row handles GET /v1/rows/{table}/{identity}. The body is the row's JSON
// object in column order.
func (h *Handler) Row(w http.ResponseWriter, r *http.Request) {
	table, identity := r.PathValue("table"), r.PathValue("identity")

	res, ok := h.wait(w, r, func(ctx context.Context) *inflight.Future[string] {
		return h.reader.FetchRow(ctx, table, identity)
	})
	if !ok {
		return
	}
	if !res.OK {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Value))
}

// Placeholder handles GET /v1/placeholders/{token}?player=.
func (h *Handler) Placeholder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	token := r.PathValue("token")
	value, err := h.renderer.Resolve(ctx, token, r.URL.Query().Get("player"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "value": value})
}

type invalidateRequest struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Identity string `json:"identity"`
	All      bool   `json:"all"`
}

// Invalidate handles POST /v1/invalidate. The body selects the scope:
// {"all":true}, {"table":...,"column":...,"identity":...}, {"identity":...}
// or {"table":...}.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	var scope string
	var removed int
	switch {
	case req.All:
		scope, removed = "all", h.inv.ClearAll()
	case req.Table != "" && req.Column != "" && req.Identity != "":
		scope = "key"
		if h.inv.Invalidate(req.Table, req.Column, req.Identity) {
			removed = 1
		}
	case req.Identity != "":
		scope, removed = "identity", h.inv.InvalidateForIdentity(req.Identity)
	case req.Table != "":
		scope, removed = "table", h.inv.InvalidateForTable(req.Table)
	default:
		writeError(w, http.StatusBadRequest, "one of all, identity or table is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scope": scope, "removed": removed})
}

func (h *Handler) wait(w http.ResponseWriter, r *http.Request, lookup func(context.Context) *inflight.Future[string]) (inflight.Result[string], bool) {
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	res := lookup(ctx).Wait(ctx)
	if res.Err != nil {
		writeError(w, statusFor(res.Err), res.Err.Error())
		return res, false
	}
	return res, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrInvalidIdentifier), errors.Is(err, placeholder.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrTimeout), errors.Is(err, inflight.ErrWaitTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
