package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aysihuniks/nhook/internal/client"
)

const (
	defaultListLimit = 10
	maxListLimit     = 500
)

// Players is the typed read/write surface of client.Client.
type Players interface {
	GetStringBatch(ctx context.Context, table, column string, players []string) (map[string]string, error)
	UpdateValue(ctx context.Context, table, column, player string, value any) (bool, error)
	IncrementValue(ctx context.Context, table, column, player string, delta any) (bool, error)
	TopPlayers(ctx context.Context, table, column string, limit int) ([]client.Ranked, error)
	PlayersWhere(ctx context.Context, table, column string, m client.Match, text string) ([]string, error)
	PlayersBetween(ctx context.Context, table, column string, lo, hi int64) ([]string, error)
	PlayersOrderedBy(ctx context.Context, table, column string, ascending bool, limit int) ([]string, error)
}

func (h *Handler) registerPlayerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/values/{table}/{column}/{identity}", h.SetValue)
	mux.HandleFunc("GET /v1/values/{table}/{column}", h.BatchValues)
	mux.HandleFunc("GET /v1/top/{table}/{column}", h.Top)
	mux.HandleFunc("GET /v1/players/{table}/{column}", h.PlayerList)
}

type setValueRequest struct {
	Value     json.RawMessage `json:"value"`
	Increment json.Number     `json:"increment"`
}

// SetValue handles POST /v1/values/{table}/{column}/{identity}. The body is
// {"value":...} to overwrite or {"increment":n} to add to a numeric column.
func (h *Handler) SetValue(w http.ResponseWriter, r *http.Request) {
	table, column, identity := r.PathValue("table"), r.PathValue("column"), r.PathValue("identity")

	var req setValueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	var changed bool
	var err error
	switch {
	case req.Increment != "":
		delta, perr := req.Increment.Int64()
		if perr != nil {
			writeError(w, http.StatusBadRequest, "increment must be an integer")
			return
		}
		changed, err = h.players.IncrementValue(ctx, table, column, identity, delta)
	case len(req.Value) > 0:
		value, perr := decodeValue(req.Value)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		changed, err = h.players.UpdateValue(ctx, table, column, identity, value)
	default:
		writeError(w, http.StatusBadRequest, "one of value or increment is required")
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !changed {
		writeError(w, http.StatusNotFound, "row not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table": table, "column": column, "identity": identity, "updated": true,
	})
}

// decodeValue turns a JSON scalar into the Go value bound to the statement.
// Integers stay int64 so they bind to integer columns.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New("invalid value")
	}
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		return val.Float64()
	case string, bool, nil:
		return val, nil
	default:
		return nil, errors.New("value must be a string, number, boolean or null")
	}
}

// BatchValues handles GET /v1/values/{table}/{column}?identity=a&identity=b.
// Absent values are left out of the response.
func (h *Handler) BatchValues(w http.ResponseWriter, r *http.Request) {
	table, column := r.PathValue("table"), r.PathValue("column")
	ids := r.URL.Query()["identity"]
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "at least one identity is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	values, err := h.players.GetStringBatch(ctx, table, column, ids)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "column": column, "values": values})
}

// Top handles GET /v1/top/{table}/{column}?limit=n.
func (h *Handler) Top(w http.ResponseWriter, r *http.Request) {
	table, column := r.PathValue("table"), r.PathValue("column")
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	top, err := h.players.TopPlayers(ctx, table, column, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if top == nil {
		top = []client.Ranked{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "column": column, "top": top})
}

// PlayerList handles GET /v1/players/{table}/{column}. Exactly one filter
// applies, checked in this order: ?contains=, ?prefix= or ?suffix= for a
// text match, ?min=&max= for a numeric range, otherwise ordering by the
// column (?order=asc|desc, ?limit=n).
func (h *Handler) PlayerList(w http.ResponseWriter, r *http.Request) {
	table, column := r.PathValue("table"), r.PathValue("column")
	q := r.URL.Query()

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	var players []string
	var err error
	switch {
	case q.Has("contains"):
		players, err = h.players.PlayersWhere(ctx, table, column, client.MatchContains, q.Get("contains"))
	case q.Has("prefix"):
		players, err = h.players.PlayersWhere(ctx, table, column, client.MatchPrefix, q.Get("prefix"))
	case q.Has("suffix"):
		players, err = h.players.PlayersWhere(ctx, table, column, client.MatchSuffix, q.Get("suffix"))
	case q.Has("min") || q.Has("max"):
		lo, lerr := strconv.ParseInt(q.Get("min"), 10, 64)
		hi, herr := strconv.ParseInt(q.Get("max"), 10, 64)
		if lerr != nil || herr != nil || lo > hi {
			writeError(w, http.StatusBadRequest, "min and max must be integers with min <= max")
			return
		}
		players, err = h.players.PlayersBetween(ctx, table, column, lo, hi)
	default:
		limit, ok := listLimit(w, r)
		if !ok {
			return
		}
		order := q.Get("order")
		if order != "" && order != "asc" && order != "desc" {
			writeError(w, http.StatusBadRequest, "order must be asc or desc")
			return
		}
		players, err = h.players.PlayersOrderedBy(ctx, table, column, order == "asc", limit)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if players == nil {
		players = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "column": column, "players": players})
}

func listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}
