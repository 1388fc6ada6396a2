// Package httpapi exposes the query layer over HTTP for operators and
// out-of-process callers.
package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/aysihuniks/nhook/internal/db"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/observability"
	"github.com/aysihuniks/nhook/internal/query"
)

// Reader is the read side of query.Executor.
type Reader interface {
	FetchColumn(ctx context.Context, table, column, identity string) *inflight.Future[string]
	FetchRow(ctx context.Context, table, identity string) *inflight.Future[string]
	Stats() query.Stats
	PoolStats() db.PoolStats
	Available() bool
}

// Invalidator is implemented by query.Executor and invalidation.Broadcaster.
type Invalidator interface {
	Invalidate(table, column, identity string) bool
	InvalidateForIdentity(identity string) int
	InvalidateForTable(table string) int
	ClearAll() int
}

// Renderer resolves placeholder tokens.
type Renderer interface {
	Resolve(ctx context.Context, token, self string) (string, error)
}

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Reader      Reader
	Invalidator Invalidator
	Renderer    Renderer
	Players     Players // optional, enables the write and ranking routes
	Pool        db.Pool // optional, pinged by /health
	NodeID      string
}

// NewHandler builds the routed handler with tracing and request ids.
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()
	h := &Handler{
		reader:   cfg.Reader,
		inv:      cfg.Invalidator,
		renderer: cfg.Renderer,
		players:  cfg.Players,
		pool:     cfg.Pool,
		nodeID:   cfg.NodeID,
	}
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)
	handler = requestID(handler)
	return handler
}

// StartHTTPServer creates the server and starts serving in the background.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: NewHandler(cfg),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
