// Package placeholder renders text tokens such as "players_credit" or
// "players_last-login_alice" from cached column lookups.
//
// A token is table, column and optional player joined by underscores. The
// column may not contain underscores; write them as dashes instead
// ("last-login" reads column last_login). The column "all" selects the
// whole row as JSON. Everything after the second underscore is the player,
// so player names may contain underscores.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/logging"
)

// ErrInvalidToken is returned by Parse for malformed tokens.
var ErrInvalidToken = errors.New("invalid placeholder token")

// WholeRowColumn selects every column of the row.
const WholeRowColumn = "all"

// Request is a parsed token.
type Request struct {
	Table    string
	Column   string
	Player   string
	WholeRow bool
}

// Parse splits token into a Request. self is used when the token names no
// player; an empty self with no explicit player is an error.
func Parse(token, self string) (Request, error) {
	table, rest, ok := strings.Cut(token, "_")
	if !ok || table == "" || rest == "" {
		return Request{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}

	column, player, hasPlayer := strings.Cut(rest, "_")
	if !hasPlayer {
		player = self
	}
	column = strings.ReplaceAll(column, "-", "_")
	if column == "" {
		return Request{}, fmt.Errorf("%w: %q has no column", ErrInvalidToken, token)
	}
	if strings.TrimSpace(player) == "" {
		return Request{}, fmt.Errorf("%w: %q has no player", ErrInvalidToken, token)
	}

	return Request{
		Table:    table,
		Column:   column,
		Player:   player,
		WholeRow: strings.EqualFold(column, WholeRowColumn),
	}, nil
}

// Fetcher is the lookup side of query.Executor.
type Fetcher interface {
	FetchColumn(ctx context.Context, table, column, identity string) *inflight.Future[string]
	FetchRow(ctx context.Context, table, identity string) *inflight.Future[string]
	Available() bool
}

// Invalidator is the invalidation side of query.Executor or a broadcaster.
type Invalidator interface {
	InvalidateForIdentity(identity string) int
	InvalidateForTable(table string) int
}

// Resolver renders tokens with a bounded wait.
type Resolver struct {
	fetch      Fetcher
	invalidate Invalidator
	wait       time.Duration
}

// NewResolver creates a resolver. wait <= 0 uses five seconds.
func NewResolver(f Fetcher, inv Invalidator, wait time.Duration) *Resolver {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Resolver{fetch: f, invalidate: inv, wait: wait}
}

// Lookup starts the lookup for a parsed request.
func (r *Resolver) Lookup(ctx context.Context, req Request) *inflight.Future[string] {
	if req.WholeRow {
		return r.fetch.FetchRow(ctx, req.Table, req.Player)
	}
	return r.fetch.FetchColumn(ctx, req.Table, req.Column, req.Player)
}

// Resolve renders token and reports the outcome. Absent values yield ""
// with a nil error.
func (r *Resolver) Resolve(ctx context.Context, token, self string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	req, err := Parse(token, self)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	res := r.Lookup(ctx, req).Wait(ctx)
	if res.Err != nil {
		return "", res.Err
	}
	return res.Value, nil
}

// Render is Resolve for display: any failure renders as "" and is logged.
func (r *Resolver) Render(ctx context.Context, token, self string) string {
	if token == "" {
		return ""
	}
	if !r.fetch.Available() {
		logging.Op().Warn("database unavailable for placeholder", "token", token)
		return ""
	}
	v, err := r.Resolve(ctx, token, self)
	if err != nil {
		logging.Op().Warn("placeholder lookup failed", "token", token, "error", err)
		return ""
	}
	return v
}

// InvalidatePlayer drops every cached value for player.
func (r *Resolver) InvalidatePlayer(player string) int {
	if r.invalidate == nil {
		return 0
	}
	return r.invalidate.InvalidateForIdentity(player)
}

// InvalidateTable drops every cached value for table.
func (r *Resolver) InvalidateTable(table string) int {
	if r.invalidate == nil {
		return 0
	}
	return r.invalidate.InvalidateForTable(table)
}
