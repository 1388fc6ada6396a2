// Package client is a typed convenience layer over the query executor:
// typed getters, batch reads, updates that invalidate what they change, and
// a few ranking queries.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/query"
)

// ErrInvalidValue means a stored value could not be converted.
var ErrInvalidValue = errors.New("value has unexpected format")

// Backend is the subset of query.Executor the client uses.
type Backend interface {
	FetchColumn(ctx context.Context, table, column, identity string) *inflight.Future[string]
	ExecuteUpdate(ctx context.Context, sql string, args ...any) *inflight.Future[int64]
	Query(ctx context.Context, sql string, args ...any) *inflight.Future[string]
}

// Invalidator removes single cached lookups. query.Executor and
// invalidation.Broadcaster implement it.
type Invalidator interface {
	Invalidate(table, column, identity string) bool
}

// Config configures a Client.
type Config struct {
	IdentityColumn string
	WaitTimeout    time.Duration // applied when ctx has no deadline
	BatchParallel  int
}

// Client is safe for concurrent use.
type Client struct {
	backend Backend
	inv     Invalidator
	cfg     Config
}

// New creates a client.
func New(backend Backend, inv Invalidator, cfg Config) *Client {
	if cfg.IdentityColumn == "" {
		cfg.IdentityColumn = "player"
	}
	cfg.IdentityColumn = query.FoldIdentifier(cfg.IdentityColumn)
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 5 * time.Second
	}
	if cfg.BatchParallel <= 0 {
		cfg.BatchParallel = 16
	}
	return &Client{backend: backend, inv: inv, cfg: cfg}
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.WaitTimeout)
}

// GetString returns the column value for player. ok is false when the row
// or value is missing.
func (c *Client) GetString(ctx context.Context, table, column, player string) (value string, ok bool, err error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	res := c.backend.FetchColumn(ctx, table, column, player).Wait(ctx)
	return res.Value, res.OK, res.Err
}

// GetInt parses the column as an integer. Decimal values are truncated.
func (c *Client) GetInt(ctx context.Context, table, column, player string) (int64, bool, error) {
	s, ok, err := c.GetString(ctx, table, column, player)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := ParseInt(s)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// GetFloat parses the column as a float.
func (c *Client) GetFloat(ctx context.Context, table, column, player string) (float64, bool, error) {
	s, ok, err := c.GetString(ctx, table, column, player)
	if err != nil || !ok {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	return f, true, nil
}

// GetBool parses the column as a boolean.
func (c *Client) GetBool(ctx context.Context, table, column, player string) (bool, bool, error) {
	s, ok, err := c.GetString(ctx, table, column, player)
	if err != nil || !ok {
		return false, false, err
	}
	b, err := ParseBool(s)
	if err != nil {
		return false, false, err
	}
	return b, true, nil
}

// GetTime parses the column as a timestamp, trying the common layouts.
func (c *Client) GetTime(ctx context.Context, table, column, player string) (time.Time, bool, error) {
	s, ok, err := c.GetString(ctx, table, column, player)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// GetStringBatch reads column for every player concurrently. Players whose
// value is absent are left out of the result. The first failure cancels the
// remaining lookups.
func (c *Client) GetStringBatch(ctx context.Context, table, column string, players []string) (map[string]string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	futures := make([]*inflight.Future[string], len(players))
	for i, p := range players {
		futures[i] = c.backend.FetchColumn(ctx, table, column, p)
	}

	values := make([]inflight.Result[string], len(players))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BatchParallel)
	for i := range futures {
		g.Go(func() error {
			values[i] = futures[i].Wait(gctx)
			if values[i].Err != nil {
				return fmt.Errorf("%s: %w", players[i], values[i].Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(players))
	for i, res := range values {
		if res.OK {
			out[players[i]] = res.Value
		}
	}
	return out, nil
}

// UpdateValue sets column for player and invalidates the cached column and
// row. It reports whether a row was changed.
func (c *Client) UpdateValue(ctx context.Context, table, column, player string, value any) (bool, error) {
	if err := c.check(table, column); err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`, ident(table), ident(column), ident(c.cfg.IdentityColumn))
	return c.update(ctx, table, column, player, sql, value)
}

// IncrementValue adds delta to a numeric column for player.
func (c *Client) IncrementValue(ctx context.Context, table, column, player string, delta any) (bool, error) {
	if err := c.check(table, column); err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`UPDATE %s SET %[2]s = %[2]s + $1 WHERE %[3]s = $2`, ident(table), ident(column), ident(c.cfg.IdentityColumn))
	return c.update(ctx, table, column, player, sql, delta)
}

func (c *Client) update(ctx context.Context, table, column, player, sql string, arg any) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	res := c.backend.ExecuteUpdate(ctx, sql, arg, player).Wait(ctx)
	if res.Err != nil {
		return false, res.Err
	}
	if res.Value == 0 {
		return false, nil
	}
	if c.inv != nil {
		table, column = query.FoldIdentifier(table), query.FoldIdentifier(column)
		c.inv.Invalidate(table, column, player)
		c.inv.Invalidate(table, cache.WholeRow, player)
	}
	return true, nil
}

var ident = query.QuoteIdentifier

func (c *Client) check(names ...string) error {
	for _, n := range names {
		if !query.ValidIdentifier(n) {
			return fmt.Errorf("%w: %q", query.ErrInvalidIdentifier, n)
		}
	}
	return nil
}
