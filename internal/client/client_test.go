package client

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aysihuniks/nhook/internal/cache"
	"github.com/aysihuniks/nhook/internal/inflight"
	"github.com/aysihuniks/nhook/internal/query"
)

type fakeBackend struct {
	mu      sync.Mutex
	values  map[string]string // "table.column.player" -> value
	fetches atomic.Int64

	updates  []string
	args     [][]any
	affected int64
	updErr   error

	queries []string
	result  string
	fail    map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: make(map[string]string), fail: make(map[string]error), affected: 1}
}

func (b *fakeBackend) FetchColumn(_ context.Context, table, column, identity string) *inflight.Future[string] {
	b.fetches.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[identity]; err != nil {
		return inflight.Failed[string](err)
	}
	v, ok := b.values[table+"."+column+"."+identity]
	if !ok {
		return inflight.Absent[string]()
	}
	return inflight.Completed(v)
}

func (b *fakeBackend) ExecuteUpdate(_ context.Context, sql string, args ...any) *inflight.Future[int64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, sql)
	b.args = append(b.args, args)
	if b.updErr != nil {
		return inflight.Failed[int64](b.updErr)
	}
	return inflight.Completed(b.affected)
}

func (b *fakeBackend) Query(_ context.Context, sql string, args ...any) *inflight.Future[string] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, sql)
	return inflight.Completed(b.result)
}

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []cache.Fingerprint
}

func (r *recordingInvalidator) Invalidate(table, column, identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, cache.ColumnKey(table, column, identity))
	return true
}

func TestTypedGetters(t *testing.T) {
	b := newFakeBackend()
	b.values["players.credit.alice"] = "42"
	b.values["players.ratio.alice"] = "0.75"
	b.values["players.vip.alice"] = "yes"
	b.values["players.joined.alice"] = "2024-03-05 10:30:00"
	c := New(b, nil, Config{})
	ctx := context.Background()

	n, ok, err := c.GetInt(ctx, "players", "credit", "alice")
	if err != nil || !ok || n != 42 {
		t.Fatalf("GetInt = %d, %v, %v", n, ok, err)
	}
	f, ok, err := c.GetFloat(ctx, "players", "ratio", "alice")
	if err != nil || !ok || f != 0.75 {
		t.Fatalf("GetFloat = %v, %v, %v", f, ok, err)
	}
	v, ok, err := c.GetBool(ctx, "players", "vip", "alice")
	if err != nil || !ok || !v {
		t.Fatalf("GetBool = %v, %v, %v", v, ok, err)
	}
	ts, ok, err := c.GetTime(ctx, "players", "joined", "alice")
	if err != nil || !ok {
		t.Fatalf("GetTime: %v, %v", ok, err)
	}
	if want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC); !ts.Equal(want) {
		t.Fatalf("GetTime = %v, want %v", ts, want)
	}
}

func TestGetInt_AbsentAndMalformed(t *testing.T) {
	b := newFakeBackend()
	b.values["players.credit.bob"] = "lots"
	c := New(b, nil, Config{})

	if _, ok, err := c.GetInt(context.Background(), "players", "credit", "nobody"); ok || err != nil {
		t.Fatalf("absent value: ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.GetInt(context.Background(), "players", "credit", "bob"); ok || !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("malformed value: ok=%v err=%v", ok, err)
	}
}

func TestParseHelpers(t *testing.T) {
	if n, err := ParseInt(" 12.9 "); err != nil || n != 12 {
		t.Fatalf("ParseInt(12.9) = %d, %v", n, err)
	}
	if _, err := ParseInt("NaN"); err == nil {
		t.Fatal("ParseInt(NaN) should fail")
	}
	// 2^63 rounds to the float64 value of MaxInt64 and must not wrap.
	for _, in := range []string{"9223372036854775808", "9.3e18", "-9.3e18"} {
		if _, err := ParseInt(in); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("ParseInt(%s) should be out of range, got %v", in, err)
		}
	}
	if n, err := ParseInt("9223372036854775807"); err != nil || n != math.MaxInt64 {
		t.Fatalf("ParseInt(MaxInt64) = %d, %v", n, err)
	}
	for in, want := range map[string]bool{"1": true, "TRUE": true, "off": false, "no": false} {
		got, err := ParseBool(in)
		if err != nil || got != want {
			t.Fatalf("ParseBool(%q) = %v, %v", in, got, err)
		}
	}

	cases := map[string]time.Time{
		"2024-03-05":              time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"05/03/2024":              time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		"12/25/2024":              time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC),
		"2024-03-05T10:30:00.000": time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		"2024-03-05T10:30:00Z":    time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTime(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseTime(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseTime("yesterday"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestGetStringBatch(t *testing.T) {
	b := newFakeBackend()
	b.values["players.credit.alice"] = "1"
	b.values["players.credit.bob"] = "2"
	c := New(b, nil, Config{BatchParallel: 2})

	got, err := c.GetStringBatch(context.Background(), "players", "credit", []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("GetStringBatch: %v", err)
	}
	if len(got) != 2 || got["alice"] != "1" || got["bob"] != "2" {
		t.Fatalf("unexpected batch result %v", got)
	}
	if b.fetches.Load() != 3 {
		t.Fatalf("expected 3 fetches, got %d", b.fetches.Load())
	}

	b.fail["carol"] = query.ErrQueryFailed
	if _, err := c.GetStringBatch(context.Background(), "players", "credit", []string{"alice", "carol"}); !errors.Is(err, query.ErrQueryFailed) {
		t.Fatalf("expected ErrQueryFailed, got %v", err)
	}
}

func TestUpdateValue_InvalidatesColumnAndRow(t *testing.T) {
	b := newFakeBackend()
	inv := &recordingInvalidator{}
	c := New(b, inv, Config{IdentityColumn: "uuid"})

	changed, err := c.UpdateValue(context.Background(), "players", "credit", "alice", 50)
	if err != nil || !changed {
		t.Fatalf("UpdateValue = %v, %v", changed, err)
	}
	if want := `UPDATE "players" SET "credit" = $1 WHERE "uuid" = $2`; b.updates[0] != want {
		t.Fatalf("unexpected SQL %q", b.updates[0])
	}
	if b.args[0][0] != 50 || b.args[0][1] != "alice" {
		t.Fatalf("unexpected args %v", b.args[0])
	}
	if len(inv.keys) != 2 || inv.keys[0] != cache.ColumnKey("players", "credit", "alice") || !inv.keys[1].IsRow() {
		t.Fatalf("unexpected invalidations %v", inv.keys)
	}
}

func TestUpdateValue_FoldsIdentifierCase(t *testing.T) {
	b := newFakeBackend()
	inv := &recordingInvalidator{}
	c := New(b, inv, Config{IdentityColumn: "UUID"})

	if _, err := c.IncrementValue(context.Background(), "Players", "Credit", "alice", 1); err != nil {
		t.Fatalf("IncrementValue: %v", err)
	}
	if want := `UPDATE "players" SET "credit" = "credit" + $1 WHERE "uuid" = $2`; b.updates[0] != want {
		t.Fatalf("unexpected SQL %q", b.updates[0])
	}
	if inv.keys[0] != cache.ColumnKey("players", "credit", "alice") {
		t.Fatalf("invalidation must use folded names, got %v", inv.keys[0])
	}
}

func TestIncrementValue_NoRowSkipsInvalidation(t *testing.T) {
	b := newFakeBackend()
	b.affected = 0
	inv := &recordingInvalidator{}
	c := New(b, inv, Config{})

	changed, err := c.IncrementValue(context.Background(), "players", "credit", "ghost", 5)
	if err != nil || changed {
		t.Fatalf("IncrementValue = %v, %v", changed, err)
	}
	if !strings.Contains(b.updates[0], `"credit" = "credit" + $1`) {
		t.Fatalf("unexpected SQL %q", b.updates[0])
	}
	if len(inv.keys) != 0 {
		t.Fatalf("expected no invalidation, got %v", inv.keys)
	}

	b.updErr = query.ErrConnectionUnavailable
	if _, err := c.IncrementValue(context.Background(), "players", "credit", "ghost", 5); !errors.Is(err, query.ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
}

func TestUpdateValue_RejectsBadIdentifier(t *testing.T) {
	b := newFakeBackend()
	c := New(b, nil, Config{})
	if _, err := c.UpdateValue(context.Background(), "players; DROP", "credit", "alice", 1); !errors.Is(err, query.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
	if len(b.updates) != 0 {
		t.Fatal("no statement should be issued")
	}
}

func TestTopPlayers(t *testing.T) {
	b := newFakeBackend()
	b.result = `[{"player":"carol","value":90},{"player":"alice","value":"42"},{"player":"bob","value":null}]`
	c := New(b, nil, Config{})

	top, err := c.TopPlayers(context.Background(), "players", "credit", 3)
	if err != nil {
		t.Fatalf("TopPlayers: %v", err)
	}
	if len(top) != 2 || top[0] != (Ranked{"carol", 90}) || top[1] != (Ranked{"alice", 42}) {
		t.Fatalf("unexpected ranking %v", top)
	}
	if !strings.Contains(b.queries[0], `ORDER BY "credit" DESC`) {
		t.Fatalf("unexpected SQL %q", b.queries[0])
	}
}

func TestPlayerLists(t *testing.T) {
	b := newFakeBackend()
	b.result = `[{"player":"alice"},{"player":"alina"}]`
	c := New(b, nil, Config{})
	ctx := context.Background()

	got, err := c.PlayersWhere(ctx, "players", "name", MatchPrefix, "Al")
	if err != nil || len(got) != 2 || got[0] != "alice" {
		t.Fatalf("PlayersWhere = %v, %v", got, err)
	}
	if _, err := c.PlayersBetween(ctx, "players", "credit", 10, 20); err != nil {
		t.Fatalf("PlayersBetween: %v", err)
	}
	if _, err := c.PlayersOrderedBy(ctx, "players", "credit", true, 5); err != nil {
		t.Fatalf("PlayersOrderedBy: %v", err)
	}
	if !strings.Contains(b.queries[2], "ASC LIMIT $1") {
		t.Fatalf("unexpected SQL %q", b.queries[2])
	}
	if got := escapeLike("50%_off"); got != `50\%\_off` {
		t.Fatalf("escapeLike = %q", got)
	}
}
