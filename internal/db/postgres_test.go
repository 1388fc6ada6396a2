package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// newTestPool connects to the database named by NHOOK_TEST_PG_DSN.
// Tests that need a running Postgres are skipped when it is not set.
func newTestPool(t *testing.T) *PostgresPool {
	t.Helper()
	dsn := os.Getenv("NHOOK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("NHOOK_TEST_PG_DSN not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := NewPostgresPool(ctx, PostgresConfig{
		DSN:            dsn,
		MaxConns:       4,
		ConnectTimeout: 2 * time.Second,
		AcquireTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Postgres not available, skipping: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPostgresPool_QueryAndTx(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `CREATE TEMP TABLE nhook_pool_test (player TEXT PRIMARY KEY, credit INT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	n, err := tx.Exec(ctx, `INSERT INTO nhook_pool_test VALUES ($1, $2), ($3, $4)`, "alice", 42, "bob", 7)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows affected, got %d", n)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit should be a no-op, got %v", err)
	}

	rows, err := conn.Query(ctx, `SELECT player, credit FROM nhook_pool_test ORDER BY player`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()
	cols := rows.Columns()
	if len(cols) != 2 || cols[0] != "player" || cols[1] != "credit" {
		t.Fatalf("unexpected columns %v", cols)
	}
	count := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			t.Fatalf("Values failed: %v", err)
		}
		if len(vals) != 2 {
			t.Fatalf("expected 2 values, got %d", len(vals))
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var credit int
	err = conn.QueryRow(ctx, `SELECT credit FROM nhook_pool_test WHERE player = $1`, "nobody").Scan(&credit)
	if !IsNoRows(err) {
		t.Fatalf("expected no rows, got %v", err)
	}
}

func TestPostgresPool_ClosedPoolIsUnavailable(t *testing.T) {
	p := newTestPool(t)
	p.Close()
	if p.Available() {
		t.Fatal("closed pool should report unavailable")
	}
	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	if !IsConnectionError(err) {
		t.Fatal("ErrPoolClosed should classify as a connection error")
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pool closed", fmt.Errorf("acquire: %w", ErrPoolClosed), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Fatalf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
