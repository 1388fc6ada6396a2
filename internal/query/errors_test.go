package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aysihuniks/nhook/internal/db"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("scan: %w", context.DeadlineExceeded), ErrTimeout},
		{"pool closed", db.ErrPoolClosed, ErrConnectionUnavailable},
		{"syntax", errors.New(`syntax error at or near "FROM"`), ErrQueryFailed},
		{"already classified", fmt.Errorf("%w: open", ErrConnectionUnavailable), ErrConnectionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestValidIdentifier(t *testing.T) {
	valid := []string{"players", "credit_score", "A1", "x"}
	invalid := []string{"", "credit-score", "players.credit", `a"b`, "名前",
		"a123456789012345678901234567890123456789012345678901234567890123456"}
	for _, s := range valid {
		if !ValidIdentifier(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if ValidIdentifier(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}
