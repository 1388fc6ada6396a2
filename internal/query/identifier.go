package query

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// ValidIdentifier reports whether name can be used as a table or column.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !ValidIdentifier(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

func checkIdentity(identity string) error {
	if identity == "" || strings.IndexByte(identity, 0) >= 0 {
		return fmt.Errorf("%w: identity %q", ErrInvalidIdentifier, identity)
	}
	return nil
}

// FoldIdentifier lower-cases a validated identifier. PostgreSQL folds
// unquoted names the same way, so "Credit" and "credit" name one column and
// share one cache entry.
func FoldIdentifier(name string) string {
	return strings.ToLower(name)
}

// QuoteIdentifier folds and double-quotes a validated identifier.
func QuoteIdentifier(name string) string {
	return `"` + FoldIdentifier(name) + `"`
}

func quote(name string) string { return QuoteIdentifier(name) }
