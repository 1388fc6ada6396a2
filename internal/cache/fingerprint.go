package cache

import "strings"

// WholeRow is the column of fingerprints that cache an entire row.
const WholeRow = "*"

// Fingerprint identifies one cached lookup. It is a comparable struct and is
// used directly as a map key, so distinct lookups never share a key.
type Fingerprint struct {
	Table    string
	Column   string
	Identity string
}

// ColumnKey returns the fingerprint of a single-column lookup.
func ColumnKey(table, column, identity string) Fingerprint {
	return Fingerprint{Table: table, Column: column, Identity: identity}
}

// RowKey returns the fingerprint of a whole-row lookup.
func RowKey(table, identity string) Fingerprint {
	return Fingerprint{Table: table, Column: WholeRow, Identity: identity}
}

// IsRow reports whether f caches a whole row.
func (f Fingerprint) IsRow() bool { return f.Column == WholeRow }

// String renders table, column and identity separated by NUL bytes, the
// same separator the metadata cache keys use. Identities containing NUL are
// rejected before a fingerprint is built.
func (f Fingerprint) String() string {
	var b strings.Builder
	b.Grow(len(f.Table) + len(f.Column) + len(f.Identity) + 2)
	b.WriteString(f.Table)
	b.WriteByte(0)
	b.WriteString(f.Column)
	b.WriteByte(0)
	b.WriteString(f.Identity)
	return b.String()
}

// LogValue is a readable form for log lines.
func (f Fingerprint) LogValue() string {
	return f.Table + "." + f.Column + "[" + f.Identity + "]"
}
