// Package rowcodec turns result rows into ordered JSON objects.
//
// A row keeps the select order of its columns, and every value is reduced to
// a JSON scalar: string, number, boolean or null. Encoding the same row twice
// yields the same string, so encoded rows can be cached and compared.
package rowcodec

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// TimeLayout is used for timestamp columns.
const TimeLayout = time.RFC3339Nano

// Row is an ordered mapping of column name to scalar.
type Row struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewRow builds a row from parallel column and value slices. Values are
// normalized with Scalar. Duplicate column names keep the first position and
// the last value.
func NewRow(columns []string, values []any) (*Row, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("rowcodec: %d columns but %d values", len(columns), len(values))
	}
	r := &Row{m: orderedmap.New[string, any](orderedmap.WithCapacity[string, any](len(columns)))}
	for i, col := range columns {
		r.m.Set(col, Scalar(values[i]))
	}
	return r, nil
}

// Len returns the number of columns.
func (r *Row) Len() int { return r.m.Len() }

// Columns returns the column names in order.
func (r *Row) Columns() []string {
	cols := make([]string, 0, r.m.Len())
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		cols = append(cols, pair.Key)
	}
	return cols
}

// Get returns the normalized value of a column.
func (r *Row) Get(column string) (any, bool) {
	return r.m.Get(column)
}

// Encode serializes the row as a JSON object in column order.
func (r *Row) Encode() (string, error) {
	data, err := json.Marshal(r.m)
	if err != nil {
		return "", fmt.Errorf("rowcodec: encode row: %w", err)
	}
	return string(data), nil
}

// EncodeRows serializes rows as a JSON array of objects.
func EncodeRows(rows []*Row) (string, error) {
	ms := make([]*orderedmap.OrderedMap[string, any], len(rows))
	for i, r := range rows {
		ms[i] = r.m
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return "", fmt.Errorf("rowcodec: encode rows: %w", err)
	}
	return string(data), nil
}

// Scalar reduces a driver value to a JSON-compatible scalar. Numbers keep
// their numeric type, byte slices become strings and times use TimeLayout.
// UUIDs use their canonical text. Maps, slices and arrays (json, jsonb and
// array columns) become their JSON text.
func Scalar(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case bool:
		return val
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case *big.Int:
		if val == nil {
			return nil
		}
		return json.Number(val.String())
	case json.Number:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(TimeLayout)
	case time.Duration:
		return val.String()
	case [16]byte:
		return uuid.UUID(val).String()
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil || inner == nil {
			return nil
		}
		if s, ok := inner.(string); ok {
			// numeric types such as pgtype.Numeric report their decimal text,
			// or NaN and Infinity which are not JSON numbers
			if json.Valid([]byte(s)) {
				if _, err := strconv.ParseFloat(s, 64); err == nil {
					return json.Number(s)
				}
			}
			return s
		}
		if _, same := inner.(driver.Valuer); same {
			return fmt.Sprint(inner)
		}
		return Scalar(inner)
	case fmt.Stringer:
		return val.String()
	default:
		switch reflect.ValueOf(val).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array:
			if data, err := json.Marshal(val); err == nil {
				return string(data)
			}
		}
		return fmt.Sprint(val)
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// Text renders a single column value the way it is shown to callers.
// ok is false for SQL NULL.
func Text(v any) (string, bool) {
	s := Scalar(v)
	switch val := s.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}
