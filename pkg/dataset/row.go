package dataset

import (
	"fmt"
	"math"
)

// Row is a view of one row of a Table. Column names are matched without
// regard to case.
type Row struct {
	table *Table
	index int
}

// Index returns the row number.
func (r Row) Index() int { return r.index }

// Get returns the cell of the named column, or nil when the column is
// missing or the cell is null.
func (r Row) Get(name string) any {
	v, _ := r.Lookup(name)
	return v
}

// Lookup returns the cell of the named column and whether it is non-null.
func (r Row) Lookup(name string) (any, bool) {
	c, ok := r.table.Lookup(name)
	if !ok || c.IsNull(r.index) {
		return nil, false
	}
	return c.Value(r.index), true
}

// IsNull reports whether the named cell is null or missing.
func (r Row) IsNull(name string) bool {
	_, ok := r.Lookup(name)
	return !ok
}

// Values returns every cell of the row in column order.
func (r Row) Values() []any {
	out := make([]any, len(r.table.columns))
	for i, c := range r.table.columns {
		out[i] = c.Value(r.index)
	}
	return out
}

// Text returns the named cell as a string.
func (r Row) Text(name string) (string, bool) {
	v, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Int64 returns the named cell widened to int64. Unsigned values above
// math.MaxInt64 and non-integer cells report false.
func (r Row) Int64(name string) (int64, bool) {
	v, ok := r.Lookup(name)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Float64 returns the named cell as a float64. Integer cells are converted.
func (r Row) Float64(name string) (float64, bool) {
	v, ok := r.Lookup(name)
	if !ok {
		return 0, false
	}
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// Bool returns the named cell as a bool.
func (r Row) Bool(name string) (bool, bool) {
	v, ok := r.Lookup(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
