// Package table holds the in-memory tabular value type the sync pipeline
// passes between manifest sources, the normalizer, the upsert engine and the
// database backends.
package table

import (
	"fmt"
	"sort"
)

// Row maps column names to values. Missing columns are represented by nil.
type Row map[string]any

func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of columns plus zero or more rows. Row order is
// significant; the normalizer guarantees a dense zero-based index.
type Table struct {
	Columns []string
	Rows    []Row
}

func New(columns ...string) Table {
	return Table{Columns: append([]string{}, columns...)}
}

func (t Table) NumRows() int {
	return len(t.Rows)
}

func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds a row. Values for columns the table does not declare are kept
// in the row but ignored by Project and comparisons.
func (t *Table) Append(row Row) {
	t.Rows = append(t.Rows, row)
}

// Project returns a new table restricted to the given columns in the given
// order. Columns absent from a row yield nil values; columns are never
// invented in the column list itself.
func (t Table) Project(columns []string) Table {
	out := New(columns...)
	for _, row := range t.Rows {
		projected := make(Row, len(columns))
		for _, c := range columns {
			if v, ok := row[c]; ok {
				projected[c] = v
			} else {
				projected[c] = nil
			}
		}
		out.Rows = append(out.Rows, projected)
	}
	return out
}

// Key renders a primary key value into its canonical string form, so rows
// keyed by "1" (text) and 1 (int) from different backends compare equal.
func Key(v any) string {
	return fmt.Sprintf("%v", Normalize(v))
}

// Keyed indexes the rows by the canonical form of the primary key column,
// preserving first-seen key order.
func (t Table) Keyed(primaryKey string) (map[string]Row, []string) {
	rows := make(map[string]Row, len(t.Rows))
	var order []string
	for _, row := range t.Rows {
		k := Key(row[primaryKey])
		if _, seen := rows[k]; !seen {
			order = append(order, k)
		}
		rows[k] = row
	}
	return rows, order
}

// Normalize collapses the scalar representations different backends produce
// for the same value, so diffing is driver independent.
func Normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

// EqualValues compares two scalars after normalization.
func EqualValues(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nil || nb == nil {
		return na == nb
	}
	if na == nb {
		return true
	}
	// int64 vs float64 from mixed numeric column representations, and bools
	// read back as 0/1 by engines without a native boolean type
	if fa, ok := asFloat(na); ok {
		if fb, ok := asFloat(nb); ok {
			return fa == fb
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// RowsEqual reports whether two rows agree on every listed column.
func RowsEqual(a, b Row, columns []string) bool {
	for _, c := range columns {
		if !EqualValues(a[c], b[c]) {
			return false
		}
	}
	return true
}

// SortedColumns returns the table's column names sorted, for deterministic
// reporting.
func (t Table) SortedColumns() []string {
	out := append([]string{}, t.Columns...)
	sort.Strings(out)
	return out
}
