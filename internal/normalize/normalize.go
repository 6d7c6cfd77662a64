// Package normalize prepares raw manifest tables for writing into a target
// table: projection onto the schema's columns, primary key enforcement and
// deduplication by key.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/table"
)

// MissingPrimaryKeyError is returned when none of the input tables carry the
// target schema's primary key column. Without the key the rows cannot be
// identified and the table cannot be synchronized.
type MissingPrimaryKeyError struct {
	Table      string
	PrimaryKey string
	Columns    []string
}

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf(
		"source table for %q is missing primary key %q; columns present: %s",
		e.Table, e.PrimaryKey, strings.Join(e.Columns, ", "),
	)
}

// ValueError is returned when a source value cannot be represented in its
// column's declared datatype.
type ValueError struct {
	Table    string
	Column   string
	Datatype schema.ColumnDatatype
	Value    any
}

func (e *ValueError) Error() string {
	return fmt.Sprintf(
		"value %v in column %q of table %q cannot be read as %s",
		e.Value, e.Column, e.Table, e.Datatype,
	)
}

// Normalize concatenates the raw tables in the supplied order, projects the
// result down to the intersection of input and schema columns, coerces every
// value to its column's declared datatype, then deduplicates rows by primary
// key keeping the first occurrence. Earlier tables therefore win ties, which
// is why callers must pass manifests in discovery order. Output columns
// follow schema order; row index is dense and zero based. Pure and
// idempotent.
//
// Coercion is what makes a CSV-sourced run idempotent against a typed
// backend: the source hands every value over as a string, the backend hands
// the same value back as int64/float64/bool, and without one canonical form
// per column every re-run would classify unchanged rows as updates.
func Normalize(raws []table.Table, target schema.TableSchema) (table.Table, error) {
	inputColumns := make(map[string]bool)
	for _, raw := range raws {
		for _, c := range raw.Columns {
			inputColumns[c] = true
		}
	}

	// intersection, in schema column order
	var columns []string
	for _, c := range target.ColumnNames() {
		if inputColumns[c] {
			columns = append(columns, c)
		}
	}

	primaryKey := target.PrimaryKey()
	if !contains(columns, primaryKey) {
		return table.Table{}, &MissingPrimaryKeyError{
			Table:      target.Name(),
			PrimaryKey: primaryKey,
			Columns:    sortedKeys(inputColumns),
		}
	}

	datatypes := make(map[string]schema.ColumnDatatype, len(columns))
	for _, c := range target.Columns() {
		datatypes[c.Name] = c.Datatype
	}

	out := table.New(columns...)
	seen := make(map[string]bool)
	for _, raw := range raws {
		for _, row := range raw.Rows {
			key := table.Key(row[primaryKey])
			if seen[key] {
				continue
			}
			seen[key] = true

			projected := make(table.Row, len(columns))
			for _, c := range columns {
				v, ok := coerce(row[c], datatypes[c])
				if !ok {
					return table.Table{}, &ValueError{
						Table:    target.Name(),
						Column:   c,
						Datatype: datatypes[c],
						Value:    row[c],
					}
				}
				projected[c] = v
			}
			out.Append(projected)
		}
	}
	return out, nil
}

// coerce converts a raw value to the canonical Go form of its column
// datatype: Int as int64, Float as float64, Boolean as bool, Text and Date
// as string. Empty strings in non-text columns read as absent, matching how
// CSV represents missing cells.
func coerce(v any, datatype schema.ColumnDatatype) (any, bool) {
	if v == nil {
		return nil, true
	}
	v = table.Normalize(v)

	if s, ok := v.(string); ok && datatype != schema.Text {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, true
		}
		v = s
	}

	switch datatype {
	case schema.Int:
		switch x := v.(type) {
		case int64:
			return x, true
		case float64:
			if x == math.Trunc(x) {
				return int64(x), true
			}
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n, true
			}
		}
		return nil, false
	case schema.Float:
		switch x := v.(type) {
		case float64:
			return x, true
		case int64:
			return float64(x), true
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
		return nil, false
	case schema.Boolean:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			if x == 0 || x == 1 {
				return x == 1, true
			}
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b, true
			}
		}
		return nil, false
	case schema.Date:
		switch x := v.(type) {
		case time.Time:
			return x.Format("2006-01-02"), true
		case string:
			return x, true
		}
		return nil, false
	default:
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprint(v), true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]bool) []string {
	t := table.Table{Columns: make([]string, 0, len(set))}
	for k := range set {
		t.Columns = append(t.Columns, k)
	}
	return t.SortedColumns()
}
