// Package upsert computes the backend-agnostic merge partition between the
// current keyed state of a table and an incoming set of rows. The contract is
// fixed here; backends only differ in how they apply it.
package upsert

import (
	"fmt"

	"github.com/relsync/relsync/internal/table"
)

// DuplicateKeyError is returned when the incoming rows repeat a primary key.
// Incoming rows must already be normalized.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("incoming rows contain duplicate primary key: %s", e.Key)
}

// Plan partitions the incoming rows. Rows present in the existing table but
// absent from the incoming set do not appear anywhere: an upsert never
// deletes.
type Plan struct {
	Inserts   table.Table
	Updates   table.Table
	Unchanged table.Table
}

func (p Plan) Empty() bool {
	return p.Inserts.NumRows() == 0 && p.Updates.NumRows() == 0
}

// Partition diffs the incoming rows against the existing rows keyed by the
// primary key column. An incoming key absent from the existing table is an
// insert; a present key with differing non-key values is an update; an
// identical row is a no-op. Comparison covers the incoming table's columns,
// the only values an upsert would write.
func Partition(existing, incoming table.Table, primaryKey string) (Plan, error) {
	existingRows, _ := existing.Keyed(primaryKey)

	plan := Plan{
		Inserts:   table.New(incoming.Columns...),
		Updates:   table.New(incoming.Columns...),
		Unchanged: table.New(incoming.Columns...),
	}

	seen := make(map[string]bool, incoming.NumRows())
	for _, row := range incoming.Rows {
		key := table.Key(row[primaryKey])
		if seen[key] {
			return Plan{}, &DuplicateKeyError{Key: key}
		}
		seen[key] = true

		current, exists := existingRows[key]
		switch {
		case !exists:
			plan.Inserts.Append(row)
		case table.RowsEqual(current, row, incoming.Columns):
			plan.Unchanged.Append(row)
		default:
			plan.Updates.Append(row)
		}
	}
	return plan, nil
}
