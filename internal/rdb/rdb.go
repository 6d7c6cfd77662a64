// Package rdb defines the backend interface the sync orchestration writes
// through, plus the concrete adapters for PostgreSQL, MySQL, SQLite and a
// MongoDB document store.
package rdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/table"
)

// ErrUnsupportedQuery is returned by backends without a SQL surface.
var ErrUnsupportedQuery = errors.New("backend does not support SQL queries")

// TableError wraps a backend failure with the implicated table and
// operation.
type TableError struct {
	Table string
	Op    string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s failed for table %q: %v", e.Op, e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// RelationalDatabase is the capability set every backend must provide. All
// methods are synchronous; ordering across tables is the orchestrator's job.
type RelationalDatabase interface {
	TableNames(ctx context.Context) ([]string, error)
	TableSchema(ctx context.Context, name string) (schema.TableSchema, error)
	AddTable(ctx context.Context, ts schema.TableSchema) error
	DropTable(ctx context.Context, name string) error
	DropTableAndDependents(ctx context.Context, name string) error
	DropAllTables(ctx context.Context) error
	QueryTable(ctx context.Context, name string) (table.Table, error)
	InsertRows(ctx context.Context, name string, rows table.Table) error
	UpsertRows(ctx context.Context, name string, rows table.Table) error
	DeleteRows(ctx context.Context, name string, keys []any) error
	ExecuteQuery(ctx context.Context, query string) (table.Table, error)
	Close() error
}

// currentSchema introspects every table, used by the cascade drop helpers.
func currentSchema(ctx context.Context, db RelationalDatabase) (schema.DatabaseSchema, error) {
	names, err := db.TableNames(ctx)
	if err != nil {
		return schema.DatabaseSchema{}, err
	}
	tables := make([]schema.TableSchema, 0, len(names))
	for _, name := range names {
		ts, err := db.TableSchema(ctx, name)
		if err != nil {
			return schema.DatabaseSchema{}, err
		}
		tables = append(tables, ts)
	}
	return schema.NewDatabaseSchema(tables)
}

// dependentsClosure returns the reverse-dependency closure of name, children
// before parents, ending with name itself. Dropping in this order never
// leaves a dangling foreign key.
func dependentsClosure(db schema.DatabaseSchema, name string) []string {
	var order []string
	visited := make(map[string]bool)
	var visit func(string)
	visit = func(t string) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, child := range db.ReverseDependencies(t) {
			visit(child)
		}
		order = append(order, t)
	}
	visit(name)
	return order
}
