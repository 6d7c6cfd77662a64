package rdb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/relsync/relsync/internal/depgraph"
	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/pkg/logger"
)

// dialect captures what differs between the SQL engines: identifier quoting,
// placeholders, type mapping, the native upsert statement and schema
// introspection.
type dialect interface {
	Quote(ident string) string
	Placeholder(n int) string
	ColumnType(c schema.ColumnSchema, isKey bool) string
	UpsertSQL(tableName string, columns []string, primaryKey string) string
	TableNamesSQL() string
	IntrospectTable(ctx context.Context, db *sqlx.DB, name string) (schema.TableSchema, error)
}

// SQLDatabase implements RelationalDatabase for any engine with a dialect.
type SQLDatabase struct {
	db      *sqlx.DB
	dialect dialect
	log     *logger.Logger
}

func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

func (s *SQLDatabase) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.TableNamesSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *SQLDatabase) TableSchema(ctx context.Context, name string) (schema.TableSchema, error) {
	ts, err := s.dialect.IntrospectTable(ctx, s.db, name)
	if err != nil {
		return schema.TableSchema{}, &TableError{Table: name, Op: "introspect", Err: err}
	}
	return ts, nil
}

func (s *SQLDatabase) AddTable(ctx context.Context, ts schema.TableSchema) error {
	stmt := s.createTableSQL(ts)
	s.log.Debugf("Creating table: %s", stmt)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return &TableError{Table: ts.Name(), Op: "add table", Err: err}
	}

	for _, c := range ts.Columns() {
		if !c.Index || c.Name == ts.PrimaryKey() {
			continue
		}
		indexSQL := fmt.Sprintf(
			"CREATE INDEX %s ON %s (%s)",
			s.dialect.Quote(fmt.Sprintf("idx_%s_%s", ts.Name(), c.Name)),
			s.dialect.Quote(ts.Name()),
			s.dialect.Quote(c.Name),
		)
		s.log.Debugf("Creating index: %s", indexSQL)
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			s.log.Warnf("Failed to create index on %s.%s: %v", ts.Name(), c.Name, err)
		}
	}
	return nil
}

func (s *SQLDatabase) createTableSQL(ts schema.TableSchema) string {
	primaryKey := ts.PrimaryKey()
	foreignKeyNames := ts.ForeignKeyNames()

	var defs []string
	for _, c := range ts.Columns() {
		isKey := c.Name == primaryKey || contains(foreignKeyNames, c.Name)
		def := fmt.Sprintf("%s %s", s.dialect.Quote(c.Name), s.dialect.ColumnType(c, isKey))
		if c.Required && c.Name != primaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", s.dialect.Quote(primaryKey)))
	for _, key := range ts.ForeignKeys() {
		defs = append(defs, fmt.Sprintf(
			"FOREIGN KEY (%s) REFERENCES %s (%s)",
			s.dialect.Quote(key.Name),
			s.dialect.Quote(key.ForeignTableName),
			s.dialect.Quote(key.ForeignColumnName),
		))
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s)",
		s.dialect.Quote(ts.Name()),
		strings.Join(defs, ", "),
	)
}

func (s *SQLDatabase) DropTable(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", s.dialect.Quote(name))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return &TableError{Table: name, Op: "drop table", Err: err}
	}
	return nil
}

func (s *SQLDatabase) DropTableAndDependents(ctx context.Context, name string) error {
	current, err := currentSchema(ctx, s)
	if err != nil {
		return &TableError{Table: name, Op: "drop table and dependents", Err: err}
	}
	for _, t := range dependentsClosure(current, name) {
		if err := s.DropTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLDatabase) DropAllTables(ctx context.Context) error {
	current, err := currentSchema(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to introspect database: %w", err)
	}
	order, err := depgraph.BuildOrder(current)
	if err != nil {
		return err
	}
	// children first
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.DropTable(ctx, order[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLDatabase) QueryTable(ctx context.Context, name string) (table.Table, error) {
	result, err := s.ExecuteQuery(ctx, fmt.Sprintf("SELECT * FROM %s", s.dialect.Quote(name)))
	if err != nil {
		return table.Table{}, &TableError{Table: name, Op: "query table", Err: err}
	}
	return result, nil
}

func (s *SQLDatabase) ExecuteQuery(ctx context.Context, query string) (table.Table, error) {
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return table.Table{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sqlx.Rows) (table.Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return table.Table{}, fmt.Errorf("failed to fetch column metadata: %w", err)
	}

	out := table.New(columns...)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return table.Table{}, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(table.Row, len(columns))
		for i, c := range columns {
			row[c] = table.Normalize(values[i])
		}
		out.Append(row)
	}
	if err := rows.Err(); err != nil {
		return table.Table{}, err
	}
	return out, nil
}

func (s *SQLDatabase) InsertRows(ctx context.Context, name string, rows table.Table) error {
	if rows.NumRows() == 0 {
		return nil
	}
	stmt := s.insertSQL(name, rows.Columns)
	if err := s.execPerRow(ctx, name, "insert rows", stmt, rows); err != nil {
		return err
	}
	return nil
}

func (s *SQLDatabase) insertSQL(name string, columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.Quote(c)
		placeholders[i] = s.dialect.Placeholder(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
}

func (s *SQLDatabase) UpsertRows(ctx context.Context, name string, rows table.Table) error {
	if rows.NumRows() == 0 {
		return nil
	}
	ts, err := s.TableSchema(ctx, name)
	if err != nil {
		return err
	}
	stmt := s.dialect.UpsertSQL(name, rows.Columns, ts.PrimaryKey())
	s.log.Debugf("Upserting %d rows: %s", rows.NumRows(), stmt)
	return s.execPerRow(ctx, name, "upsert rows", stmt, rows)
}

// execPerRow runs one prepared statement per row inside a transaction, so a
// failed batch leaves the table untouched.
func (s *SQLDatabase) execPerRow(ctx context.Context, name, op, stmt string, rows table.Table) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &TableError{Table: name, Op: op, Err: err}
	}
	defer tx.Rollback()

	prepared, err := tx.PreparexContext(ctx, stmt)
	if err != nil {
		return &TableError{Table: name, Op: op, Err: err}
	}
	defer prepared.Close()

	for _, row := range rows.Rows {
		values := make([]any, len(rows.Columns))
		for i, c := range rows.Columns {
			values[i] = row[c]
		}
		if _, err := prepared.ExecContext(ctx, values...); err != nil {
			return &TableError{Table: name, Op: op, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &TableError{Table: name, Op: op, Err: err}
	}
	return nil
}

func (s *SQLDatabase) DeleteRows(ctx context.Context, name string, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	ts, err := s.TableSchema(ctx, name)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(keys))
	for i := range keys {
		placeholders[i] = s.dialect.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (%s)",
		s.dialect.Quote(name),
		s.dialect.Quote(ts.PrimaryKey()),
		strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, stmt, keys...); err != nil {
		return &TableError{Table: name, Op: "delete rows", Err: err}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// genericDatatype maps an engine-reported type back onto the generic model.
func genericDatatype(sqlType string) schema.ColumnDatatype {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "bool") || t == "tinyint(1)":
		return schema.Boolean
	case strings.Contains(t, "int"):
		return schema.Int
	case strings.Contains(t, "double") || strings.Contains(t, "real") ||
		strings.Contains(t, "float") || strings.Contains(t, "numeric") ||
		strings.Contains(t, "decimal"):
		return schema.Float
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return schema.Date
	default:
		return schema.Text
	}
}
