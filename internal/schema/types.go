// Package schema defines the dialect-agnostic description of database tables
// and the validation rules every backend relies on. Values are constructed
// through NewTableSchema and NewDatabaseSchema and are immutable afterwards;
// an invalid schema is never observable.
package schema

import (
	"fmt"
	"sort"
)

// ColumnDatatype is a generic datatype every supported backend can express.
type ColumnDatatype string

const (
	Text    ColumnDatatype = "text"
	Date    ColumnDatatype = "date"
	Int     ColumnDatatype = "int"
	Float   ColumnDatatype = "float"
	Boolean ColumnDatatype = "boolean"
)

// ParseDatatype converts the string form used in schema files.
func ParseDatatype(s string) (ColumnDatatype, error) {
	switch ColumnDatatype(s) {
	case Text, Date, Int, Float, Boolean:
		return ColumnDatatype(s), nil
	default:
		return "", fmt.Errorf("unknown column datatype: %q", s)
	}
}

// ColumnSchema describes one table column.
type ColumnSchema struct {
	Name     string
	Datatype ColumnDatatype
	Required bool
	Index    bool
}

// Equivalent ignores the Index hint, which is a physical concern and not part
// of the logical schema identity.
func (c ColumnSchema) Equivalent(other ColumnSchema) bool {
	return c.Name == other.Name &&
		c.Datatype == other.Datatype &&
		c.Required == other.Required
}

// ForeignKeySchema describes a column referencing another table's column.
type ForeignKeySchema struct {
	Name              string
	ForeignTableName  string
	ForeignColumnName string
}

// TableSchema is a validated, immutable description of one table. Columns and
// foreign keys are kept sorted by name so comparisons are order independent.
type TableSchema struct {
	name        string
	columns     []ColumnSchema
	primaryKey  string
	foreignKeys []ForeignKeySchema
}

// NewTableSchema validates and builds a TableSchema. It fails when the column
// set is empty or duplicated, the primary key is missing from the columns, a
// foreign key column is missing, or a foreign key references its own table.
func NewTableSchema(
	name string,
	columns []ColumnSchema,
	primaryKey string,
	foreignKeys []ForeignKeySchema,
) (TableSchema, error) {
	cols := append([]ColumnSchema{}, columns...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	keys := append([]ForeignKeySchema{}, foreignKeys...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })

	t := TableSchema{
		name:        name,
		columns:     cols,
		primaryKey:  primaryKey,
		foreignKeys: keys,
	}

	if len(cols) == 0 {
		return TableSchema{}, &TableColumnError{Message: "there are no columns", Table: name}
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return TableSchema{}, &TableColumnError{Message: "there are duplicate columns", Table: name}
		}
		seen[c.Name] = true
	}
	if !seen[primaryKey] {
		return TableSchema{}, &TableKeyError{
			Message: "primary key is missing from columns", Table: name, Key: primaryKey,
		}
	}
	for _, key := range keys {
		if !seen[key.Name] {
			return TableSchema{}, &TableKeyError{
				Message: "foreign key is missing from columns", Table: name, Key: key.Name,
			}
		}
		if key.ForeignTableName == name {
			return TableSchema{}, &TableKeyError{
				Message: "foreign key references its own table", Table: name, Key: key.Name,
			}
		}
	}
	return t, nil
}

func (t TableSchema) Name() string       { return t.name }
func (t TableSchema) PrimaryKey() string { return t.primaryKey }

// Columns returns the columns sorted by name.
func (t TableSchema) Columns() []ColumnSchema {
	return append([]ColumnSchema{}, t.columns...)
}

func (t TableSchema) ForeignKeys() []ForeignKeySchema {
	return append([]ForeignKeySchema{}, t.foreignKeys...)
}

func (t TableSchema) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

func (t TableSchema) ForeignKey(name string) (ForeignKeySchema, bool) {
	for _, k := range t.foreignKeys {
		if k.Name == name {
			return k, true
		}
	}
	return ForeignKeySchema{}, false
}

func (t TableSchema) ForeignKeyNames() []string {
	names := make([]string, len(t.foreignKeys))
	for i, k := range t.foreignKeys {
		names[i] = k.Name
	}
	return names
}

// ForeignKeyDependencies lists the tables this table references.
func (t TableSchema) ForeignKeyDependencies() []string {
	deps := make([]string, len(t.foreignKeys))
	for i, k := range t.foreignKeys {
		deps[i] = k.ForeignTableName
	}
	return deps
}

// Equivalent reports whether two table schemas describe the same logical
// table: same name, primary key and foreign keys, and columns equal except
// for the Index hint. Used for drift checks across runs.
func (t TableSchema) Equivalent(other TableSchema) bool {
	if t.name != other.name || t.primaryKey != other.primaryKey {
		return false
	}
	if len(t.columns) != len(other.columns) || len(t.foreignKeys) != len(other.foreignKeys) {
		return false
	}
	for i := range t.columns {
		if !t.columns[i].Equivalent(other.columns[i]) {
			return false
		}
	}
	for i := range t.foreignKeys {
		if t.foreignKeys[i] != other.foreignKeys[i] {
			return false
		}
	}
	return true
}

// DatabaseSchema is a validated set of table schemas, unique by name, with
// every foreign key resolved against the set.
type DatabaseSchema struct {
	tables []TableSchema
}

// NewDatabaseSchema validates cross-table references atomically: on any
// dangling foreign table or column the whole schema is rejected.
func NewDatabaseSchema(tables []TableSchema) (DatabaseSchema, error) {
	sorted := append([]TableSchema{}, tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	byName := make(map[string]TableSchema, len(sorted))
	for _, t := range sorted {
		if _, dup := byName[t.name]; dup {
			return DatabaseSchema{}, &DuplicateTableError{Table: t.name}
		}
		byName[t.name] = t
	}

	for _, t := range sorted {
		for _, key := range t.foreignKeys {
			foreign, ok := byName[key.ForeignTableName]
			if !ok {
				return DatabaseSchema{}, &MissingForeignTableError{
					ForeignKey:   key.Name,
					Table:        t.name,
					ForeignTable: key.ForeignTableName,
				}
			}
			if _, ok := foreign.Column(key.ForeignColumnName); !ok {
				return DatabaseSchema{}, &MissingForeignColumnError{
					ForeignKey:    key.Name,
					Table:         t.name,
					ForeignTable:  key.ForeignTableName,
					ForeignColumn: key.ForeignColumnName,
				}
			}
		}
	}
	return DatabaseSchema{tables: sorted}, nil
}

// Tables returns the table schemas sorted by name.
func (d DatabaseSchema) Tables() []TableSchema {
	return append([]TableSchema{}, d.tables...)
}

func (d DatabaseSchema) TableNames() []string {
	names := make([]string, len(d.tables))
	for i, t := range d.tables {
		names[i] = t.name
	}
	return names
}

func (d DatabaseSchema) Table(name string) (TableSchema, bool) {
	for _, t := range d.tables {
		if t.name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

// Dependencies lists the tables the named table references.
func (d DatabaseSchema) Dependencies(name string) []string {
	t, ok := d.Table(name)
	if !ok {
		return nil
	}
	return t.ForeignKeyDependencies()
}

// ReverseDependencies lists the tables referencing the named table.
func (d DatabaseSchema) ReverseDependencies(name string) []string {
	var out []string
	for _, t := range d.tables {
		for _, dep := range t.ForeignKeyDependencies() {
			if dep == name {
				out = append(out, t.name)
				break
			}
		}
	}
	return out
}

// Equivalent compares two database schemas table by table, ignoring index
// hints.
func (d DatabaseSchema) Equivalent(other DatabaseSchema) bool {
	if len(d.tables) != len(other.tables) {
		return false
	}
	for i := range d.tables {
		if !d.tables[i].Equivalent(other.tables[i]) {
			return false
		}
	}
	return true
}
