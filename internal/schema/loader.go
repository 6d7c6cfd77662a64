package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// The YAML schema-definition file is the local stand-in for an external
// schema service: one document listing every table with its columns, primary
// key and foreign keys.

type columnFile struct {
	Name     string `yaml:"name"`
	Datatype string `yaml:"datatype"`
	Required bool   `yaml:"required"`
	Index    bool   `yaml:"index"`
}

type foreignKeyFile struct {
	Column        string `yaml:"column"`
	ForeignTable  string `yaml:"foreign_table"`
	ForeignColumn string `yaml:"foreign_column"`
}

type tableFile struct {
	Name        string           `yaml:"name"`
	PrimaryKey  string           `yaml:"primary_key"`
	Columns     []columnFile     `yaml:"columns"`
	ForeignKeys []foreignKeyFile `yaml:"foreign_keys"`
}

type schemaFile struct {
	Tables []tableFile `yaml:"tables"`
}

// LoadDatabaseSchema reads a YAML schema definition and runs it through the
// validating constructors. Any invalid table or dangling reference rejects
// the whole file.
func LoadDatabaseSchema(path string) (DatabaseSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DatabaseSchema{}, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseDatabaseSchema(data)
}

// ParseDatabaseSchema builds a DatabaseSchema from YAML bytes.
func ParseDatabaseSchema(data []byte) (DatabaseSchema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return DatabaseSchema{}, fmt.Errorf("failed to parse schema file: %w", err)
	}

	tables := make([]TableSchema, 0, len(file.Tables))
	for _, t := range file.Tables {
		columns := make([]ColumnSchema, 0, len(t.Columns))
		for _, c := range t.Columns {
			datatype, err := ParseDatatype(c.Datatype)
			if err != nil {
				return DatabaseSchema{}, fmt.Errorf("table %q column %q: %w", t.Name, c.Name, err)
			}
			columns = append(columns, ColumnSchema{
				Name:     c.Name,
				Datatype: datatype,
				Required: c.Required,
				Index:    c.Index,
			})
		}

		keys := make([]ForeignKeySchema, 0, len(t.ForeignKeys))
		for _, k := range t.ForeignKeys {
			keys = append(keys, ForeignKeySchema{
				Name:              k.Column,
				ForeignTableName:  k.ForeignTable,
				ForeignColumnName: k.ForeignColumn,
			})
		}

		tableSchema, err := NewTableSchema(t.Name, columns, t.PrimaryKey, keys)
		if err != nil {
			return DatabaseSchema{}, err
		}
		tables = append(tables, tableSchema)
	}

	return NewDatabaseSchema(tables)
}
