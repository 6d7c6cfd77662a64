package schema

import "fmt"

// TableColumnError reports an invalid column set on a table schema.
type TableColumnError struct {
	Message string
	Table   string
}

func (e *TableColumnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Table)
}

// TableKeyError reports an invalid primary or foreign key on a table schema.
type TableKeyError struct {
	Message string
	Table   string
	Key     string
}

func (e *TableKeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Table)
	}
	return fmt.Sprintf("%s: %s; %s", e.Message, e.Table, e.Key)
}

// DuplicateTableError reports two tables with the same name in one database
// schema.
type DuplicateTableError struct {
	Table string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("duplicate table in database schema: %s", e.Table)
}

// MissingForeignTableError reports a foreign key whose referenced table is
// absent from the database schema.
type MissingForeignTableError struct {
	ForeignKey   string
	Table        string
	ForeignTable string
}

func (e *MissingForeignTableError) Error() string {
	return fmt.Sprintf(
		"foreign key %q in table %q references table %q which does not exist in the schema",
		e.ForeignKey, e.Table, e.ForeignTable,
	)
}

// MissingForeignColumnError reports a foreign key whose referenced column is
// absent from the referenced table.
type MissingForeignColumnError struct {
	ForeignKey    string
	Table         string
	ForeignTable  string
	ForeignColumn string
}

func (e *MissingForeignColumnError) Error() string {
	return fmt.Sprintf(
		"foreign key %q in table %q references column %q which does not exist in table %q",
		e.ForeignKey, e.Table, e.ForeignColumn, e.ForeignTable,
	)
}
