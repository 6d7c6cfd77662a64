package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relsync/relsync/internal/schema"
)

func columns(names ...string) []schema.ColumnSchema {
	cols := make([]schema.ColumnSchema, len(names))
	for i, n := range names {
		cols[i] = schema.ColumnSchema{Name: n, Datatype: schema.Text}
	}
	return cols
}

func TestNewTableSchemaRejectsEmptyColumns(t *testing.T) {
	_, err := schema.NewTableSchema("patients", nil, "id", nil)
	require.Error(t, err)

	var colErr *schema.TableColumnError
	require.ErrorAs(t, err, &colErr)
	require.Equal(t, "patients", colErr.Table)
}

func TestNewTableSchemaRejectsDuplicateColumns(t *testing.T) {
	_, err := schema.NewTableSchema("patients", columns("id", "id"), "id", nil)
	require.Error(t, err)

	var colErr *schema.TableColumnError
	require.ErrorAs(t, err, &colErr)
}

func TestNewTableSchemaRejectsMissingPrimaryKey(t *testing.T) {
	_, err := schema.NewTableSchema("patients", columns("name"), "id", nil)
	require.Error(t, err)

	var keyErr *schema.TableKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, "id", keyErr.Key)
}

func TestNewTableSchemaRejectsMissingForeignKeyColumn(t *testing.T) {
	_, err := schema.NewTableSchema("visits", columns("id"), "id", []schema.ForeignKeySchema{
		{Name: "patient_id", ForeignTableName: "patients", ForeignColumnName: "id"},
	})
	require.Error(t, err)

	var keyErr *schema.TableKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, "patient_id", keyErr.Key)
}

func TestNewTableSchemaRejectsSelfReference(t *testing.T) {
	_, err := schema.NewTableSchema("visits", columns("id", "parent_id"), "id", []schema.ForeignKeySchema{
		{Name: "parent_id", ForeignTableName: "visits", ForeignColumnName: "id"},
	})
	require.Error(t, err)

	var keyErr *schema.TableKeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestTableSchemaColumnsSortedByName(t *testing.T) {
	ts, err := schema.NewTableSchema("patients", columns("zeta", "alpha", "id"), "id", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "id", "zeta"}, ts.ColumnNames())
}

func TestTableSchemaEquivalentIgnoresIndex(t *testing.T) {
	a, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text},
		{Name: "name", Datatype: schema.Text, Index: true},
	}, "id", nil)
	require.NoError(t, err)

	b, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text},
		{Name: "name", Datatype: schema.Text},
	}, "id", nil)
	require.NoError(t, err)

	require.True(t, a.Equivalent(b))
	require.True(t, b.Equivalent(a))
}

func TestTableSchemaEquivalentDetectsDatatypeChange(t *testing.T) {
	a, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text},
		{Name: "age", Datatype: schema.Int},
	}, "id", nil)
	require.NoError(t, err)

	b, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text},
		{Name: "age", Datatype: schema.Float},
	}, "id", nil)
	require.NoError(t, err)

	require.False(t, a.Equivalent(b))
}

func TestNewDatabaseSchemaRejectsDuplicateTables(t *testing.T) {
	ts, err := schema.NewTableSchema("patients", columns("id"), "id", nil)
	require.NoError(t, err)

	_, err = schema.NewDatabaseSchema([]schema.TableSchema{ts, ts})
	require.Error(t, err)

	var dup *schema.DuplicateTableError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "patients", dup.Table)
}

func TestNewDatabaseSchemaRejectsDanglingForeignTable(t *testing.T) {
	visits, err := schema.NewTableSchema("visits", columns("id", "patient_id"), "id", []schema.ForeignKeySchema{
		{Name: "patient_id", ForeignTableName: "patients", ForeignColumnName: "id"},
	})
	require.NoError(t, err)

	_, err = schema.NewDatabaseSchema([]schema.TableSchema{visits})
	require.Error(t, err)

	var missing *schema.MissingForeignTableError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "patients", missing.ForeignTable)
}

func TestNewDatabaseSchemaRejectsDanglingForeignColumn(t *testing.T) {
	patients, err := schema.NewTableSchema("patients", columns("id"), "id", nil)
	require.NoError(t, err)
	visits, err := schema.NewTableSchema("visits", columns("id", "patient_id"), "id", []schema.ForeignKeySchema{
		{Name: "patient_id", ForeignTableName: "patients", ForeignColumnName: "uuid"},
	})
	require.NoError(t, err)

	_, err = schema.NewDatabaseSchema([]schema.TableSchema{patients, visits})
	require.Error(t, err)

	var missing *schema.MissingForeignColumnError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "uuid", missing.ForeignColumn)
}

func TestDatabaseSchemaDependencies(t *testing.T) {
	patients, err := schema.NewTableSchema("patients", columns("id"), "id", nil)
	require.NoError(t, err)
	visits, err := schema.NewTableSchema("visits", columns("id", "patient_id"), "id", []schema.ForeignKeySchema{
		{Name: "patient_id", ForeignTableName: "patients", ForeignColumnName: "id"},
	})
	require.NoError(t, err)

	db, err := schema.NewDatabaseSchema([]schema.TableSchema{visits, patients})
	require.NoError(t, err)

	require.Equal(t, []string{"patients", "visits"}, db.TableNames())
	require.Equal(t, []string{"patients"}, db.Dependencies("visits"))
	require.Empty(t, db.Dependencies("patients"))
	require.Equal(t, []string{"visits"}, db.ReverseDependencies("patients"))
}

func TestParseDatatypeRejectsUnknown(t *testing.T) {
	_, err := schema.ParseDatatype("varchar")
	require.Error(t, err)
	require.Contains(t, err.Error(), "varchar")
}
