package syncer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relsync/relsync/internal/manifest"
	"github.com/relsync/relsync/internal/rdb"
	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/schemagraph"
	"github.com/relsync/relsync/internal/syncer"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/pkg/logger"
)

// fakeDatabase is an in-memory RelationalDatabase for driving the sync
// passes without a live backend.
type fakeDatabase struct {
	schemas map[string]schema.TableSchema
	rows    map[string]table.Table
	created []string
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		schemas: make(map[string]schema.TableSchema),
		rows:    make(map[string]table.Table),
	}
}

func (f *fakeDatabase) TableNames(context.Context) ([]string, error) {
	var names []string
	for name := range f.schemas {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDatabase) TableSchema(_ context.Context, name string) (schema.TableSchema, error) {
	ts, ok := f.schemas[name]
	if !ok {
		return schema.TableSchema{}, errors.New("no such table: " + name)
	}
	return ts, nil
}

func (f *fakeDatabase) AddTable(_ context.Context, ts schema.TableSchema) error {
	f.schemas[ts.Name()] = ts
	f.rows[ts.Name()] = table.New(ts.ColumnNames()...)
	f.created = append(f.created, ts.Name())
	return nil
}

func (f *fakeDatabase) DropTable(_ context.Context, name string) error {
	delete(f.schemas, name)
	delete(f.rows, name)
	return nil
}

func (f *fakeDatabase) DropTableAndDependents(ctx context.Context, name string) error {
	return f.DropTable(ctx, name)
}

func (f *fakeDatabase) DropAllTables(context.Context) error {
	f.schemas = make(map[string]schema.TableSchema)
	f.rows = make(map[string]table.Table)
	return nil
}

func (f *fakeDatabase) QueryTable(_ context.Context, name string) (table.Table, error) {
	return f.rows[name], nil
}

func (f *fakeDatabase) InsertRows(_ context.Context, name string, rows table.Table) error {
	current := f.rows[name]
	current.Rows = append(current.Rows, rows.Rows...)
	f.rows[name] = current
	return nil
}

func (f *fakeDatabase) UpsertRows(_ context.Context, name string, rows table.Table) error {
	ts := f.schemas[name]
	current := f.rows[name]
	keyed, order := current.Keyed(ts.PrimaryKey())
	for _, row := range rows.Rows {
		k := table.Key(row[ts.PrimaryKey()])
		if _, ok := keyed[k]; !ok {
			order = append(order, k)
		}
		keyed[k] = row
	}
	rebuilt := table.New(current.Columns...)
	for _, k := range order {
		rebuilt.Append(keyed[k])
	}
	f.rows[name] = rebuilt
	return nil
}

func (f *fakeDatabase) DeleteRows(_ context.Context, name string, keys []any) error {
	ts := f.schemas[name]
	current := f.rows[name]
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[table.Key(k)] = true
	}
	rebuilt := table.New(current.Columns...)
	for _, row := range current.Rows {
		if !drop[table.Key(row[ts.PrimaryKey()])] {
			rebuilt.Append(row)
		}
	}
	f.rows[name] = rebuilt
	return nil
}

func (f *fakeDatabase) ExecuteQuery(context.Context, string) (table.Table, error) {
	return table.Table{}, rdb.ErrUnsupportedQuery
}

func (f *fakeDatabase) Close() error { return nil }

// fakeSource serves manifests from memory; errIDs fail downloads on demand.
type fakeSource struct {
	manifests map[string][]table.Table
	errIDs    map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		manifests: make(map[string][]table.Table),
		errIDs:    make(map[string]error),
	}
}

func (f *fakeSource) add(tableName string, t table.Table) {
	f.manifests[tableName] = append(f.manifests[tableName], t)
}

func (f *fakeSource) Metadata(ctx context.Context) ([]manifest.Metadata, error) {
	var out []manifest.Metadata
	for tableName := range f.manifests {
		ids, _ := f.ManifestIDs(ctx, tableName)
		for _, id := range ids {
			out = append(out, manifest.Metadata{ManifestID: id, TableName: tableName, Name: id})
		}
	}
	return out, nil
}

func (f *fakeSource) ManifestIDs(_ context.Context, tableName string) ([]string, error) {
	ids := make([]string, len(f.manifests[tableName]))
	for i := range f.manifests[tableName] {
		ids[i] = tableName + "__" + string(rune('a'+i))
	}
	return ids, nil
}

func (f *fakeSource) DownloadManifest(_ context.Context, manifestID string) (table.Table, error) {
	if err, ok := f.errIDs[manifestID]; ok {
		return table.Table{}, err
	}
	tableName := manifestID[:len(manifestID)-3]
	idx := int(manifestID[len(manifestID)-1] - 'a')
	return f.manifests[tableName][idx], nil
}

func testSchema(t *testing.T) schema.DatabaseSchema {
	t.Helper()
	patients, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text, Required: true},
		{Name: "name", Datatype: schema.Text},
	}, "id", nil)
	require.NoError(t, err)

	visits, err := schema.NewTableSchema("visits", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text, Required: true},
		{Name: "patient_id", Datatype: schema.Text},
	}, "id", []schema.ForeignKeySchema{
		{Name: "patient_id", ForeignTableName: "patients", ForeignColumnName: "id"},
	})
	require.NoError(t, err)

	samples, err := schema.NewTableSchema("samples", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text, Required: true},
		{Name: "visit_id", Datatype: schema.Text},
	}, "id", []schema.ForeignKeySchema{
		{Name: "visit_id", ForeignTableName: "visits", ForeignColumnName: "id"},
	})
	require.NoError(t, err)

	db, err := schema.NewDatabaseSchema([]schema.TableSchema{samples, patients, visits})
	require.NoError(t, err)
	return db
}

func patientManifest(rows ...table.Row) table.Table {
	t := table.New("id", "name")
	for _, r := range rows {
		t.Append(r)
	}
	return t
}

func TestBuildCreatesAndPopulatesInDependencyOrder(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Ada"}))

	visitRows := table.New("id", "patient_id")
	visitRows.Append(table.Row{"id": "v1", "patient_id": "p1"})
	source.add("visits", visitRows)

	sampleRows := table.New("id", "visit_id")
	sampleRows.Append(table.Row{"id": "s1", "visit_id": "v1"})
	source.add("samples", sampleRows)

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	report, err := builder.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"patients", "visits", "samples"}, report.Order)
	require.Equal(t, []string{"patients", "visits", "samples"}, database.created)
	for _, name := range report.Order {
		require.Equal(t, syncer.StateDone, report.State(name))
	}

	stored, err := database.QueryTable(context.Background(), "patients")
	require.NoError(t, err)
	require.Equal(t, 1, stored.NumRows())
}

func TestBuildSkipsTablesWithoutManifests(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Ada"}))
	// no manifests for visits; samples still gets processed

	sampleRows := table.New("id", "visit_id")
	sampleRows.Append(table.Row{"id": "s1", "visit_id": "v1"})
	source.add("samples", sampleRows)

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	report, err := builder.Build(context.Background())
	require.NoError(t, err)

	require.Equal(t, syncer.StateDone, report.State("patients"))
	require.Equal(t, syncer.StateSkippedNoSource, report.State("visits"))
	require.Equal(t, syncer.StateDone, report.State("samples"))

	notices := report.NoticesFor("visits")
	require.Len(t, notices, 1)
	require.Equal(t, syncer.NoticeNoManifests, notices[0].Kind)

	// the skipped table still exists, just empty
	stored, err := database.QueryTable(context.Background(), "visits")
	require.NoError(t, err)
	require.Equal(t, 0, stored.NumRows())
}

func TestBuildHaltsRemainingTablesOnFailure(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Ada"}))

	visitRows := table.New("id", "patient_id")
	visitRows.Append(table.Row{"id": "v1", "patient_id": "p1"})
	source.add("visits", visitRows)
	source.errIDs["visits__a"] = errors.New("download failed")

	sampleRows := table.New("id", "visit_id")
	sampleRows.Append(table.Row{"id": "s1", "visit_id": "v1"})
	source.add("samples", sampleRows)

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	report, err := builder.Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "visits")

	require.Equal(t, syncer.StateDone, report.State("patients"))
	require.Equal(t, syncer.StateFailed, report.State("visits"))
	require.Equal(t, syncer.StatePending, report.State("samples"))
}

func TestBuildRecordsSchemaDrift(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	// pre-create patients with a drifted schema
	drifted, err := schema.NewTableSchema("patients", []schema.ColumnSchema{
		{Name: "id", Datatype: schema.Text, Required: true},
		{Name: "name", Datatype: schema.Int},
	}, "id", nil)
	require.NoError(t, err)
	require.NoError(t, database.AddTable(context.Background(), drifted))

	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Ada"}))

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	report, err := builder.Build(context.Background())
	require.NoError(t, err)

	notices := report.NoticesFor("patients")
	require.Len(t, notices, 1)
	require.Equal(t, syncer.NoticeSchemaDrift, notices[0].Kind)

	// the existing table was not recreated
	require.Equal(t, []string{"patients", "visits", "samples"}, database.created)
}

func TestBuildIsIdempotent(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(
		table.Row{"id": "p1", "name": "Ada"},
		table.Row{"id": "p2", "name": "Ben"},
	))

	visitRows := table.New("id", "patient_id")
	visitRows.Append(table.Row{"id": "v1", "patient_id": "p1"})
	source.add("visits", visitRows)

	sampleRows := table.New("id", "visit_id")
	sampleRows.Append(table.Row{"id": "s1", "visit_id": "v1"})
	source.add("samples", sampleRows)

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	_, err := builder.Build(context.Background())
	require.NoError(t, err)

	report, err := builder.Build(context.Background())
	require.NoError(t, err)
	for _, name := range report.Order {
		require.Equal(t, syncer.StateDone, report.State(name))
	}

	stored, err := database.QueryTable(context.Background(), "patients")
	require.NoError(t, err)
	require.Equal(t, 2, stored.NumRows())
}

func TestBuildAppliesUpdatesWithoutDeleting(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(
		table.Row{"id": "p1", "name": "Ada"},
		table.Row{"id": "p2", "name": "Ben"},
	))

	builder := syncer.NewBuilder(database, source, db, logger.NewNopLogger())
	_, err := builder.Build(context.Background())
	require.NoError(t, err)

	// the next run renames p1 and drops p2 from the manifest
	source.manifests["patients"] = nil
	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Renamed"}))

	_, err = builder.Build(context.Background())
	require.NoError(t, err)

	stored, err := database.QueryTable(context.Background(), "patients")
	require.NoError(t, err)
	keyed, _ := stored.Keyed("id")
	require.Len(t, keyed, 2)
	require.Equal(t, "Renamed", keyed["p1"]["name"])
	require.Equal(t, "Ben", keyed["p2"]["name"])
}

func TestUpdateUsesBackendSchemasAndProviderOrder(t *testing.T) {
	db := testSchema(t)
	database := newFakeDatabase()
	source := newFakeSource()

	source.add("patients", patientManifest(table.Row{"id": "p1", "name": "Ada"}))

	visitRows := table.New("id", "patient_id")
	visitRows.Append(table.Row{"id": "v1", "patient_id": "p1"})
	source.add("visits", visitRows)

	sampleRows := table.New("id", "visit_id")
	sampleRows.Append(table.Row{"id": "s1", "visit_id": "v1"})
	source.add("samples", sampleRows)

	_, err := syncer.NewBuilder(database, source, db, logger.NewNopLogger()).Build(context.Background())
	require.NoError(t, err)

	source.manifests["patients"] = nil
	source.add("patients", patientManifest(
		table.Row{"id": "p1", "name": "Ada"},
		table.Row{"id": "p2", "name": "Ben"},
	))

	provider := schemagraph.NewSchemaProvider(db)
	updater := syncer.NewUpdater(database, source, provider, logger.NewNopLogger())
	report, err := updater.Update(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"patients", "visits", "samples"}, report.Order)
	for _, name := range report.Order {
		require.Equal(t, syncer.StateDone, report.State(name))
	}

	stored, err := database.QueryTable(context.Background(), "patients")
	require.NoError(t, err)
	require.Equal(t, 2, stored.NumRows())
}
