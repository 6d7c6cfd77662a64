package querystore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relsync/relsync/internal/querystore"
	"github.com/relsync/relsync/internal/rdb"
	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/pkg/logger"
)

// queryOnlyDatabase serves canned query results; the rest of the interface is
// unused by the queryer.
type queryOnlyDatabase struct {
	results map[string]table.Table
	queries []string
}

func (d *queryOnlyDatabase) ExecuteQuery(_ context.Context, query string) (table.Table, error) {
	d.queries = append(d.queries, query)
	result, ok := d.results[query]
	if !ok {
		return table.Table{}, errors.New("unexpected query: " + query)
	}
	return result, nil
}

func (d *queryOnlyDatabase) TableNames(context.Context) ([]string, error) { return nil, nil }
func (d *queryOnlyDatabase) TableSchema(context.Context, string) (schema.TableSchema, error) {
	return schema.TableSchema{}, nil
}
func (d *queryOnlyDatabase) AddTable(context.Context, schema.TableSchema) error    { return nil }
func (d *queryOnlyDatabase) DropTable(context.Context, string) error               { return nil }
func (d *queryOnlyDatabase) DropTableAndDependents(context.Context, string) error  { return nil }
func (d *queryOnlyDatabase) DropAllTables(context.Context) error                   { return nil }
func (d *queryOnlyDatabase) QueryTable(context.Context, string) (table.Table, error) {
	return table.Table{}, nil
}
func (d *queryOnlyDatabase) InsertRows(context.Context, string, table.Table) error { return nil }
func (d *queryOnlyDatabase) UpsertRows(context.Context, string, table.Table) error { return nil }
func (d *queryOnlyDatabase) DeleteRows(context.Context, string, []any) error       { return nil }
func (d *queryOnlyDatabase) Close() error                                          { return nil }

var _ rdb.RelationalDatabase = (*queryOnlyDatabase)(nil)

// recordingStore captures stored results in memory.
type recordingStore struct {
	stored map[string]table.Table
}

func (s *recordingStore) StoreQueryResult(_ context.Context, tableName string, result table.Table) error {
	if s.stored == nil {
		s.stored = make(map[string]table.Table)
	}
	s.stored[tableName] = result
	return nil
}

func (s *recordingStore) Close() error { return nil }

func TestStoreQueryResult(t *testing.T) {
	result := table.New("id", "count")
	result.Append(table.Row{"id": "p1", "count": int64(3)})

	database := &queryOnlyDatabase{results: map[string]table.Table{
		"SELECT id, count(*) FROM visits GROUP BY id": result,
	}}
	store := &recordingStore{}

	queryer := querystore.NewQueryer(database, store, logger.NewNopLogger())
	err := queryer.StoreQueryResult(context.Background(), "SELECT id, count(*) FROM visits GROUP BY id", "visit_counts")
	require.NoError(t, err)
	require.Equal(t, 1, store.stored["visit_counts"].NumRows())
}

func TestStoreQueryResultsFromCSV(t *testing.T) {
	first := table.New("id")
	first.Append(table.Row{"id": "p1"})
	second := table.New("id")
	second.Append(table.Row{"id": "v1"})

	database := &queryOnlyDatabase{results: map[string]table.Table{
		"SELECT id FROM patients": first,
		"SELECT id FROM visits":   second,
	}}
	store := &recordingStore{}

	path := filepath.Join(t.TempDir(), "queries.csv")
	content := "query,table_name\n" +
		"\"SELECT id FROM patients\",patient_ids\n" +
		"\"SELECT id FROM visits\",visit_ids\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	queryer := querystore.NewQueryer(database, store, logger.NewNopLogger())
	require.NoError(t, queryer.StoreQueryResults(context.Background(), path))

	require.Len(t, store.stored, 2)
	require.Equal(t, []string{"SELECT id FROM patients", "SELECT id FROM visits"}, database.queries)
}

func TestStoreQueryResultsStopsOnFailure(t *testing.T) {
	first := table.New("id")
	first.Append(table.Row{"id": "p1"})

	database := &queryOnlyDatabase{results: map[string]table.Table{
		"SELECT id FROM patients": first,
	}}
	store := &recordingStore{}

	path := filepath.Join(t.TempDir(), "queries.csv")
	content := "query,table_name\n" +
		"\"SELECT id FROM patients\",patient_ids\n" +
		"\"SELECT broken\",broken\n" +
		"\"SELECT id FROM patients\",never_reached\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	queryer := querystore.NewQueryer(database, store, logger.NewNopLogger())
	err := queryer.StoreQueryResults(context.Background(), path)
	require.Error(t, err)
	require.Len(t, store.stored, 1)
	require.NotContains(t, store.stored, "never_reached")
}

func TestStoreQueryResultsRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.csv")
	require.NoError(t, os.WriteFile(path, []byte("sql,target\nx,y\n"), 0o644))

	queryer := querystore.NewQueryer(&queryOnlyDatabase{}, &recordingStore{}, logger.NewNopLogger())
	err := queryer.StoreQueryResults(context.Background(), path)
	require.Error(t, err)
}
