package manifest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/relsync/relsync/internal/table"
)

// CSVStore reads manifests from a directory of CSV files named
// "<table>__<id>.csv". Discovery order is lexical by file name, which keeps
// tie-breaking between manifests for the same table stable across runs.
type CSVStore struct {
	dir string
}

func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

func (s *CSVStore) Metadata(context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var metadata []Metadata
	for _, name := range names {
		base := strings.TrimSuffix(name, ".csv")
		tableName, _, ok := strings.Cut(base, "__")
		if !ok {
			continue
		}
		metadata = append(metadata, Metadata{
			ManifestID: base,
			TableName:  tableName,
			Name:       name,
		})
	}
	return metadata, nil
}

func (s *CSVStore) ManifestIDs(ctx context.Context, tableName string) ([]string, error) {
	metadata, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return idsForTable(metadata, tableName), nil
}

func (s *CSVStore) DownloadManifest(_ context.Context, manifestID string) (table.Table, error) {
	path := filepath.Join(s.dir, manifestID+".csv")
	file, err := os.Open(path)
	if err != nil {
		return table.Table{}, fmt.Errorf("failed to open manifest %q: %w", manifestID, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return table.Table{}, fmt.Errorf("failed to parse manifest %q: %w", manifestID, err)
	}
	if len(records) == 0 {
		return table.Table{}, fmt.Errorf("manifest %q has no header row", manifestID)
	}

	out := table.New(records[0]...)
	for _, record := range records[1:] {
		row := make(table.Row, len(out.Columns))
		for i, c := range out.Columns {
			if i < len(record) {
				row[c] = record[i]
			} else {
				row[c] = nil
			}
		}
		out.Append(row)
	}
	return out, nil
}
