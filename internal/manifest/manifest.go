// Package manifest retrieves the externally supplied source tables
// ("manifests") that feed a sync run.
package manifest

import (
	"context"
	"sort"

	"github.com/relsync/relsync/internal/table"
)

// Metadata identifies one manifest and the table it targets.
type Metadata struct {
	ManifestID string `json:"manifest_id" bson:"manifest_id"`
	TableName  string `json:"table_name" bson:"table_name"`
	Name       string `json:"name" bson:"name"`
}

// Source lists and downloads manifests. ManifestIDs must return ids in a
// stable discovery order: the normalizer keeps the first occurrence of a
// duplicated key, so earlier manifests win ties.
type Source interface {
	Metadata(ctx context.Context) ([]Metadata, error)
	ManifestIDs(ctx context.Context, tableName string) ([]string, error)
	DownloadManifest(ctx context.Context, manifestID string) (table.Table, error)
}

// SortedTableNames lists the distinct table names a source has manifests
// for, sorted by name.
func SortedTableNames(ctx context.Context, source Source) ([]string, error) {
	metadata, err := source.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(metadata))
	var names []string
	for _, m := range metadata {
		if m.TableName == "" || seen[m.TableName] {
			continue
		}
		seen[m.TableName] = true
		names = append(names, m.TableName)
	}
	sort.Strings(names)
	return names, nil
}

// idsForTable filters a metadata listing down to one table's manifest ids,
// preserving listing order.
func idsForTable(metadata []Metadata, tableName string) []string {
	var ids []string
	for _, m := range metadata {
		if m.TableName == tableName && m.ManifestID != "" {
			ids = append(ids, m.ManifestID)
		}
	}
	return ids
}
