// Package schemagraph exposes table dependency edges from whatever knows
// them: a validated database schema, or an external listing.
package schemagraph

import (
	"context"

	"github.com/relsync/relsync/internal/depgraph"
	"github.com/relsync/relsync/internal/schema"
)

// Provider yields "table depends on table" edges.
type Provider interface {
	DependencyEdges(ctx context.Context) ([]depgraph.Edge, error)
}

// SchemaProvider derives edges from a database schema's foreign keys.
type SchemaProvider struct {
	db schema.DatabaseSchema
}

func NewSchemaProvider(db schema.DatabaseSchema) *SchemaProvider {
	return &SchemaProvider{db: db}
}

func (p *SchemaProvider) DependencyEdges(context.Context) ([]depgraph.Edge, error) {
	var edges []depgraph.Edge
	for _, t := range p.db.Tables() {
		for _, dep := range t.ForeignKeyDependencies() {
			edges = append(edges, depgraph.Edge{Table: t.Name(), DependsOn: dep})
		}
	}
	return edges, nil
}

// StaticProvider serves a fixed edge list, e.g. from configuration or tests.
type StaticProvider struct {
	edges []depgraph.Edge
}

func NewStaticProvider(edges []depgraph.Edge) *StaticProvider {
	return &StaticProvider{edges: append([]depgraph.Edge{}, edges...)}
}

func (p *StaticProvider) DependencyEdges(context.Context) ([]depgraph.Edge, error) {
	return append([]depgraph.Edge{}, p.edges...), nil
}

// SortedTableNames orders the given tables so dependencies come first, using
// the provider's edges.
func SortedTableNames(ctx context.Context, provider Provider, tables []string) ([]string, error) {
	edges, err := provider.DependencyEdges(ctx)
	if err != nil {
		return nil, err
	}
	return depgraph.Order(tables, edges)
}
