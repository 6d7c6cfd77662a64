// Package depgraph orders tables so every table comes after the tables it
// references through foreign keys.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relsync/relsync/internal/schema"
)

// Edge states that Table requires DependsOn to exist first.
type Edge struct {
	Table     string
	DependsOn string
}

// CyclicDependencyError is returned when no total order exists.
type CyclicDependencyError struct {
	Tables []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency between tables: %s", strings.Join(e.Tables, ", "))
}

// Order computes a total order over the given tables such that for every
// edge, DependsOn precedes Table. Ties are broken by name so the order is
// stable across runs. Tables referenced only by edges are included as well.
func Order(tables []string, edges []Edge) ([]string, error) {
	nodes := make(map[string]bool)
	for _, t := range tables {
		nodes[t] = true
	}
	for _, e := range edges {
		nodes[e.Table] = true
		nodes[e.DependsOn] = true
	}

	// children[p] holds the tables that must wait for p
	children := make(map[string][]string)
	indegree := make(map[string]int, len(nodes))
	for n := range nodes {
		indegree[n] = 0
	}
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		if e.Table == e.DependsOn || seen[e] {
			continue
		}
		seen[e] = true
		children[e.DependsOn] = append(children[e.DependsOn], e.Table)
		indegree[e.Table]++
	}

	var ready []string
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		released := false
		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(nodes) {
		var cycle []string
		for n, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, n)
			}
		}
		sort.Strings(cycle)
		return nil, &CyclicDependencyError{Tables: cycle}
	}
	return order, nil
}

// BuildOrder derives the edges from a database schema's foreign keys and
// orders its tables dependencies first.
func BuildOrder(db schema.DatabaseSchema) ([]string, error) {
	var edges []Edge
	for _, t := range db.Tables() {
		for _, dep := range t.ForeignKeyDependencies() {
			edges = append(edges, Edge{Table: t.Name(), DependsOn: dep})
		}
	}
	return Order(db.TableNames(), edges)
}
