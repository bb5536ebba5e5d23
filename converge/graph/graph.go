// Package graph builds the per-node dependency graph of items and checks it
// for cycles before anything runs.
package graph

import (
	"fmt"
	"sort"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/item"
)

type node struct {
	item       item.Item
	deps       map[item.ID]struct{}
	dependents map[item.ID]struct{}
}

// Graph is an immutable, acyclic dependency graph. An edge from B to A means
// A needs B.
type Graph struct {
	nodes map[item.ID]*node
	order []item.ID
}

// Build creates the graph for the items of one node. Edges come from needs,
// needed_by, "type:" wildcards and AutoDepender. Duplicate items, unknown
// dependency targets and cycles are errors; no command is run.
func Build(items []item.Item) (*Graph, error) {
	g := &Graph{nodes: make(map[item.ID]*node, len(items))}
	byType := make(map[string][]item.ID)

	for _, it := range items {
		id := it.ID()
		if _, ok := g.nodes[id]; ok {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrDuplicateItem, id)
		}
		g.nodes[id] = &node{
			item:       it,
			deps:       make(map[item.ID]struct{}),
			dependents: make(map[item.ID]struct{}),
		}
		byType[id.Type] = append(byType[id.Type], id)
	}

	for _, it := range items {
		self := it.ID()
		for _, target := range it.Needs() {
			ids, err := g.resolve(self, target, byType)
			if err != nil {
				return nil, err
			}
			for _, dep := range ids {
				g.addEdge(dep, self)
			}
		}
		for _, target := range it.NeededBy() {
			ids, err := g.resolve(self, target, byType)
			if err != nil {
				return nil, err
			}
			for _, dependent := range ids {
				g.addEdge(self, dependent)
			}
		}
		if ad, ok := it.(item.AutoDepender); ok {
			auto, err := ad.AutoDeps(items)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", self, err)
			}
			for _, dep := range auto {
				if _, ok := g.nodes[dep]; !ok {
					return nil, fmt.Errorf("%w: %s derives a dependency on %s", errdefs.ErrUnknownDependency, self, dep)
				}
				g.addEdge(dep, self)
			}
		}
	}

	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

// resolve expands a dependency target. A wildcard matches every item of the
// type except the declaring one and may match nothing.
func (g *Graph) resolve(self, target item.ID, byType map[string][]item.ID) ([]item.ID, error) {
	if target.Wildcard() {
		var ids []item.ID
		for _, id := range byType[target.Type] {
			if id != self {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, fmt.Errorf("%w: %s depends on %s", errdefs.ErrUnknownDependency, self, target)
	}
	return []item.ID{target}, nil
}

func (g *Graph) addEdge(dep, dependent item.ID) {
	g.nodes[dependent].deps[dep] = struct{}{}
	g.nodes[dep].dependents[dependent] = struct{}{}
}

// sort runs Kahn's algorithm, always taking the smallest ready identifier so
// the order is deterministic.
func (g *Graph) sort() error {
	indegree := make(map[item.ID]int, len(g.nodes))
	var ready []item.ID
	for id, n := range g.nodes {
		indegree[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]item.ID, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for dependent := range g.nodes[id].dependents {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	if len(order) < len(g.nodes) {
		return &errdefs.DependencyCycleError{Cycle: g.findCycle(indegree)}
	}
	g.order = order
	return nil
}

// findCycle walks dependencies among the items Kahn could not place. Every
// such item has an unplaced dependency, so the walk must revisit an item.
func (g *Graph) findCycle(indegree map[item.ID]int) []string {
	var start *item.ID
	for id, d := range indegree {
		if d > 0 && (start == nil || item.Less(id, *start)) {
			id := id
			start = &id
		}
	}

	var path []item.ID
	seen := make(map[item.ID]int)
	current := *start
	for {
		if i, ok := seen[current]; ok {
			cycle := make([]string, 0, len(path)-i+1)
			for _, id := range path[i:] {
				cycle = append(cycle, id.String())
			}
			return append(cycle, current.String())
		}
		seen[current] = len(path)
		path = append(path, current)

		var next []item.ID
		for dep := range g.nodes[current].deps {
			if indegree[dep] > 0 {
				next = append(next, dep)
			}
		}
		sortIDs(next)
		current = next[0]
	}
}

// Items returns the items in topological order.
func (g *Graph) Items() []item.Item {
	out := make([]item.Item, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id].item
	}
	return out
}

// Order returns the deterministic topological order of the graph.
func (g *Graph) Order() []item.ID {
	return append([]item.ID(nil), g.order...)
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Item(id item.ID) (item.Item, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.item, true
}

// Dependencies returns what id needs, sorted.
func (g *Graph) Dependencies(id item.ID) []item.ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.deps)
}

// Dependents returns what needs id, sorted.
func (g *Graph) Dependents(id item.ID) []item.ID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.dependents)
}

// Types returns the item types present in the graph, sorted.
func (g *Graph) Types() []string {
	seen := make(map[string]struct{})
	for id := range g.nodes {
		seen[id.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func sortedKeys(m map[item.ID]struct{}) []item.ID {
	ids := make([]item.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []item.ID) {
	sort.Slice(ids, func(i, j int) bool { return item.Less(ids[i], ids[j]) })
}

func insertSorted(ids []item.ID, id item.ID) []item.ID {
	i := sort.Search(len(ids), func(i int) bool { return !item.Less(ids[i], id) })
	ids = append(ids, item.ID{})
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
