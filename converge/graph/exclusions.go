package graph

import (
	"sort"

	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
)

// Exclusions is the symmetric conflict relation between the item types of
// one node. Two items whose types conflict must never be probed or applied
// at the same time. It says nothing about order.
type Exclusions struct {
	conflicts map[string]map[string]bool
	groups    [][]string
}

// Exclusions resolves the BlockConcurrent declarations of the types present
// in g for a node with the given facts. A conflicts with B when either
// declares the other.
func (g *Graph) Exclusions(reg *item.Registry, facts hostmanager.Facts) *Exclusions {
	types := g.Types()
	present := make(map[string]bool, len(types))
	for _, t := range types {
		present[t] = true
	}

	ex := &Exclusions{conflicts: make(map[string]map[string]bool)}
	for _, a := range types {
		for _, b := range reg.BlockConcurrent(a, facts) {
			if present[b] {
				ex.add(a, b)
			}
		}
	}
	ex.groups = ex.components(types)
	return ex
}

func (ex *Exclusions) add(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		m, ok := ex.conflicts[pair[0]]
		if !ok {
			m = make(map[string]bool)
			ex.conflicts[pair[0]] = m
		}
		m[pair[1]] = true
	}
}

// Conflicts reports whether items of types a and b may not overlap. A type
// may conflict with itself.
func (ex *Exclusions) Conflicts(a, b string) bool {
	return ex.conflicts[a][b]
}

// Groups returns the connected components of the conflict relation, each
// sorted, for reporting.
func (ex *Exclusions) Groups() [][]string {
	return ex.groups
}

func (ex *Exclusions) components(types []string) [][]string {
	seen := make(map[string]bool)
	var groups [][]string
	for _, t := range types {
		if seen[t] || len(ex.conflicts[t]) == 0 {
			continue
		}
		var group []string
		stack := []string{t}
		seen[t] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			group = append(group, cur)
			for other := range ex.conflicts[cur] {
				if !seen[other] {
					seen[other] = true
					stack = append(stack, other)
				}
			}
		}
		sort.Strings(group)
		groups = append(groups, group)
	}
	return groups
}
