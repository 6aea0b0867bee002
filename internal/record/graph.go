package record

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// CollectionSpec declares one collection of mutation records.
//
// Parent names the collection whose records this collection's records
// reference by local id. ParentField is the payload field that receives the
// parent's remote id at submission time.
type CollectionSpec struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Parent      string `json:"parent,omitempty" yaml:"parent,omitempty" mapstructure:"parent"`
	ParentField string `json:"parent_field,omitempty" yaml:"parent_field,omitempty" mapstructure:"parent_field"`
}

// DefaultCollections returns the collections of the field client: one primary
// collection and two dependents that reference it.
func DefaultCollections() []CollectionSpec {
	return []CollectionSpec{
		{Name: PrimaryCollection},
		{Name: DependentCollectionA, Parent: PrimaryCollection, ParentField: "leadId"},
		{Name: DependentCollectionB, Parent: PrimaryCollection, ParentField: "leadId"},
	}
}

// Graph errors.
var (
	ErrEmptyGraph          = errors.New("no collections declared")
	ErrDuplicateCollection = errors.New("duplicate collection")
	ErrUnknownParent       = errors.New("parent collection not declared")
	ErrCycle               = errors.New("collection dependency cycle")
)

// Graph is the parent -> dependent relation between collections.
//
// Graph is immutable after NewGraph and safe for concurrent use.
type Graph struct {
	specs  map[string]CollectionSpec
	levels [][]string
}

// NewGraph validates specs and computes their topological levels.
//
// Rejects empty input, duplicate or blank names, parents that are not
// declared, and cycles (including a collection that is its own parent).
func NewGraph(specs []CollectionSpec) (*Graph, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyGraph
	}

	byName := make(map[string]CollectionSpec, len(specs))
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("collection name is empty")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCollection, s.Name)
		}
		if s.Parent != "" && s.ParentField == "" {
			s.ParentField = DefaultParentField
		}
		byName[s.Name] = s
	}

	for _, s := range byName {
		if s.Parent == "" {
			continue
		}
		if _, ok := byName[s.Parent]; !ok {
			return nil, fmt.Errorf("%w: %s references %s", ErrUnknownParent, s.Name, s.Parent)
		}
	}

	if cycles := findCycles(byName); len(cycles) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycles[0], " -> "))
	}

	return &Graph{specs: byName, levels: computeLevels(byName)}, nil
}

// Spec returns the declaration of a collection.
func (g *Graph) Spec(name string) (CollectionSpec, bool) {
	s, ok := g.specs[name]
	return s, ok
}

// Has reports whether name is a declared collection.
func (g *Graph) Has(name string) bool {
	_, ok := g.specs[name]
	return ok
}

// Specs returns every declaration in topological order.
func (g *Graph) Specs() []CollectionSpec {
	out := make([]CollectionSpec, 0, len(g.specs))
	for _, name := range g.Order() {
		out = append(out, g.specs[name])
	}
	return out
}

// Order returns collection names with every parent before its dependents.
// Names within one level are sorted so the order is deterministic.
func (g *Graph) Order() []string {
	var out []string
	for _, level := range g.levels {
		out = append(out, level...)
	}
	return out
}

// Levels groups collections by depth. Level 0 holds the roots; a collection
// at level n has its parent at level n-1.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = slices.Clone(level)
	}
	return out
}

// Dependents returns the collections whose parent is name, sorted.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for _, s := range g.specs {
		if s.Parent == name {
			out = append(out, s.Name)
		}
	}
	slices.Sort(out)
	return out
}

// computeLevels layers an acyclic graph with Kahn's algorithm.
func computeLevels(specs map[string]CollectionSpec) [][]string {
	var (
		levels  [][]string
		current []string
	)
	for name, s := range specs {
		if s.Parent == "" {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		slices.Sort(current)
		levels = append(levels, current)

		var next []string
		for _, parent := range current {
			for name, s := range specs {
				if s.Parent == parent {
					next = append(next, name)
				}
			}
		}
		current = next
	}
	return levels
}

// findCycles returns every strongly connected component of size > 1 and every
// self-loop, as parent chains closed on their first element.
func findCycles(specs map[string]CollectionSpec) [][]string {
	graph := make(map[string][]string, len(specs))
	names := make([]string, 0, len(specs))
	for name, s := range specs {
		names = append(names, name)
		if s.Parent != "" {
			graph[name] = []string{s.Parent}
		}
	}
	slices.Sort(names)

	var cycles [][]string
	for _, scc := range tarjanSCC(names, graph) {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			slices.Sort(scc)
			cycles = append(cycles, append(scc, scc[0]))
		}
	}
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order so results are deterministic.
func tarjanSCC(nodes []string, graph map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}
