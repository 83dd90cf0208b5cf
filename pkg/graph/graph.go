// Package graph builds and validates the dependency graph over recipes
package graph

import (
	"fmt"
	"strings"

	"github.com/kilnproject/kiln/pkg/types"
)

// UnknownDependencyError reports a dependency name that matches no recipe
type UnknownDependencyError struct {
	Package    string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("package %q depends on unknown package %q", e.Package, e.Dependency)
}

// CyclicDependencyError reports a dependency cycle. Cycle holds the names
// along the cycle, starting and ending at the same package.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Graph is the immutable dependency graph over a recipe set. Nodes are
// recipe names mapped to integer handles; all adjacency is kept in
// index-based tables so lookups never chase node pointers.
type Graph struct {
	names      []string
	index      map[string]int
	deps       [][]int
	dependents [][]int
}

// Build constructs the graph from recipes in declaration order. It fails
// when a recipe names a dependency outside the set, or when the "depends
// on" relation contains a cycle.
func Build(recipes []*types.Recipe) (*Graph, error) {
	g := &Graph{
		names:      make([]string, len(recipes)),
		index:      make(map[string]int, len(recipes)),
		deps:       make([][]int, len(recipes)),
		dependents: make([][]int, len(recipes)),
	}

	for i, r := range recipes {
		if _, dup := g.index[r.Name]; dup {
			return nil, fmt.Errorf("duplicate recipe name %q", r.Name)
		}
		g.names[i] = r.Name
		g.index[r.Name] = i
	}

	for i, r := range recipes {
		seen := make(map[int]bool, len(r.Dependencies))
		for _, dep := range r.Dependencies {
			j, ok := g.index[dep]
			if !ok {
				return nil, &UnknownDependencyError{Package: r.Name, Dependency: dep}
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	return g, nil
}

// findCycle runs a depth-first traversal tracking the recursion stack.
// A node revisited while still on the stack identifies the cycle; the
// returned slice names the cycle from that node back to itself.
func (g *Graph) findCycle() []string {
	const (
		white = iota // unvisited
		grey         // on the recursion stack
		black        // fully explored
	)
	state := make([]int, len(g.names))
	var stack []int

	var visit func(n int) []string
	visit = func(n int) []string {
		state[n] = grey
		stack = append(stack, n)

		for _, dep := range g.deps[n] {
			switch state[dep] {
			case grey:
				// Slice the recursion stack from the first occurrence
				// of dep to close the cycle.
				start := 0
				for k, v := range stack {
					if v == dep {
						start = k
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				for _, v := range stack[start:] {
					cycle = append(cycle, g.names[v])
				}
				return append(cycle, g.names[dep])
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = black
		return nil
	}

	for n := range g.names {
		if state[n] == white {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Len returns the number of packages in the graph
func (g *Graph) Len() int {
	return len(g.names)
}

// Names returns all package names in recipe declaration order
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Contains reports whether name is a node of the graph
func (g *Graph) Contains(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Dependencies returns the direct dependencies of name, in declaration order
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.resolve(g.deps[i])
}

// Dependents returns the packages that directly depend on name
func (g *Graph) Dependents(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	return g.resolve(g.dependents[i])
}

// TopoOrder returns a topological ordering of all packages. Among packages
// whose dependencies are all satisfied, the one declared first is emitted
// first, which makes the ordering deterministic.
func (g *Graph) TopoOrder() []string {
	remaining := make([]int, len(g.names))
	for i := range g.names {
		remaining[i] = len(g.deps[i])
	}

	order := make([]string, 0, len(g.names))
	done := make([]bool, len(g.names))

	for len(order) < len(g.names) {
		next := -1
		for i := range g.names {
			if !done[i] && remaining[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			// Unreachable for a graph that passed Build.
			break
		}
		done[next] = true
		order = append(order, g.names[next])
		for _, dep := range g.dependents[next] {
			remaining[dep]--
		}
	}

	return order
}

func (g *Graph) resolve(handles []int) []string {
	out := make([]string, len(handles))
	for k, h := range handles {
		out[k] = g.names[h]
	}
	return out
}
