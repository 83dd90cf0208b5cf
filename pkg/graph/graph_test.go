package graph_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kilnproject/kiln/pkg/graph"
	"github.com/kilnproject/kiln/pkg/types"
)

func rec(name string, deps ...string) *types.Recipe {
	return &types.Recipe{Name: name, Version: "1.0", Dependencies: deps}
}

func TestBuild_Simple(t *testing.T) {
	g, err := graph.Build([]*types.Recipe{
		rec("zlib"),
		rec("openssl", "zlib"),
		rec("curl", "openssl", "zlib"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Len() != 3 {
		t.Errorf("expected 3 packages, got %d", g.Len())
	}
	if !g.Contains("curl") {
		t.Error("expected graph to contain curl")
	}

	deps := g.Dependencies("curl")
	if len(deps) != 2 || deps[0] != "openssl" || deps[1] != "zlib" {
		t.Errorf("unexpected dependencies for curl: %v", deps)
	}

	dependents := g.Dependents("zlib")
	if len(dependents) != 2 || dependents[0] != "openssl" || dependents[1] != "curl" {
		t.Errorf("unexpected dependents for zlib: %v", dependents)
	}
}

func TestBuild_DuplicateEdgesCollapse(t *testing.T) {
	g, err := graph.Build([]*types.Recipe{
		rec("a"),
		rec("b", "a", "a", "a"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps := g.Dependencies("b"); len(deps) != 1 {
		t.Errorf("expected duplicate edges to collapse, got %v", deps)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := graph.Build([]*types.Recipe{
		rec("app", "nonexistent"),
	})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}

	var unknownErr *graph.UnknownDependencyError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownDependencyError, got %T: %v", err, err)
	}
	if unknownErr.Package != "app" || unknownErr.Dependency != "nonexistent" {
		t.Errorf("unexpected error fields: %+v", unknownErr)
	}
}

func TestBuild_DuplicateName(t *testing.T) {
	_, err := graph.Build([]*types.Recipe{rec("a"), rec("a")})
	if err == nil {
		t.Fatal("expected error for duplicate recipe name")
	}
}

func TestBuild_Cycle(t *testing.T) {
	_, err := graph.Build([]*types.Recipe{
		rec("a", "b"),
		rec("b", "c"),
		rec("c", "a"),
	})
	if err == nil {
		t.Fatal("expected error for dependency cycle")
	}

	var cycleErr *graph.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %T: %v", err, err)
	}
	// The cycle closes on itself.
	if len(cycleErr.Cycle) < 4 {
		t.Errorf("expected full cycle path, got %v", cycleErr.Cycle)
	}
	if cycleErr.Cycle[0] != cycleErr.Cycle[len(cycleErr.Cycle)-1] {
		t.Errorf("cycle should start and end at the same package: %v", cycleErr.Cycle)
	}
}

func TestBuild_SelfCycle(t *testing.T) {
	_, err := graph.Build([]*types.Recipe{rec("a", "a")})
	var cycleErr *graph.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestTopoOrder_Deterministic(t *testing.T) {
	recipes := []*types.Recipe{
		rec("c"),
		rec("a"),
		rec("b", "a", "c"),
	}
	g, err := graph.Build(recipes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := g.TopoOrder()
	// Among unblocked packages, declaration order wins: c before a.
	want := []string{"c", "a", "b"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

// TestTopoOrder_RespectsDependencies generates random DAGs (edges only
// point at earlier declarations, so they are acyclic by construction)
// and checks that every topological order places dependencies first.
func TestTopoOrder_RespectsDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dependencies come before their dependents", prop.ForAll(
		func(n int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			recipes := make([]*types.Recipe, n)
			for i := 0; i < n; i++ {
				r := rec(fmt.Sprintf("pkg%02d", i))
				for j := 0; j < i; j++ {
					if rng.Intn(3) == 0 {
						r.Dependencies = append(r.Dependencies, fmt.Sprintf("pkg%02d", j))
					}
				}
				recipes[i] = r
			}

			g, err := graph.Build(recipes)
			if err != nil {
				return false
			}

			order := g.TopoOrder()
			if len(order) != n {
				return false
			}
			pos := make(map[string]int, n)
			for i, name := range order {
				pos[name] = i
			}
			for _, name := range order {
				for _, dep := range g.Dependencies(name) {
					if pos[dep] >= pos[name] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 25),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
