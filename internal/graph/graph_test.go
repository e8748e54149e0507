package graph

import (
	"reflect"
	"testing"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

func diamond() []Node {
	return []Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}
}

func mustNew(t *testing.T, nodes []Node) *Graph {
	t.Helper()
	g, err := New(nodes)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		want  error
	}{
		{"empty id", []Node{{ID: ""}}, errors.ErrInvalidInput},
		{"duplicate", []Node{{ID: "a"}, {ID: "a"}}, errors.ErrDuplicateTicket},
		{"unknown dependency", []Node{{ID: "a", DependsOn: []string{"zz"}}}, errors.ErrUnknownDependency},
		{"self dependency", []Node{{ID: "a", DependsOn: []string{"a"}}}, errors.ErrDependencyCycle},
		{"two cycle", []Node{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}}, errors.ErrDependencyCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_CycleErrorCarriesPath(t *testing.T) {
	_, err := New([]Node{
		{ID: "root"},
		{ID: "a", DependsOn: []string{"root", "c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	})
	var cycleErr *errors.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("New() error = %v, want *CycleError", err)
	}
	want := []string{"a", "c", "b", "a"}
	if !reflect.DeepEqual(cycleErr.Cycle, want) {
		t.Errorf("Cycle = %v, want %v", cycleErr.Cycle, want)
	}
}

func TestNew_DuplicateDependencyCollapsed(t *testing.T) {
	g := mustNew(t, []Node{{ID: "a"}, {ID: "b", DependsOn: []string{"a", "a"}}})
	if got := g.Dependencies("b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Dependencies(b) = %v, want [a]", got)
	}
}

func TestTopologicalOrder(t *testing.T) {
	g := mustNew(t, []Node{
		{ID: "d", DependsOn: []string{"b", "c"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "a"},
	})
	want := []string{"a", "c", "b", "d"}
	if got := g.TopologicalOrder(); !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalOrder() = %v, want %v", got, want)
	}
}

func TestSort_SubsetAndTieBreak(t *testing.T) {
	g := mustNew(t, diamond())

	tests := []struct {
		name     string
		ids      []string
		tieBreak []string
		want     []string
	}{
		{"full graph with completion order", []string{"a", "b", "c", "d"}, []string{"a", "c", "b", "d"}, []string{"a", "c", "b", "d"}},
		{"missing middle ignores external deps", []string{"a", "c", "d"}, nil, []string{"a", "c", "d"}},
		{"independent by tie break", []string{"b", "c"}, []string{"c", "b"}, []string{"c", "b"}},
		{"unknown ids dropped", []string{"a", "zz"}, nil, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Sort(tt.ids, tt.tieBreak); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Sort() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSort_IsLinearExtension checks that every dependency precedes its
// dependents for a range of tie-break permutations.
func TestSort_IsLinearExtension(t *testing.T) {
	nodes := []Node{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"a", "b"}},
		{ID: "e", DependsOn: []string{"c", "d"}},
		{ID: "f"},
	}
	g := mustNew(t, nodes)
	ties := [][]string{
		nil,
		{"f", "e", "d", "c", "b", "a"},
		{"b", "f", "d", "a", "e", "c"},
	}

	for _, tie := range ties {
		order := g.Sort(g.IDs(), tie)
		pos := make(map[string]int, len(order))
		for i, id := range order {
			pos[id] = i
		}
		if len(order) != len(nodes) {
			t.Fatalf("Sort() dropped nodes: %v", order)
		}
		for _, n := range nodes {
			for _, dep := range n.DependsOn {
				if pos[dep] >= pos[n.ID] {
					t.Errorf("tie %v: %s at %d not before %s at %d", tie, dep, pos[dep], n.ID, pos[n.ID])
				}
			}
		}
	}
}

func TestReady(t *testing.T) {
	g := mustNew(t, diamond())
	done := map[string]bool{"a": true, "b": true}

	got := g.Ready(func(id string) bool { return done[id] })
	if want := []string{"c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Ready() = %v, want %v", got, want)
	}

	done["c"] = true
	got = g.Ready(func(id string) bool { return done[id] })
	if want := []string{"d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Ready() = %v, want %v", got, want)
	}
}

func TestDepthAndDependents(t *testing.T) {
	g := mustNew(t, append(diamond(), Node{ID: "e"}))

	depths := map[string]int{"a": 0, "b": 1, "c": 1, "d": 2, "e": 0}
	for id, want := range depths {
		if got := g.Depth(id); got != want {
			t.Errorf("Depth(%s) = %d, want %d", id, got, want)
		}
	}
	if got := g.Dependents("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("Dependents(a) = %v", got)
	}
	if got := g.TransitiveDependents("a"); !reflect.DeepEqual(got, []string{"b", "c", "d"}) {
		t.Errorf("TransitiveDependents(a) = %v", got)
	}
	if got := g.TransitiveDependents("e"); len(got) != 0 {
		t.Errorf("TransitiveDependents(e) = %v, want none", got)
	}
}
