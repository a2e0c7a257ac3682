package graph_test

import (
	"reflect"
	"testing"

	"regline/internal/graph"
)

func TestFindCycleDirect(t *testing.T) {
	edges := []graph.Edge{{From: "A", To: "B"}}
	cycle := graph.FindCycle(edges, "B", "A")
	want := []string{"A", "B", "A"}
	if !reflect.DeepEqual(cycle, want) {
		t.Fatalf("cycle = %v, want %v", cycle, want)
	}
}

func TestFindCycleTransitive(t *testing.T) {
	edges := []graph.Edge{
		{From: "A", To: "B"},
		{From: "B", To: "C"},
	}
	cycle := graph.FindCycle(edges, "C", "A")
	want := []string{"A", "B", "C", "A"}
	if !reflect.DeepEqual(cycle, want) {
		t.Fatalf("cycle = %v, want %v", cycle, want)
	}
}

func TestFindCycleNone(t *testing.T) {
	edges := []graph.Edge{
		{From: "A", To: "B"},
		{From: "B", To: "C"},
	}
	if cycle := graph.FindCycle(edges, "A", "C"); cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
	// diamond: A->B, A->C, B->D, C->D is still acyclic
	edges = append(edges, graph.Edge{From: "A", To: "C"})
	if cycle := graph.FindCycle(edges, "B", "C"); cycle != nil {
		t.Fatalf("expected no cycle in diamond, got %v", cycle)
	}
}

func TestFindCycleSelf(t *testing.T) {
	if cycle := graph.FindCycle(nil, "A", "A"); len(cycle) != 2 {
		t.Fatalf("expected self cycle, got %v", cycle)
	}
}

func TestFindCycleUnknownNodes(t *testing.T) {
	edges := []graph.Edge{{From: "A", To: "B"}}
	if cycle := graph.FindCycle(edges, "X", "Y"); cycle != nil {
		t.Fatalf("expected no cycle for unknown nodes, got %v", cycle)
	}
}

func TestTopoSortDependenciesFirst(t *testing.T) {
	nodes := []graph.Node{
		{ID: "app", Priority: 0, CreatedAt: "2026-01-03T00:00:00Z"},
		{ID: "lib", Priority: 2, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "db", Priority: 1, CreatedAt: "2026-01-02T00:00:00Z"},
	}
	edges := []graph.Edge{
		{From: "app", To: "lib"},
		{From: "app", To: "db"},
	}
	order := graph.TopoSort(nodes, edges)
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["lib"] > pos["app"] || pos["db"] > pos["app"] {
		t.Fatalf("dependencies must precede dependents: %v", order)
	}
	// db outranks lib, so it sorts first among the ready set
	if pos["db"] > pos["lib"] {
		t.Fatalf("expected db before lib by priority: %v", order)
	}
}

func TestTopoSortDeterministicTies(t *testing.T) {
	nodes := []graph.Node{
		{ID: "b", Priority: 1, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "a", Priority: 1, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "c", Priority: 1, CreatedAt: "2026-01-01T00:00:00Z"},
	}
	want := []string{"a", "b", "c"}
	for i := 0; i < 5; i++ {
		if got := graph.TopoSort(nodes, nil); !reflect.DeepEqual(got, want) {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
