package graph

import (
	"errors"
	"reflect"
	"testing"
)

func build(nodes []string, edges ...[2]string) *Directed {
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

func TestCyclesTwoNodeLoopLeavesThirdNodeOut(t *testing.T) {
	g := build([]string{"a", "b", "c"}, [2]string{"a", "b"}, [2]string{"b", "a"}, [2]string{"c", "a"})
	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %+v", cycles)
	}
	if !reflect.DeepEqual(cycles[0].Path, []string{"a", "b"}) {
		t.Fatalf("unexpected path %v", cycles[0].Path)
	}
	if got := cycles[0].String(); got != "a -> b -> a" {
		t.Fatalf("unexpected render %q", got)
	}
	members := CycleMembers(cycles)
	if _, ok := members["c"]; ok {
		t.Fatalf("c must not be a cycle member")
	}
	if len(members) != 2 {
		t.Fatalf("unexpected members %v", members)
	}
}

func TestCyclesReportedOncePerRotation(t *testing.T) {
	// Discovery starts at different roots but the cycle is the same.
	g := build([]string{"z", "y", "x"}, [2]string{"z", "x"}, [2]string{"x", "y"}, [2]string{"y", "z"})
	cycles := g.Cycles()
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %+v", cycles)
	}
	if !reflect.DeepEqual(cycles[0].Path, []string{"x", "y", "z"}) {
		t.Fatalf("expected canonical rotation, got %v", cycles[0].Path)
	}
}

func TestCyclesSelfLoopAndDisjoint(t *testing.T) {
	g := build([]string{"a", "b", "c", "d"},
		[2]string{"a", "a"},
		[2]string{"b", "c"}, [2]string{"c", "d"}, [2]string{"d", "b"})
	cycles := g.Cycles()
	if len(cycles) != 2 {
		t.Fatalf("expected two cycles, got %+v", cycles)
	}
	if !reflect.DeepEqual(cycles[0].Path, []string{"a"}) {
		t.Fatalf("self loop path %v", cycles[0].Path)
	}
	if !reflect.DeepEqual(cycles[1].Path, []string{"b", "c", "d"}) {
		t.Fatalf("triangle path %v", cycles[1].Path)
	}
}

func TestCyclesIgnoresEdgesToUnknownNodes(t *testing.T) {
	g := build([]string{"a"}, [2]string{"a", "ghost"})
	if cycles := g.Cycles(); len(cycles) != 0 {
		t.Fatalf("unexpected cycles %+v", cycles)
	}
}

func TestCyclesCoverEveryComponentMember(t *testing.T) {
	// d only reaches the a-b-c loop through a chord, so a back-edge walk never
	// closes a cycle through it.
	g := build([]string{"a", "b", "c", "d"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"b", "d"},
		[2]string{"c", "a"}, [2]string{"d", "c"})
	cycles := g.Cycles()
	if len(cycles) != 2 {
		t.Fatalf("expected two cycles, got %+v", cycles)
	}
	if !reflect.DeepEqual(cycles[0].Path, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected first cycle %v", cycles[0].Path)
	}
	if got := cycles[1].String(); got != "a -> b -> d -> c -> a" {
		t.Fatalf("unexpected second cycle %q", got)
	}
	if members := CycleMembers(cycles); len(members) != 4 {
		t.Fatalf("every member of the component must be on a cycle, got %v", members)
	}
}

func TestCyclesSkipDagHangingOffAComponent(t *testing.T) {
	g := build([]string{"x", "a", "b", "y"},
		[2]string{"x", "a"}, [2]string{"a", "b"}, [2]string{"b", "a"}, [2]string{"b", "y"})
	members := CycleMembers(g.Cycles())
	if len(members) != 2 {
		t.Fatalf("only a and b form a cycle, got %v", members)
	}
	if _, ok := members["x"]; ok {
		t.Fatalf("x only points into the cycle")
	}
}

func TestCyclesDeepChainDoesNotRecurse(t *testing.T) {
	g := New()
	const n = 100000
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + itoa(i)
		g.AddNode(ids[i])
	}
	for i := 0; i+1 < n; i++ {
		g.AddEdge(ids[i], ids[i+1])
	}
	if cycles := g.Cycles(); len(cycles) != 0 {
		t.Fatalf("chain must be acyclic")
	}
	g.AddEdge(ids[n-1], ids[0])
	if cycles := g.Cycles(); len(cycles) != 1 || len(cycles[0].Path) != n {
		t.Fatalf("expected one cycle of length %d", n)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func TestAddEdgeCollapsesDuplicates(t *testing.T) {
	g := build([]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"a", "b"})
	if len(g.edges) != 1 || len(g.adj["a"]) != 1 {
		t.Fatalf("duplicate edge kept: %+v", g.edges)
	}
	g.AddNode("a")
	if len(g.Nodes()) != 2 {
		t.Fatalf("duplicate node kept: %v", g.Nodes())
	}
}

func TestTopoOrderStages(t *testing.T) {
	g := build([]string{"critical_paths", "features", "issues", "schema"},
		[2]string{"critical_paths", "features"})
	stages, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("topo: %v", err)
	}
	want := [][]string{{"features", "issues", "schema"}, {"critical_paths"}}
	if !reflect.DeepEqual(stages, want) {
		t.Fatalf("unexpected stages %v", stages)
	}
}

func TestTopoOrderRejectsCycles(t *testing.T) {
	g := build([]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"})
	_, err := g.TopoOrder()
	var cyc *ErrCyclic
	if !errors.As(err, &cyc) {
		t.Fatalf("expected ErrCyclic, got %v", err)
	}
	if cyc.Error() != "graph: cycle detected: a -> b -> a" {
		t.Fatalf("unexpected message %q", cyc.Error())
	}
}
