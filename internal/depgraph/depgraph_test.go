package depgraph

import (
	"errors"
	"testing"
)

func chunk(id, code string, pairs ...Pair) CodeNode {
	return CodeNode{ID: id, Language: "python", Code: code, Pairs: pairs}
}

func uses(name string) Pair     { return Pair{Relation: RelationUses, Name: name} }
func assigns(name string) Pair  { return Pair{Relation: RelationAssigns, Name: name} }
func reads(name string) Pair    { return Pair{Relation: RelationReads, Name: name} }
func writes(name string) Pair   { return Pair{Relation: RelationWrites, Name: name} }
func requires(id string) Pair   { return Pair{Relation: RelationRequires, Name: id} }
func declares(name string) Pair { return Pair{Relation: RelationDeclares, Name: name} }

func ids(g *Graph, idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = g.Resource(idx).ID
	}
	return out
}

func TestBuildLinksProducersToConsumers(t *testing.T) {
	g := Build([]CodeNode{
		chunk("c1", "x = 1", assigns("x")),
		chunk("c2", "y = x + 1", uses("x"), assigns("y")),
		chunk("c3", "print(y)", uses("y")),
	}, nil)

	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}
	i2, ok := g.Lookup("c2")
	if !ok {
		t.Fatal("c2 not in graph")
	}
	if got := ids(g, g.Dependencies(i2)); len(got) != 1 || got[0] != "c1" {
		t.Errorf("c2 dependencies = %v, want [c1]", got)
	}
	if got := ids(g, g.Dependents(i2)); len(got) != 1 || got[0] != "c3" {
		t.Errorf("c2 dependents = %v, want [c3]", got)
	}
}

func TestFirstProducerWins(t *testing.T) {
	g := Build([]CodeNode{
		chunk("c1", "x = 1", assigns("x")),
		chunk("c2", "x = 2", assigns("x")),
		chunk("c3", "print(x)", uses("x")),
	}, nil)

	i3, _ := g.Lookup("c3")
	if got := ids(g, g.Dependencies(i3)); len(got) != 1 || got[0] != "c1" {
		t.Errorf("c3 dependencies = %v, want [c1]", got)
	}
}

func TestFileEdges(t *testing.T) {
	g := Build([]CodeNode{
		chunk("writer", "save('out.csv')", writes("out.csv")),
		chunk("reader", "load('out.csv')", reads("out.csv")),
	}, nil)

	ir, _ := g.Lookup("reader")
	if got := ids(g, g.Dependencies(ir)); len(got) != 1 || got[0] != "writer" {
		t.Errorf("reader dependencies = %v, want [writer]", got)
	}
	rels := g.Relations()
	if len(rels) != 1 || rels[0].Kind != RelationReads {
		t.Errorf("relations = %v, want one Reads edge", rels)
	}
}

func TestExplicitRequires(t *testing.T) {
	g := Build([]CodeNode{
		chunk("setup", "init()"),
		chunk("main", "run()", requires("setup")),
	}, nil)

	im, _ := g.Lookup("main")
	if got := ids(g, g.Dependencies(im)); len(got) != 1 || got[0] != "setup" {
		t.Errorf("main dependencies = %v, want [setup]", got)
	}
}

func TestSelfEdgesAreDropped(t *testing.T) {
	g := Build([]CodeNode{
		chunk("c1", "x = x + 1", uses("x"), assigns("x")),
	}, nil)
	if len(g.Relations()) != 0 {
		t.Errorf("self edge survived: %v", g.Relations())
	}
}

func TestTopoSortIsDeterministic(t *testing.T) {
	build := func() *Graph {
		return Build([]CodeNode{
			chunk("a", "x = 1", assigns("x")),
			chunk("b", "y = 2", assigns("y")),
			chunk("c", "z = x + y", uses("x"), uses("y"), assigns("z")),
			chunk("d", "print(z)", uses("z")),
		}, nil)
	}
	g := build()
	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	got := ids(g, order)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	// Rebuilding gives the same order.
	again, err := build().TopoSort()
	if err != nil {
		t.Fatalf("TopoSort again: %v", err)
	}
	for i := range order {
		if order[i] != again[i] {
			t.Fatalf("order not stable: %v vs %v", order, again)
		}
	}
}

func TestCycleReportsMembersAndOrdersRest(t *testing.T) {
	g := Build([]CodeNode{
		chunk("a", "x = y", uses("y"), assigns("x")),
		chunk("b", "y = x", uses("x"), assigns("y")),
		chunk("free", "n = 1", assigns("n")),
	}, nil)

	order, err := g.TopoSort()
	if err == nil {
		t.Fatal("cycle went undetected")
	}
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %T, want *CycleError", err)
	}
	if len(ce.IDs) != 2 || ce.IDs[0] != "a" || ce.IDs[1] != "b" {
		t.Errorf("cycle members = %v, want [a b]", ce.IDs)
	}
	// The independent node still orders.
	got := ids(g, order)
	if len(got) != 1 || got[0] != "free" {
		t.Errorf("partial order = %v, want [free]", got)
	}
}

func TestUnchangedTracksSemanticDigest(t *testing.T) {
	first := Build([]CodeNode{
		chunk("c1", "x = 1", assigns("x")),
		chunk("c2", "y = x", uses("x")),
	}, nil)
	for i := 0; i < first.Len(); i++ {
		if first.Resource(i).Unchanged {
			t.Errorf("%s unchanged on first build", first.Resource(i).ID)
		}
	}

	// Reformatting c1 keeps it unchanged; editing c2 does not.
	second := Build([]CodeNode{
		chunk("c1", "x  =  1   # same", assigns("x")),
		chunk("c2", "y = x * 2", uses("x")),
	}, first.Digests())

	i1, _ := second.Lookup("c1")
	if !second.Resource(i1).Unchanged {
		t.Error("reformatted c1 should be unchanged")
	}
	i2, _ := second.Lookup("c2")
	if second.Resource(i2).Unchanged {
		t.Error("edited c2 should be changed")
	}
}
