package cycles

import (
	"testing"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
	"github.com/openbms-io/supervisor-sub001/pkg/topology"
)

func edge(from, to string) *model.Edge {
	return &model.Edge{ID: model.EdgeID(from, "", to, ""), Source: from, Target: to}
}

func TestFind_NoCycles(t *testing.T) {
	v := topology.Build([]string{"a", "b", "c"}, []*model.Edge{edge("a", "b"), edge("b", "c")})

	if cs := Find(v); len(cs) != 0 {
		t.Errorf("Expected no cycles, but found %d", len(cs))
	}
}

func TestFind_SimpleCycle(t *testing.T) {
	v := topology.Build([]string{"a", "b"}, []*model.Edge{edge("a", "b"), edge("b", "a")})

	cs := Find(v)
	if len(cs) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cs))
	}
	if got := cs[0].Nodes; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected cycle [a b], got %v", got)
	}
}

func TestFind_ThreeNodeCycleWithTail(t *testing.T) {
	v := topology.Build(
		[]string{"entry", "x", "y", "z", "exit"},
		[]*model.Edge{edge("entry", "x"), edge("x", "y"), edge("y", "z"), edge("z", "x"), edge("z", "exit")},
	)

	cs := Find(v)
	if len(cs) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cs))
	}
	if len(cs[0].Nodes) != 3 {
		t.Errorf("Expected cycle of length 3, got %v", cs[0].Nodes)
	}
	for _, n := range cs[0].Nodes {
		if n == "entry" || n == "exit" {
			t.Errorf("node %s is not part of the cycle", n)
		}
	}
}

func TestFind_TwoCyclesJoinedByBridge(t *testing.T) {
	v := topology.Build(
		[]string{"p", "q", "r", "s"},
		[]*model.Edge{edge("p", "q"), edge("q", "p"), edge("q", "r"), edge("r", "s"), edge("s", "r")},
	)

	cs := Find(v)
	if len(cs) != 2 {
		t.Fatalf("Expected 2 cycles, but found %d: %v", len(cs), cs)
	}
	found := map[string]bool{}
	for _, c := range cs {
		if len(c.Nodes) != 2 {
			t.Errorf("Expected cycles of two nodes, got %v", c.Nodes)
			continue
		}
		found[c.Nodes[0]+c.Nodes[1]] = true
	}
	if !found["pq"] || !found["rs"] {
		t.Errorf("Expected cycles [p q] and [r s], got %v", cs)
	}
}

func TestFind_SelfLoop(t *testing.T) {
	v := topology.Build([]string{"a", "b"}, []*model.Edge{edge("a", "a"), edge("a", "b")})

	cs := Find(v)
	if len(cs) != 1 || len(cs[0].Nodes) != 1 || cs[0].Nodes[0] != "a" {
		t.Errorf("Expected self loop on a, got %v", cs)
	}
}

func TestMembers(t *testing.T) {
	got := Members([]Cycle{{Nodes: []string{"a", "b"}}, {Nodes: []string{"b", "c"}}})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Members()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
