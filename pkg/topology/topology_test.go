package topology

import (
	"errors"
	"testing"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

func edge(from, to string) *model.Edge {
	return &model.Edge{ID: model.EdgeID(from, "", to, ""), Source: from, Target: to}
}

func TestOrder_Stable(t *testing.T) {
	// c and a are both roots; insertion order puts c first.
	v := Build([]string{"c", "a", "b"}, []*model.Edge{edge("a", "b"), edge("c", "b")})

	order, err := v.Order()
	if err != nil {
		t.Fatalf("Order() failed: %v", err)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}
}

func TestOrder_Cycle(t *testing.T) {
	v := Build([]string{"a", "b"}, []*model.Edge{edge("a", "b"), edge("b", "a")})

	if _, err := v.Order(); !errors.Is(err, ErrNotAcyclic) {
		t.Errorf("Expected ErrNotAcyclic, got %v", err)
	}
}

func TestBuild_SelfLoopKeptOutOfGraph(t *testing.T) {
	v := Build([]string{"a"}, []*model.Edge{edge("a", "a")})

	if got := v.SelfLoops(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected self loop on a, got %v", got)
	}
	if _, err := v.Order(); !errors.Is(err, ErrNotAcyclic) {
		t.Errorf("Expected ErrNotAcyclic for self loop, got %v", err)
	}
}

func TestBuild_IgnoresDanglingAndParallelEdges(t *testing.T) {
	parallel := &model.Edge{ID: model.EdgeID("a", "x", "b", "y"), Source: "a", Target: "b"}
	v := Build([]string{"a", "b"}, []*model.Edge{edge("a", "b"), parallel, edge("a", "ghost")})

	if v.Len() != 2 {
		t.Errorf("Expected 2 nodes, got %d", v.Len())
	}
	if got := v.Downstream("a"); len(got) != 1 || got[0] != "b" {
		t.Errorf("Expected downstream [b], got %v", got)
	}
	if got := v.Upstream("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected upstream [a], got %v", got)
	}
	if got := v.Upstream("missing"); got != nil {
		t.Errorf("Expected nil for unknown node, got %v", got)
	}
}
