// Package topology derives a gonum directed graph from a node/edge snapshot.
//
// The view is rebuilt on demand and never outlives the call that asked for
// it. Self-edges are kept out of the gonum graph, which rejects them, and are
// reported through SelfLoops instead.
package topology

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// ErrNotAcyclic is returned by Order when the view contains a cycle.
var ErrNotAcyclic = errors.New("graph is not acyclic")

// View is a read-only directed view over one snapshot. Gonum node ids are the
// insertion index of the workflow node they stand for.
type View struct {
	g         *simple.DirectedGraph
	index     map[string]int64
	names     []string
	selfLoops []string
}

// Build creates a view from node ids in insertion order and the edges
// between them. Edges referencing unknown nodes are ignored.
func Build(nodeIDs []string, edges []*model.Edge) *View {
	v := &View{
		g:     simple.NewDirectedGraph(),
		index: make(map[string]int64, len(nodeIDs)),
		names: make([]string, 0, len(nodeIDs)),
	}
	for _, id := range nodeIDs {
		if _, dup := v.index[id]; dup {
			continue
		}
		n := int64(len(v.names))
		v.index[id] = n
		v.names = append(v.names, id)
		v.g.AddNode(simple.Node(n))
	}

	for _, e := range edges {
		from, ok1 := v.index[e.Source]
		to, ok2 := v.index[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		if from == to {
			if !slices.Contains(v.selfLoops, e.Source) {
				v.selfLoops = append(v.selfLoops, e.Source)
			}
			continue
		}
		// Parallel edges between the same pair collapse to one gonum edge.
		if v.g.HasEdgeFromTo(from, to) {
			continue
		}
		v.g.SetEdge(v.g.NewEdge(v.g.Node(from), v.g.Node(to)))
	}
	return v
}

// Graph returns the underlying gonum graph.
func (v *View) Graph() graph.Directed {
	return v.g
}

// Name returns the workflow node id for a gonum node id.
func (v *View) Name(id int64) string {
	if id < 0 || int(id) >= len(v.names) {
		return ""
	}
	return v.names[id]
}

// Index returns the gonum node id for a workflow node id.
func (v *View) Index(name string) (int64, bool) {
	id, ok := v.index[name]
	return id, ok
}

// Len returns the number of nodes in the view.
func (v *View) Len() int {
	return len(v.names)
}

// SelfLoops returns the ids of nodes with an edge to themselves, in insertion
// order.
func (v *View) SelfLoops() []string {
	return slices.Clone(v.selfLoops)
}

// Upstream returns the ids of the direct predecessors of name in insertion
// order.
func (v *View) Upstream(name string) []string {
	id, ok := v.index[name]
	if !ok {
		return nil
	}
	return v.collect(v.g.To(id))
}

// Downstream returns the ids of the direct successors of name in insertion
// order.
func (v *View) Downstream(name string) []string {
	id, ok := v.index[name]
	if !ok {
		return nil
	}
	return v.collect(v.g.From(id))
}

func (v *View) collect(it graph.Nodes) []string {
	ids := make([]int64, 0, it.Len())
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	slices.Sort(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = v.names[id]
	}
	return out
}

// Order returns the node ids in a topological order. Ties are broken by
// insertion order so the result is stable for an unchanged graph.
func (v *View) Order() ([]string, error) {
	if len(v.selfLoops) > 0 {
		return nil, fmt.Errorf("%w: self loop on %v", ErrNotAcyclic, v.selfLoops)
	}
	sorted, err := topo.SortStabilized(v.g, byInsertion)
	if err != nil {
		var unorderable topo.Unorderable
		if errors.As(err, &unorderable) {
			return nil, fmt.Errorf("%w: %d strongly connected components", ErrNotAcyclic, len(unorderable))
		}
		return nil, err
	}
	out := make([]string, len(sorted))
	for i, n := range sorted {
		out[i] = v.names[n.ID()]
	}
	return out, nil
}

func byInsertion(nodes []graph.Node) {
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
}
