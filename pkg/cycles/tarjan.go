package cycles

import (
	"slices"

	"gonum.org/v1/gonum/graph"
)

// tarjanVertex is the bookkeeping Tarjan's algorithm keeps per node.
type tarjanVertex struct {
	index   int
	low     int
	onStack bool
}

// stronglyConnected returns the strongly connected components of g that
// hold more than one node. Roots are tried in ascending id order and each
// component is sorted, so the result only depends on the graph's shape.
// Self-loops form components of one and are left to the caller.
func stronglyConnected(g graph.Directed) [][]int64 {
	seen := make(map[int64]*tarjanVertex)
	stack := make([]int64, 0)
	out := make([][]int64, 0)
	next := 0

	var visit func(id int64) *tarjanVertex
	visit = func(id int64) *tarjanVertex {
		v := &tarjanVertex{index: next, low: next, onStack: true}
		seen[id] = v
		next++
		stack = append(stack, id)

		to := g.From(id)
		for to.Next() {
			succ := to.Node().ID()
			w, ok := seen[succ]
			switch {
			case !ok:
				v.low = min(v.low, visit(succ).low)
			case w.onStack:
				v.low = min(v.low, w.index)
			}
		}

		if v.low != v.index {
			return v
		}
		var comp []int64
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			seen[top].onStack = false
			comp = append(comp, top)
			if top == id {
				break
			}
		}
		if len(comp) > 1 {
			slices.Sort(comp)
			out = append(out, comp)
		}
		return v
	}

	roots := graph.NodesOf(g.Nodes())
	ids := make([]int64, 0, len(roots))
	for _, n := range roots {
		ids = append(ids, n.ID())
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			visit(id)
		}
	}
	return out
}
