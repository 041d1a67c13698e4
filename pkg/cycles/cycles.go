// Package cycles names the nodes that take part in each cycle of a workflow
// graph, so an aborted pass can tell the editor what to highlight.
package cycles

import (
	"slices"

	"github.com/openbms-io/supervisor-sub001/pkg/topology"
)

// Cycle is one strongly connected group of nodes, in insertion order.
type Cycle struct {
	Nodes []string `json:"nodes"`
}

// Find returns every cycle in the view. A node wired to itself is reported as
// a cycle of one.
func Find(v *topology.View) []Cycle {
	out := make([]Cycle, 0)
	for _, id := range v.SelfLoops() {
		out = append(out, Cycle{Nodes: []string{id}})
	}

	for _, scc := range stronglyConnected(v.Graph()) {
		names := make([]string, 0, len(scc))
		for _, id := range scc {
			names = append(names, v.Name(id))
		}
		out = append(out, Cycle{Nodes: names})
	}
	return out
}

// Members flattens cycles into the set of involved node ids, in first-seen
// order.
func Members(cs []Cycle) []string {
	out := make([]string, 0)
	for _, c := range cs {
		for _, n := range c.Nodes {
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}
