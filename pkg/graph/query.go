package graph

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/openbms-io/supervisor-sub001/pkg/activation"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
	"github.com/openbms-io/supervisor-sub001/pkg/topology"
)

// AllNodes returns the node table keyed by id. The map is a copy.
func (g *Graph) AllNodes() map[string]model.Node {
	return g.nodeTable()
}

// Node returns the node with id.
func (g *Graph) Node(id string) (model.Node, bool) {
	e, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return e.node, true
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []model.Node {
	out := make([]model.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].node)
	}
	return out
}

// Edges returns copies of every edge in insertion order.
func (g *Graph) Edges() []model.Edge {
	out := make([]model.Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id].Clone())
	}
	return out
}

// Position returns where the node is drawn.
func (g *Graph) Position(id string) (Position, bool) {
	e, ok := g.nodes[id]
	if !ok {
		return Position{}, false
	}
	return e.position, true
}

// Revision returns how many times UpdateNodeData was called for the node.
func (g *Graph) Revision(id string) uint64 {
	if e, ok := g.nodes[id]; ok {
		return e.revision
	}
	return 0
}

// UpstreamNodes returns the distinct nodes with an edge into id.
func (g *Graph) UpstreamNodes(id string) []model.Node {
	return g.resolve(g.view().Upstream(id))
}

// DownstreamNodes returns the distinct nodes id has an edge to.
func (g *Graph) DownstreamNodes(id string) []model.Node {
	return g.resolve(g.view().Downstream(id))
}

// upstreamLinks lists every incoming edge of id, one link per edge.
func (g *Graph) upstreamLinks(id string) []model.Link {
	out := make([]model.Link, 0)
	for _, eid := range g.edgeOrder {
		e := g.edges[eid]
		if e.Target != id {
			continue
		}
		src, ok := g.nodes[e.Source]
		if !ok {
			continue
		}
		out = append(out, model.Link{
			EdgeID:       e.ID,
			Node:         src.node,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Active:       e.Active(),
		})
	}
	return out
}

// ExecutionOrder returns the node ids in topological order, ties broken by
// insertion order. It fails on a cycle.
func (g *Graph) ExecutionOrder() ([]string, error) {
	order, err := g.view().Order()
	if err != nil {
		return nil, fmt.Errorf("execution order: %w", err)
	}
	return order, nil
}

// EdgeActivations returns the activation flag of every edge by id.
func (g *Graph) EdgeActivations() map[string]bool {
	out := make(map[string]bool, len(g.edges))
	for id, e := range g.edges {
		out[id] = e.Active()
	}
	return out
}

// IsNodeReachable reports whether the node was, or could be, reached in the
// last pass. It is meant for rendering.
func (g *Graph) IsNodeReachable(id string) bool {
	e, ok := g.nodes[id]
	if !ok {
		return false
	}
	return activation.IsNodeReachable(e.node, g.edgeView())
}

// State returns the current phase of the execution state machine.
func (g *Graph) State() State {
	return g.state
}

// Len returns the number of nodes and edges.
func (g *Graph) Len() (nodes, edges int) {
	return len(g.nodes), len(g.edges)
}

// Fingerprint hashes the structure of the graph: node ids, kinds and
// metadata plus edge ids. Positions, revisions and runtime state are left
// out, so two graphs built from the same document hash alike.
func (g *Graph) Fingerprint() uint64 {
	d := xxhash.New()
	for _, id := range g.nodeOrder {
		n := g.nodes[id].node
		_, _ = d.WriteString(id)
		_, _ = d.WriteString(string(n.Category()))
		_, _ = d.WriteString(n.Type())
		_, _ = d.WriteString(string(n.Direction()))
		if meta, err := json.Marshal(n.Metadata()); err == nil {
			_, _ = d.Write(meta)
		} else {
			// NaN and infinities do not marshal; fmt prints maps in key order.
			_, _ = d.WriteString(fmt.Sprint(n.Metadata()))
		}
		_, _ = d.WriteString("\x00")
	}
	_, _ = d.WriteString(strconv.Itoa(len(g.edgeOrder)))
	for _, id := range g.edgeOrder {
		_, _ = d.WriteString(id)
		_, _ = d.WriteString("\x00")
	}
	return d.Sum64()
}

func (g *Graph) view() *topology.View {
	return topology.Build(g.nodeOrder, g.edgeView())
}

func (g *Graph) resolve(ids []string) []model.Node {
	out := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id].node)
	}
	return out
}
