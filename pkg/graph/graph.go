// Package graph is the single source of truth for a workflow: it owns the
// node and edge tables, exposes the editing API used by the editor, and runs
// execution passes over them.
//
// A Graph is not safe for concurrent use. Edits must not be interleaved with
// a running pass; callers serialize access (see package session).
package graph

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/openbms-io/supervisor-sub001/pkg/activation"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// Position is where the editor draws a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type entry struct {
	node     model.Node
	position Position
	revision uint64
}

// Graph stores nodes and edges in insertion-ordered tables.
type Graph struct {
	nodes     map[string]*entry
	nodeOrder []string
	edges     map[string]*model.Edge
	edgeOrder []string

	activation *activation.Manager
	observers  []Observer
	logger     *slog.Logger

	state State
	pass  *passState
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// WithObserver registers an observer for passes and deliveries.
func WithObserver(o Observer) Option {
	return func(g *Graph) { g.observers = append(g.observers, o) }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		nodes:      make(map[string]*entry),
		edges:      make(map[string]*model.Edge),
		activation: activation.New(),
		logger:     logging.New("graph"),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddObserver registers an observer after construction.
func (g *Graph) AddObserver(o Observer) {
	g.observers = append(g.observers, o)
}

// AddNode registers n at pos. Nodes that accept a port get one bound to this
// graph; other nodes can receive but never propagate.
func (g *Graph) AddNode(n model.Node, pos Position) error {
	if n == nil || n.ID() == "" {
		return fmt.Errorf("add node: empty id")
	}
	if _, exists := g.nodes[n.ID()]; exists {
		return fmt.Errorf("add node %s: %w", n.ID(), ErrDuplicateNode)
	}

	g.nodes[n.ID()] = &entry{node: n, position: pos}
	g.nodeOrder = append(g.nodeOrder, n.ID())

	if pa, ok := n.(model.PortAttacher); ok {
		pa.AttachPort(&port{g: g, nodeID: n.ID()})
	}

	g.logger.Debug("node added", "node", n.ID(), "category", n.Category(), "type", n.Type())
	return nil
}

// RemoveNode resets the node, removes every edge touching it, then removes
// the node. It reports whether the node existed.
func (g *Graph) RemoveNode(id string) bool {
	e, ok := g.nodes[id]
	if !ok {
		return false
	}

	if r, ok := e.node.(model.Resetter); ok {
		r.Reset()
	}

	removed := 0
	for _, eid := range slices.Clone(g.edgeOrder) {
		edge := g.edges[eid]
		if edge.Source == id || edge.Target == id {
			g.deleteEdge(eid)
			removed++
		}
	}

	delete(g.nodes, id)
	g.nodeOrder = slices.DeleteFunc(g.nodeOrder, func(s string) bool { return s == id })

	g.logger.Debug("node removed", "node", id, "edges", removed)
	return true
}

// AddConnection connects source to target. It returns false when either node
// is missing or the source rejects the target. Adding an existing connection
// again replaces it in place.
func (g *Graph) AddConnection(sourceID, targetID, sourceHandle, targetHandle string) bool {
	src, tgt, ok := g.pair(sourceID, targetID)
	if !ok || !src.CanConnectWith(tgt) {
		return false
	}

	edge := model.NewEdge(src, sourceHandle, tgt, targetHandle)
	if _, exists := g.edges[edge.ID]; !exists {
		g.edgeOrder = append(g.edgeOrder, edge.ID)
	}
	g.edges[edge.ID] = edge

	g.logger.Debug("connection added", "edge", edge.ID)
	return true
}

// RemoveConnection removes the connection identified by its endpoints.
func (g *Graph) RemoveConnection(sourceID, targetID, sourceHandle, targetHandle string) bool {
	id := model.EdgeID(sourceID, sourceHandle, targetID, targetHandle)
	if _, ok := g.edges[id]; !ok {
		return false
	}
	g.deleteEdge(id)
	return true
}

// HasEdge reports whether the connection exists.
func (g *Graph) HasEdge(sourceID, targetID, sourceHandle, targetHandle string) bool {
	_, ok := g.edges[model.EdgeID(sourceID, sourceHandle, targetID, targetHandle)]
	return ok
}

// ValidateConnection reports whether AddConnection would accept the pair. It
// does not change the graph.
func (g *Graph) ValidateConnection(sourceID, targetID string) bool {
	src, tgt, ok := g.pair(sourceID, targetID)
	return ok && src.CanConnectWith(tgt)
}

// UpdateNodePosition moves a node in the editor.
func (g *Graph) UpdateNodePosition(id string, pos Position) bool {
	e, ok := g.nodes[id]
	if !ok {
		return false
	}
	e.position = pos
	return true
}

// UpdateNodeData bumps the node's revision so observers notice in-place
// changes to its internal state.
func (g *Graph) UpdateNodeData(id string) bool {
	e, ok := g.nodes[id]
	if !ok {
		return false
	}
	e.revision++
	return true
}

func (g *Graph) pair(sourceID, targetID string) (model.Node, model.Node, bool) {
	src, ok1 := g.nodes[sourceID]
	tgt, ok2 := g.nodes[targetID]
	if !ok1 || !ok2 {
		return nil, nil, false
	}
	return src.node, tgt.node, true
}

func (g *Graph) deleteEdge(id string) {
	delete(g.edges, id)
	g.edgeOrder = slices.DeleteFunc(g.edgeOrder, func(s string) bool { return s == id })
}

// edgeView returns the live edges in insertion order. The slice is fresh;
// the edges are not.
func (g *Graph) edgeView() []*model.Edge {
	out := make([]*model.Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// nodeTable returns a fresh id to node map.
func (g *Graph) nodeTable() map[string]model.Node {
	out := make(map[string]model.Node, len(g.nodes))
	for id, e := range g.nodes {
		out[id] = e.node
	}
	return out
}
