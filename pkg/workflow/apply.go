package workflow

import (
	"fmt"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
)

// NodeFactory builds nodes from their persisted form.
type NodeFactory interface {
	Create(spec nodes.Spec) (model.Node, error)
}

// ApplyResult tells what happened to each part of a document.
type ApplyResult struct {
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	Rejected []EdgeDoc `json:"rejected,omitempty"`
}

// Apply adds the document's nodes and connections to g. A node that cannot
// be built fails the whole call; a connection the nodes refuse is skipped and
// listed in the result.
func Apply(g *graph.Graph, f NodeFactory, d *Document) (*ApplyResult, error) {
	log := logging.New("workflow")

	built := make([]model.Node, 0, len(d.Nodes))
	for _, nd := range d.Nodes {
		n, err := f.Create(nodes.Spec{
			ID:        nd.ID,
			Category:  nd.Category,
			Type:      nd.Type,
			Direction: nd.Direction,
			Metadata:  nd.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("apply workflow: %w", err)
		}
		built = append(built, n)
	}

	res := &ApplyResult{}
	for i, n := range built {
		pos := d.Nodes[i].Position
		if err := g.AddNode(n, graph.Position{X: pos.X, Y: pos.Y}); err != nil {
			return nil, fmt.Errorf("apply workflow: %w", err)
		}
		res.Nodes++
	}
	for _, e := range d.Edges {
		if !g.AddConnection(e.Source, e.Target, e.SourceHandle, e.TargetHandle) {
			log.Warn("connection rejected", "edge", e.String())
			res.Rejected = append(res.Rejected, e)
			continue
		}
		res.Edges++
	}
	return res, nil
}

// Build creates a new graph from the document.
func Build(f NodeFactory, d *Document, opts ...graph.Option) (*graph.Graph, *ApplyResult, error) {
	g := graph.New(opts...)
	res, err := Apply(g, f, d)
	if err != nil {
		return nil, nil, err
	}
	return g, res, nil
}

// Export reads a graph back into a document.
func Export(g *graph.Graph) *Document {
	d := &Document{Version: CurrentVersion, Nodes: []NodeDoc{}, Edges: []EdgeDoc{}}
	for _, n := range g.Nodes() {
		pos, _ := g.Position(n.ID())
		d.Nodes = append(d.Nodes, NodeDoc{
			ID:        n.ID(),
			Category:  n.Category(),
			Type:      n.Type(),
			Direction: n.Direction(),
			Position:  PositionDoc{X: pos.X, Y: pos.Y},
			Metadata:  n.Metadata(),
		})
	}
	for _, e := range g.Edges() {
		d.Edges = append(d.Edges, EdgeDoc{
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return d
}
