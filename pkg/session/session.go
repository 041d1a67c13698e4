// Package session owns the live graph of a running supervisor.
//
// The graph itself is not safe for concurrent use because a pass re-enters
// it from inside node callbacks. A Session is the single writer: every edit,
// reload and pass from the HTTP API or the file watcher goes through its
// mutex, and it forwards execution results to the event publisher.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
	"github.com/openbms-io/supervisor-sub001/pkg/pubsub"
	"github.com/openbms-io/supervisor-sub001/pkg/router"
	"github.com/openbms-io/supervisor-sub001/pkg/workflow"
)

// Reasons attached to graph change events.
const (
	ReasonLoad   = "load"
	ReasonReload = "reload"
	ReasonEdit   = "edit"
)

// Session serializes access to one graph.
type Session struct {
	mu        sync.Mutex
	factory   workflow.NodeFactory
	g         *graph.Graph
	publisher pubsub.Publisher
	observers []graph.Observer
	logger    *slog.Logger
	last      *graph.PassReport
}

// Option configures a Session.
type Option func(*Session)

// WithPublisher publishes graph and execution events to p.
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithObserver adds an observer to every graph the session builds.
func WithObserver(o graph.Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// New creates a session with an empty graph.
func New(f workflow.NodeFactory, opts ...Option) *Session {
	s := &Session{
		factory: f,
		logger:  logging.New("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.g = s.newGraph()
	return s
}

func (s *Session) newGraph() *graph.Graph {
	opts := []graph.Option{graph.WithObserver(s)}
	for _, o := range s.observers {
		opts = append(opts, graph.WithObserver(o))
	}
	return graph.New(opts...)
}

// Load replaces the graph with one built from d. When the new graph is
// structurally identical to the current one the current graph is kept and
// changed is false.
func (s *Session) Load(d *workflow.Document, reason string) (res *workflow.ApplyResult, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.newGraph()
	res, err = workflow.Apply(next, s.factory, d)
	if err != nil {
		return nil, false, err
	}
	if n, _ := s.g.Len(); n > 0 && next.Fingerprint() == s.g.Fingerprint() {
		s.logger.Debug("workflow unchanged, keeping graph", "reason", reason)
		return res, false, nil
	}

	diff := workflow.ComputeDiff(workflow.Export(s.g), workflow.Export(next))
	for _, n := range s.g.Nodes() {
		if r, ok := n.(model.Resetter); ok {
			r.Reset()
		}
	}
	s.g = next
	s.last = nil
	s.logger.Info("graph loaded",
		"reason", reason,
		"nodes", res.Nodes,
		"edges", res.Edges,
		"rejected", len(res.Rejected),
		"added", len(diff.AddedNodes),
		"removed", len(diff.RemovedNodes),
		"modified", len(diff.ModifiedNodes))
	s.graphChanged(reason, diff)
	return res, true, nil
}

// LoadFile reads the workflow at path and loads it.
func (s *Session) LoadFile(path, reason string) (*workflow.ApplyResult, bool, error) {
	d, err := workflow.Load(path)
	if err != nil {
		return nil, false, err
	}
	return s.Load(d, reason)
}

// Execute runs one pass over the current graph.
func (s *Session) Execute(ctx context.Context) (*graph.PassReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.g.ExecuteWithMessages(ctx)
	if report != nil {
		s.last = report
	}
	return report, err
}

// LastReport returns the most recent pass report, if any.
func (s *Session) LastReport() (graph.PassReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return graph.PassReport{}, false
	}
	return *s.last, true
}

// AddNode builds a node from spec and adds it at pos.
func (s *Session) AddNode(spec nodes.Spec, pos graph.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.factory.Create(spec)
	if err != nil {
		return err
	}
	if err := s.g.AddNode(n, pos); err != nil {
		return err
	}
	s.graphChanged(ReasonEdit, nil)
	return nil
}

// RemoveNode removes a node and its connections.
func (s *Session) RemoveNode(id string) bool {
	return s.edit(func(g *graph.Graph) bool { return g.RemoveNode(id) })
}

// MoveNode updates where the editor draws a node.
func (s *Session) MoveNode(id string, pos graph.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.UpdateNodePosition(id, pos)
}

// TouchNode marks a node's data as changed.
func (s *Session) TouchNode(id string) bool {
	return s.edit(func(g *graph.Graph) bool { return g.UpdateNodeData(id) })
}

// Connect adds a connection. It returns false when the graph refuses it.
func (s *Session) Connect(sourceID, targetID, sourceHandle, targetHandle string) bool {
	return s.edit(func(g *graph.Graph) bool {
		return g.AddConnection(sourceID, targetID, sourceHandle, targetHandle)
	})
}

// Disconnect removes a connection.
func (s *Session) Disconnect(sourceID, targetID, sourceHandle, targetHandle string) bool {
	return s.edit(func(g *graph.Graph) bool {
		return g.RemoveConnection(sourceID, targetID, sourceHandle, targetHandle)
	})
}

// ValidateConnection reports whether a connection would be accepted.
func (s *Session) ValidateConnection(sourceID, targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.ValidateConnection(sourceID, targetID)
}

// ExecutionOrder returns the topological node order of the current graph.
func (s *Session) ExecutionOrder() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.ExecutionOrder()
}

// Export returns the current graph as a document.
func (s *Session) Export() *workflow.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workflow.Export(s.g)
}

// View is the editor's picture of the graph.
type View struct {
	Document    *workflow.Document `json:"document"`
	Fingerprint string             `json:"fingerprint"`
	State       graph.State        `json:"state"`
	Active      map[string]bool    `json:"active"`
	Reachable   map[string]bool    `json:"reachable"`
	Values      map[string]any     `json:"values"`
}

// View snapshots the graph for display.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Document:    workflow.Export(s.g),
		Fingerprint: fingerprint(s.g),
		State:       s.g.State(),
		Active:      s.g.EdgeActivations(),
		Reachable:   make(map[string]bool),
		Values:      make(map[string]any),
	}
	for _, n := range s.g.Nodes() {
		v.Reachable[n.ID()] = s.g.IsNodeReachable(n.ID())
		v.Values[n.ID()] = n.ComputedValue()
	}
	return v
}

// Fingerprint returns the structural hash of the current graph.
func (s *Session) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fingerprint(s.g)
}

func (s *Session) edit(fn func(g *graph.Graph) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(s.g) {
		return false
	}
	s.graphChanged(ReasonEdit, nil)
	return true
}

// graphChanged must be called with mu held.
func (s *Session) graphChanged(reason string, diff *workflow.Diff) {
	nodeCount, edgeCount := s.g.Len()
	ev := pubsub.GraphChanged{
		Reason:      reason,
		Fingerprint: fingerprint(s.g),
		Nodes:       nodeCount,
		Edges:       edgeCount,
	}
	if diff != nil {
		ev.AddedNodes = diff.AddedNodes
		ev.RemovedNodes = diff.RemovedNodes
		ev.ModifiedNodes = diff.ModifiedNodes
		ev.AddedEdges = diff.AddedEdges
		ev.RemovedEdges = diff.RemovedEdges
	}
	s.publish(ev)
}

// OnPass publishes the pass result and the resulting live wires.
func (s *Session) OnPass(report graph.PassReport) {
	status := pubsub.ExecutionStatus{
		PassID:     report.ID,
		Outcome:    string(report.Outcome),
		Sources:    len(report.Sources),
		Deliveries: report.Deliveries,
		Failures:   len(report.Failures),
		DurationMs: report.Duration.Milliseconds(),
	}
	for _, c := range report.Cycles {
		status.CycleNodes = append(status.CycleNodes, c.Nodes...)
	}
	s.publish(status)
	s.publish(pubsub.EdgeActivation{
		PassID: report.ID,
		Active: report.Active,
	})
}

// OnDelivery is part of graph.Observer.
func (s *Session) OnDelivery(router.Delivery) {}

func (s *Session) publish(v pubsub.Payload) {
	if s.publisher == nil {
		return
	}
	if err := pubsub.Send(s.publisher, v); err != nil && !errors.Is(err, pubsub.ErrClosed) {
		s.logger.Warn("publish failed", "topic", v.Topic(), "error", err)
	}
}

func fingerprint(g *graph.Graph) string {
	return fmt.Sprintf("%016x", g.Fingerprint())
}
