package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openbms-io/supervisor-sub001/pkg/cycles"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
	"github.com/openbms-io/supervisor-sub001/pkg/router"
	"github.com/openbms-io/supervisor-sub001/pkg/topology"
)

// State is the phase of the execution state machine.
type State string

const (
	StateIdle        State = "idle"
	StateCycleCheck  State = "cycle-check"
	StateAborted     State = "aborted"
	StateResetting   State = "resetting"
	StateSeeding     State = "seeding"
	StatePropagating State = "propagating"
)

// Outcome is how a pass ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// PassReport summarizes one execution pass.
type PassReport struct {
	ID         string            `json:"id"`
	Started    time.Time         `json:"started"`
	Duration   time.Duration     `json:"duration"`
	Outcome    Outcome           `json:"outcome"`
	Sources    []string          `json:"sources"`
	Deliveries int               `json:"deliveries"`
	Failures   []router.Delivery `json:"failures,omitempty"`
	Cycles     []cycles.Cycle    `json:"cycles,omitempty"`
	Values     map[string]any    `json:"values"`
	Statuses   map[string]string `json:"statuses,omitempty"`
	Active     map[string]bool   `json:"active"`
}

// Observer is notified about execution. Callbacks run on the executing
// goroutine and must not edit the graph.
type Observer interface {
	OnPass(report PassReport)
	OnDelivery(d router.Delivery)
}

type passState struct {
	deliveries int
	failures   []router.Delivery
}

// port is the outbound side the graph hands to each node.
type port struct {
	g      *Graph
	nodeID string
}

// Emit activates the node's outgoing edges for handle and routes msg along
// them, using the graph as it is at the time of the call.
func (p *port) Emit(ctx context.Context, msg model.Message, handle string) error {
	e, ok := p.g.nodes[p.nodeID]
	if !ok {
		return fmt.Errorf("emit from %s: %w", p.nodeID, ErrNodeNotFound)
	}
	p.g.activation.OnOutput(e.node, handle, p.g.edgeView())
	router.RouteMessage(ctx, msg, p.nodeID, handle, p.g.snapshot(), p.g.recordDelivery)
	return nil
}

// Upstream lists the node's incoming links in edge insertion order.
func (p *port) Upstream() []model.Link {
	return p.g.upstreamLinks(p.nodeID)
}

func (g *Graph) snapshot() router.Snapshot {
	return router.Snapshot{
		Nodes: g.nodeTable(),
		Order: append([]string(nil), g.nodeOrder...),
		Edges: g.edgeView(),
	}
}

func (g *Graph) recordDelivery(d router.Delivery) {
	if g.pass != nil {
		g.pass.deliveries++
		if d.Failed() {
			g.pass.failures = append(g.pass.failures, d)
		}
	}
	for _, o := range g.observers {
		o.OnDelivery(d)
	}
}

// ExecuteWithMessages runs one pass: cycle check, reset, seeding and
// propagation from the source nodes. On a cycle it returns a *CycleError and
// leaves every node and edge untouched. Node failures never fail the pass;
// they are listed in the report.
func (g *Graph) ExecuteWithMessages(ctx context.Context) (*PassReport, error) {
	if g.state != StateIdle {
		return nil, ErrPassInProgress
	}
	defer func() { g.state = StateIdle }()

	report := &PassReport{ID: uuid.NewString(), Started: time.Now()}
	ctx = logging.WithPassID(ctx, report.ID)

	g.state = StateCycleCheck
	snap := g.snapshot()
	if router.HasCycles(snap) {
		g.state = StateAborted
		report.Outcome = OutcomeAborted
		report.Cycles = cycles.Find(topology.Build(snap.Order, snap.Edges))
		g.finish(report)
		err := &CycleError{Cycles: report.Cycles}
		g.logger.WarnContext(ctx, "execution aborted", "error", err)
		return report, err
	}

	g.state = StateResetting
	for _, id := range snap.Order {
		if r, ok := snap.Nodes[id].(model.Resetter); ok {
			r.Reset()
		}
	}
	g.activation.ResetAll(snap.Edges)

	g.state = StateSeeding
	report.Sources = router.FindSourceNodes(snap)
	for _, id := range report.Sources {
		g.activation.ActivateOutgoing(id, snap.Edges)
	}

	g.state = StatePropagating
	g.pass = &passState{}
	defer func() { g.pass = nil }()

	report.Outcome = OutcomeCompleted
	for _, id := range report.Sources {
		if ctx.Err() != nil {
			report.Outcome = OutcomeCancelled
			break
		}
		e, ok := g.nodes[id]
		if !ok {
			continue
		}
		if d := router.Trigger(ctx, model.NewTriggerMessage(), e.node); d.Failed() {
			g.pass.failures = append(g.pass.failures, d)
		}
	}
	if ctx.Err() != nil {
		report.Outcome = OutcomeCancelled
	}

	report.Deliveries = g.pass.deliveries
	report.Failures = g.pass.failures
	g.finish(report)

	g.logger.InfoContext(ctx, "execution finished",
		"outcome", report.Outcome,
		"sources", len(report.Sources),
		"deliveries", report.Deliveries,
		"failures", len(report.Failures),
		"durationMs", report.Duration.Milliseconds())
	return report, nil
}

func (g *Graph) finish(report *PassReport) {
	report.Duration = time.Since(report.Started)
	report.Values = make(map[string]any, len(g.nodes))
	report.Statuses = make(map[string]string)
	for _, id := range g.nodeOrder {
		n := g.nodes[id].node
		report.Values[id] = n.ComputedValue()
		if v, ok := n.(model.Valuer); ok {
			report.Statuses[id] = string(v.Status())
		}
	}
	report.Active = g.EdgeActivations()
	for _, o := range g.observers {
		o.OnPass(*report)
	}
}
