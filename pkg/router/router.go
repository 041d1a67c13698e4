// Package router holds the stateless message-routing functions of the
// execution engine. Every function works on the explicit snapshot it is
// given and never mutates the graph; the only side effect is calling
// Receive on target nodes.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/activation"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

var log = logging.New("router")

// Delivery records one message hand-off along an edge.
type Delivery struct {
	MessageID string        `json:"messageId"`
	EdgeID    string        `json:"edgeId"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Handle    string        `json:"handle"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Failed reports whether the target node failed while handling the message.
func (d Delivery) Failed() bool {
	return d.Err != nil
}

// Snapshot is the read-only view a routing call works on. Nodes is keyed by
// id; Order lists node ids in insertion order. Edges are in insertion order.
type Snapshot struct {
	Nodes map[string]model.Node
	Order []string
	Edges []*model.Edge
}

const (
	unvisited = iota
	visiting
	visited
)

// HasCycles reports whether the snapshot contains a directed cycle,
// including a node wired to itself.
func HasCycles(s Snapshot) bool {
	adj := make(map[string][]string, len(s.Order))
	for _, e := range s.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	state := make(map[string]int, len(s.Order))
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}

	for _, id := range s.Order {
		if state[id] == unvisited && visit(id) {
			return true
		}
	}
	return false
}

// FindSourceNodes returns the ids of the nodes that start a pass: nodes
// without incoming edges plus the intrinsic sources (constants and BACnet
// output points). Each node appears once, in insertion order, whichever rule
// qualified it.
func FindSourceNodes(s Snapshot) []string {
	hasIncoming := make(map[string]bool, len(s.Edges))
	for _, e := range s.Edges {
		hasIncoming[e.Target] = true
	}

	out := make([]string, 0)
	for _, id := range s.Order {
		n, ok := s.Nodes[id]
		if !ok {
			continue
		}
		if !hasIncoming[id] || activation.IsIntrinsicSource(n) {
			out = append(out, id)
		}
	}
	return out
}

// RouteMessage delivers msg along every active edge leaving (from, handle),
// one target at a time in edge order. A target that returns an error or
// panics is recorded as a failed delivery; routing continues with the next
// edge. onDelivery, if non-nil, is called after each delivery completes.
func RouteMessage(ctx context.Context, msg model.Message, from, handle string, s Snapshot, onDelivery func(Delivery)) []Delivery {
	handle = model.NormalizeHandle(handle)
	out := make([]Delivery, 0)

	for _, e := range s.Edges {
		if e.Source != from || e.SourceHandle != handle || !e.Active() {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.DebugContext(ctx, "routing stopped", "from", from, "error", err)
			break
		}

		target, ok := s.Nodes[e.Target]
		if !ok {
			log.Warn("edge points to missing node", "edge", e.ID, "target", e.Target)
			continue
		}

		d := deliver(ctx, msg, target, e.ID, e.Source, e.TargetHandle)
		out = append(out, d)
		if onDelivery != nil {
			onDelivery(d)
		}
	}
	return out
}

// Trigger hands the kick-off message of a pass to a source node. It has the
// same failure isolation as RouteMessage.
func Trigger(ctx context.Context, msg model.Message, target model.Node) Delivery {
	return deliver(ctx, msg, target, "", model.SystemSender, model.DefaultHandle)
}

func deliver(ctx context.Context, msg model.Message, target model.Node, edgeID, from, handle string) (d Delivery) {
	d = Delivery{
		MessageID: msg.ID,
		EdgeID:    edgeID,
		From:      from,
		To:        target.ID(),
		Handle:    handle,
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.Err = fmt.Errorf("node %s panicked: %v", d.To, r)
		}
		d.Duration = time.Since(start)
		if d.Err != nil {
			log.WarnContext(ctx, "node failed to handle message",
				"node", d.To, "from", d.From, "edge", d.EdgeID, "error", d.Err)
		}
	}()

	log.Log(ctx, logging.LevelTrace, "deliver", "to", d.To, "edge", edgeID, "message", msg.ID)
	d.Err = target.Receive(ctx, msg, handle, from)
	return d
}
