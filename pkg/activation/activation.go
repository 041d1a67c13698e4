// Package activation decides which edges may carry a message during the
// current execution pass.
//
// Control-flow nodes activate only the output handle their logic selected;
// every other category broadcasts on all of its outgoing edges. The manager
// holds no edge state of its own: every call receives the edge view it is
// allowed to read and flip for the duration of that call.
package activation

import (
	"log/slog"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// Manager implements the activation policy.
type Manager struct {
	logger *slog.Logger
}

// New creates an activation manager.
func New() *Manager {
	return &Manager{logger: logging.New("activation")}
}

// ResetAll marks every edge inactive.
func (m *Manager) ResetAll(edges []*model.Edge) {
	for _, e := range edges {
		e.SetActive(false)
	}
}

// ActivateOutgoing activates every edge leaving nodeID and returns how many
// edges were touched.
func (m *Manager) ActivateOutgoing(nodeID string, edges []*model.Edge) int {
	n := 0
	for _, e := range edges {
		if e.Source == nodeID {
			e.SetActive(true)
			n++
		}
	}
	return n
}

// ActivateHandle activates the edges leaving nodeID from handle and
// deactivates the node's other outgoing edges, so a branch selects exactly
// one path even if the node emits more than once in a pass.
func (m *Manager) ActivateHandle(nodeID, handle string, edges []*model.Edge) int {
	handle = model.NormalizeHandle(handle)
	n := 0
	for _, e := range edges {
		if e.Source != nodeID {
			continue
		}
		on := e.SourceHandle == handle
		e.SetActive(on)
		if on {
			n++
		}
	}
	return n
}

// OnOutput applies the policy for a node that just produced output on
// handle.
func (m *Manager) OnOutput(node model.Node, handle string, edges []*model.Edge) int {
	switch node.Category() {
	case model.CategoryControlFlow:
		n := m.ActivateHandle(node.ID(), handle, edges)
		m.logger.Debug("activated branch", "node", node.ID(), "handle", model.NormalizeHandle(handle), "edges", n)
		return n
	case model.CategoryBACnet, model.CategoryLogic, model.CategoryCommand:
		return m.ActivateOutgoing(node.ID(), edges)
	default:
		m.logger.Warn("unknown node category, broadcasting", "node", node.ID(), "category", node.Category())
		return m.ActivateOutgoing(node.ID(), edges)
	}
}

// IsSource reports whether node starts execution on its own: it has no
// incoming edges, it is a constant, or it is a BACnet output point.
func IsSource(node model.Node, edges []*model.Edge) bool {
	if IsIntrinsicSource(node) {
		return true
	}
	for _, e := range edges {
		if e.Target == node.ID() {
			return false
		}
	}
	return true
}

// IsIntrinsicSource reports whether node is a source regardless of its
// incoming edges.
func IsIntrinsicSource(node model.Node) bool {
	if node.Type() == model.TypeConstant {
		return true
	}
	return node.Category() == model.CategoryBACnet && node.Direction() == model.DirectionOutput
}

// IsNodeReachable reports whether node is a source or has at least one active
// incoming edge. It is meant for visualization only.
func IsNodeReachable(node model.Node, edges []*model.Edge) bool {
	if IsSource(node, edges) {
		return true
	}
	for _, e := range edges {
		if e.Target == node.ID() && e.Active() {
			return true
		}
	}
	return false
}
