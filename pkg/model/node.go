package model

import "context"

// Category is the closed set of node families a graph can hold.
type Category string

const (
	CategoryBACnet      Category = "BACNET"
	CategoryLogic       Category = "LOGIC"
	CategoryControlFlow Category = "CONTROL_FLOW"
	CategoryCommand     Category = "COMMAND"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBACnet, CategoryLogic, CategoryControlFlow, CategoryCommand:
		return true
	}
	return false
}

// Direction tells whether a BACnet point feeds values into the graph (output)
// or receives values from it (input). Other categories leave it empty.
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Well-known node types that the activation policy treats specially.
const (
	TypeConstant = "constant"
)

// Node is the behavioral contract every graph participant implements.
//
// Receive is called by the router with the message, the target handle the
// edge is attached to, and the id of the sending node ("system" for the
// trigger that starts a pass). Compute failures should be recorded on the
// node itself; a returned error is treated as node-local and never aborts
// the pass.
type Node interface {
	ID() string
	Category() Category
	Type() string
	Direction() Direction
	Metadata() map[string]any
	ComputedValue() any

	// CanConnectWith decides whether an edge from this node to target is
	// allowed. It must not consult graph state.
	CanConnectWith(target Node) bool

	Receive(ctx context.Context, msg Message, handle string, fromNodeID string) error
}

// Resetter is implemented by nodes holding per-pass state or resources such
// as timers. Reset is called before every pass and before removal.
type Resetter interface {
	Reset()
}

// PortAttacher is implemented by nodes that emit messages. The graph hands
// each such node a Port when it is added. Nodes without it can receive but
// never propagate.
type PortAttacher interface {
	AttachPort(p Port)
}

// Port is a node's outbound side: it emits messages on a named output handle
// and answers read-only questions about the node's upstream links.
type Port interface {
	Emit(ctx context.Context, msg Message, handle string) error
	Upstream() []Link
}

// Link describes one incoming edge from the receiving node's point of view.
// Active mirrors the edge's activation at the time the link was listed.
type Link struct {
	EdgeID       string
	Node         Node
	SourceHandle string
	TargetHandle string
	Active       bool
}

// Key identifies the operand slot a link fills on the receiving node.
func (l Link) Key() string {
	return OperandKey(l.Node.ID(), l.TargetHandle)
}

// OperandKey builds the key nodes use to remember the last value received
// from a given upstream node on a given handle.
func OperandKey(fromNodeID, handle string) string {
	return fromNodeID + "/" + NormalizeHandle(handle)
}

// Valuer is an optional capability for nodes that report a status besides
// their computed value.
type Valuer interface {
	Status() Status
	Err() error
}

// Status is the node-local execution state surfaced to the UI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)
