// Package nodes implements the node categories a workflow is built from:
// BACnet points, logic operators, control-flow gates and outbound commands.
package nodes

import (
	"context"
	"errors"
	"maps"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

var (
	// ErrUnknownType is returned by the factory for an unregistered type.
	ErrUnknownType = errors.New("unknown node type")
	// ErrCategoryMismatch is returned when a type is used under the wrong category.
	ErrCategoryMismatch = errors.New("node type does not belong to category")
	// ErrInvalidConfig is returned when node metadata does not decode or validate.
	ErrInvalidConfig = errors.New("invalid node config")
	// ErrNotNumeric is returned when an operand cannot be read as a number.
	ErrNotNumeric = errors.New("operand is not numeric")
	// ErrDivideByZero is returned by a divide calculation with a zero divisor.
	ErrDivideByZero = errors.New("division by zero")
)

// base carries the state every node kind shares.
type base struct {
	id        string
	category  model.Category
	typ       string
	direction model.Direction
	metadata  map[string]any

	value  any
	status model.Status
	err    error
	port   model.Port
}

func newBase(spec Spec, category model.Category) base {
	return base{
		id:        spec.ID,
		category:  category,
		typ:       spec.Type,
		direction: spec.Direction,
		metadata:  maps.Clone(spec.Metadata),
		status:    model.StatusIdle,
	}
}

func (b *base) ID() string { return b.id }
func (b *base) Category() model.Category { return b.category }
func (b *base) Type() string { return b.typ }
func (b *base) Direction() model.Direction { return b.direction }
func (b *base) Metadata() map[string]any { return maps.Clone(b.metadata) }
func (b *base) ComputedValue() any { return b.value }
func (b *base) Status() model.Status { return b.status }
func (b *base) Err() error { return b.err }
func (b *base) AttachPort(p model.Port) { b.port = p }

// CanConnectWith applies the rules shared by all kinds: no self edges and no
// edges into a BACnet point that feeds the graph.
func (b *base) CanConnectWith(target model.Node) bool {
	if target == nil || target.ID() == b.id {
		return false
	}
	return !(target.Category() == model.CategoryBACnet && target.Direction() == model.DirectionOutput)
}

func (b *base) clear() {
	b.value = nil
	b.status = model.StatusIdle
	b.err = nil
}

func (b *base) done(v any) {
	b.value = v
	b.status = model.StatusDone
	b.err = nil
}

func (b *base) fail(err error) error {
	b.status = model.StatusError
	b.err = err
	return err
}

// emit sends payload on handle. Nodes without a port stop here.
func (b *base) emit(ctx context.Context, payload any, handle string) error {
	if b.port == nil {
		return nil
	}
	return b.port.Emit(ctx, model.NewMessage(payload, map[string]any{"source": b.id}), handle)
}

func (b *base) upstream() []model.Link {
	if b.port == nil {
		return nil
	}
	return b.port.Upstream()
}
