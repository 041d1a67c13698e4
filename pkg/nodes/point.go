package nodes

import (
	"context"
	"errors"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// PointTypes are the BACnet object types a point node can stand for.
var PointTypes = []string{
	"analog-input", "analog-output", "analog-value",
	"binary-input", "binary-output", "binary-value",
}

// PointConfig addresses the BACnet object behind a point node.
type PointConfig struct {
	device.PointRef `mapstructure:",squash"`
}

// Point is a BACnet object. With direction output it feeds the present value
// into the graph; with direction input it stores what the graph sends it.
type Point struct {
	base
	cfg       PointConfig
	telemetry device.Telemetry
}

// Config returns the decoded configuration.
func (p *Point) Config() PointConfig { return p.cfg }

// CanConnectWith forbids edges out of input points.
func (p *Point) CanConnectWith(target model.Node) bool {
	if p.direction == model.DirectionInput {
		return false
	}
	return p.base.CanConnectWith(target)
}

func (p *Point) Reset() { p.clear() }

func (p *Point) Receive(ctx context.Context, msg model.Message, _ string, _ string) error {
	if p.direction == model.DirectionInput {
		if msg.IsTrigger() {
			return nil
		}
		p.done(msg.Payload)
		return nil
	}

	if p.telemetry == nil {
		return p.fail(errors.New("no telemetry source"))
	}
	p.status = model.StatusRunning
	v, err := p.telemetry.Read(ctx, p.cfg.PointRef)
	if err != nil {
		return p.fail(err)
	}
	p.done(v)
	return p.emit(ctx, v, model.DefaultHandle)
}
