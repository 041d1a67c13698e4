package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// WriteSetpointConfig addresses the property a write-setpoint node writes.
type WriteSetpointConfig struct {
	device.PointRef `mapstructure:",squash"`
	Property        string `mapstructure:"property" validate:"required"`
	Priority        int    `mapstructure:"priority" validate:"min=1,max=16"`
}

// WriteSetpoint writes every value it receives to a device and forwards the
// value once the write is acknowledged.
type WriteSetpoint struct {
	base
	cfg       WriteSetpointConfig
	commander device.Commander
	timeout   time.Duration
}

func (w *WriteSetpoint) Reset() { w.clear() }

func (w *WriteSetpoint) Receive(ctx context.Context, msg model.Message, _ string, _ string) error {
	if msg.IsTrigger() {
		return nil
	}
	if w.commander == nil {
		return w.fail(errors.New("no command channel"))
	}

	wctx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	req := device.WriteRequest{
		ID:       uuid.NewString(),
		Point:    w.cfg.PointRef,
		Property: w.cfg.Property,
		Value:    msg.Payload,
		Priority: w.cfg.Priority,
	}
	w.status = model.StatusRunning
	res, err := w.commander.Write(wctx, req)
	if err != nil {
		return w.fail(err)
	}
	if res.RequestID != req.ID {
		return w.fail(fmt.Errorf("write %s: acknowledgement for %q, want %q", req.Point, res.RequestID, req.ID))
	}
	w.done(msg.Payload)
	return w.emit(ctx, msg.Payload, model.DefaultHandle)
}
