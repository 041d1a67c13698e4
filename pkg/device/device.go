// Package device is the boundary to the building network. Nodes read point
// values through Telemetry and send writes through Commander; the transport
// behind them is not part of the engine.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownPoint is returned when a point has never reported a value.
	ErrUnknownPoint = errors.New("unknown point")
	// ErrTimeout is returned when a command is not acknowledged in time.
	ErrTimeout = errors.New("command timed out")
	// ErrUnavailable is returned while the command channel is failing fast.
	ErrUnavailable = errors.New("command channel unavailable")
)

// PointRef addresses one object on one device.
type PointRef struct {
	DeviceID   string `json:"deviceId" mapstructure:"deviceId" validate:"required"`
	ObjectType string `json:"objectType" mapstructure:"objectType" validate:"required"`
	Instance   uint32 `json:"instance" mapstructure:"instance"`
}

func (p PointRef) String() string {
	return fmt.Sprintf("%s:%s:%d", p.DeviceID, p.ObjectType, p.Instance)
}

// ParsePointRef parses the "device:object-type:instance" form.
func ParsePointRef(s string) (PointRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return PointRef{}, fmt.Errorf("invalid point %q: want device:object-type:instance", s)
	}
	inst, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return PointRef{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return PointRef{DeviceID: parts[0], ObjectType: parts[1], Instance: uint32(inst)}, nil
}

// Telemetry supplies current point values.
type Telemetry interface {
	Read(ctx context.Context, point PointRef) (any, error)
}

// WriteRequest is one outbound write. ID correlates the acknowledgement.
type WriteRequest struct {
	ID       string   `json:"id"`
	Point    PointRef `json:"point"`
	Property string   `json:"property"`
	Value    any      `json:"value"`
	Priority int      `json:"priority"`
}

// WriteResult acknowledges a WriteRequest.
type WriteResult struct {
	RequestID string    `json:"requestId"`
	Value     any       `json:"value"`
	At        time.Time `json:"at"`
}

// Commander sends writes and waits for their acknowledgement.
type Commander interface {
	Write(ctx context.Context, req WriteRequest) (WriteResult, error)
}
