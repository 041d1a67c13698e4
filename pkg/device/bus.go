package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bus is an in-memory device network. Writes land on the addressed point and
// are visible to later reads.
type Bus struct {
	mu      sync.RWMutex
	values  map[PointRef]any
	writes  []WriteRequest
	latency time.Duration
	fail    error
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{values: make(map[PointRef]any)}
}

// Set stores the present value of a point.
func (b *Bus) Set(point PointRef, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[point] = value
}

// SetLatency delays every write acknowledgement by d.
func (b *Bus) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// SetFailure makes every write fail with err until cleared with nil.
func (b *Bus) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Read returns the present value of point.
func (b *Bus) Read(_ context.Context, point PointRef) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[point]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", point, ErrUnknownPoint)
	}
	return v, nil
}

// Write applies req after the configured latency. It gives up when ctx ends.
func (b *Bus) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	b.mu.RLock()
	latency, fail := b.latency, b.fail
	b.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return WriteResult{}, fmt.Errorf("write %s: %w: %v", req.Point, ErrTimeout, ctx.Err())
		}
	}
	if fail != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", req.Point, fail)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[req.Point] = req.Value
	b.writes = append(b.writes, req)
	return WriteResult{RequestID: req.ID, Value: req.Value, At: time.Now()}, nil
}

// Writes returns the acknowledged writes in order.
func (b *Bus) Writes() []WriteRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]WriteRequest(nil), b.writes...)
}
