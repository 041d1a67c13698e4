package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

// BreakerConfig holds circuit breaker settings for the command channel.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Cooldown     time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "commands",
		MaxRequests:  1,
		Interval:     time.Minute,
		Cooldown:     30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// BreakerCommander bounds every write by a timeout and stops calling a
// failing channel until the breaker cools down.
type BreakerCommander struct {
	next    Commander
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewBreakerCommander wraps next.
func NewBreakerCommander(next Commander, timeout time.Duration, cfg BreakerConfig) *BreakerCommander {
	log := logging.New("device.breaker")
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerCommander{next: next, timeout: timeout, cb: cb}
}

// Write forwards req through the breaker.
func (c *BreakerCommander) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.cb.Execute(func() (any, error) {
		return c.next.Write(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return WriteResult{}, fmt.Errorf("write %s: %w: %v", req.Point, ErrUnavailable, err)
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			return WriteResult{}, fmt.Errorf("write %s: %w", req.Point, ErrTimeout)
		}
		return WriteResult{}, err
	}
	return res.(WriteResult), nil
}

// State returns the breaker state for diagnostics.
func (c *BreakerCommander) State() string {
	return c.cb.State().String()
}
