package nodes

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// Output handles of control-flow nodes.
const (
	HandleCondition = "condition"
	HandleTrue      = "true"
	HandleFalse     = "false"
	HandleActive    = "active"
	HandleInactive  = "inactive"
)

// SwitchConfig is the condition a switch tests its input against.
type SwitchConfig struct {
	Operator  string  `mapstructure:"operator" validate:"required,oneof=> < >= <= == !="`
	Threshold float64 `mapstructure:"threshold"`
}

// Switch forwards a numeric input on "true" or "false" depending on the
// condition. Its computed value is the outcome of the last test.
type Switch struct {
	base
	cfg SwitchConfig
}

func (s *Switch) Reset() { s.clear() }

func (s *Switch) Receive(ctx context.Context, msg model.Message, handle string, _ string) error {
	if msg.IsTrigger() {
		return nil
	}
	if h := model.NormalizeHandle(handle); h != HandleCondition && h != model.DefaultHandle {
		return nil
	}
	x, err := toFloat(msg.Payload)
	if err != nil {
		return s.fail(err)
	}
	ok, err := compare(s.cfg.Operator, x, s.cfg.Threshold)
	if err != nil {
		return s.fail(err)
	}
	s.done(ok)
	branch := HandleFalse
	if ok {
		branch = HandleTrue
	}
	return s.emit(ctx, msg.Payload, branch)
}

// TimerConfig is the delay before a timer forwards its input.
type TimerConfig struct {
	DelayMs int `mapstructure:"delayMs" validate:"min=0"`
}

// Timer holds each message for the configured delay, then forwards it.
// Reset releases a pending wait without emitting.
type Timer struct {
	base
	cfg TimerConfig

	mu   sync.Mutex
	stop chan struct{}
}

func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.clear()
}

func (t *Timer) Status() model.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Timer) ComputedValue() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Pending reports whether a wait is armed.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) Receive(ctx context.Context, msg model.Message, _ string, _ string) error {
	t.mu.Lock()
	if t.stop == nil {
		t.stop = make(chan struct{})
	}
	stop := t.stop
	t.status = model.StatusRunning
	t.mu.Unlock()

	wait := time.NewTimer(time.Duration(t.cfg.DelayMs) * time.Millisecond)
	defer wait.Stop()

	select {
	case <-wait.C:
	case <-stop:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		if t.stop == stop {
			t.stop = nil
		}
		t.status = model.StatusIdle
		t.mu.Unlock()
		return ctx.Err()
	}

	t.mu.Lock()
	if t.stop == stop {
		t.stop = nil
	}
	t.done(msg.Payload)
	t.mu.Unlock()
	return t.emit(ctx, msg.Payload, model.DefaultHandle)
}

// ScheduleConfig is a daily time window. End before start wraps past
// midnight. An empty day list means every day.
type ScheduleConfig struct {
	Start string   `mapstructure:"start" validate:"required"`
	End   string   `mapstructure:"end" validate:"required"`
	Days  []string `mapstructure:"days" validate:"dive,oneof=mon tue wed thu fri sat sun"`
}

// Schedule emits whether the current time falls in its window, on "active"
// or "inactive".
type Schedule struct {
	base
	cfg   ScheduleConfig
	start time.Duration
	end   time.Duration
	clock func() time.Time
}

func (s *Schedule) Reset() { s.clear() }

func (s *Schedule) Receive(ctx context.Context, _ model.Message, _ string, _ string) error {
	active := s.activeAt(s.clock())
	s.done(active)
	handle := HandleInactive
	if active {
		handle = HandleActive
	}
	return s.emit(ctx, active, handle)
}

func (s *Schedule) activeAt(now time.Time) bool {
	day := now
	tod := sinceMidnight(now)
	var in bool
	if s.start <= s.end {
		in = tod >= s.start && tod < s.end
	} else {
		in = tod >= s.start || tod < s.end
		if tod < s.end {
			// The window opened yesterday.
			day = now.AddDate(0, 0, -1)
		}
	}
	if !in {
		return false
	}
	if len(s.cfg.Days) == 0 {
		return true
	}
	return slices.Contains(s.cfg.Days, weekday(day))
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}

func weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String()[:3])
}

// parseClock parses "HH:MM".
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
