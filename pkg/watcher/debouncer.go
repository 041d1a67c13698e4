package watcher

import (
	"context"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

// Debouncer folds bursts of file events into one, so a save that produces
// several writes triggers a single reload.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a debouncer that emits once input has been quiet for
// quietPeriod, or at the latest maxWait after the first pending event.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.output)

	quiet := time.NewTimer(d.quietPeriod)
	quiet.Stop()
	deadline := time.NewTimer(d.maxWait)
	deadline.Stop()

	var pending *ChangeEvent

	flush := func() {
		quiet.Stop()
		deadline.Stop()
		if pending == nil {
			return
		}
		logging.Debug("flushing accumulated events", "count", pending.Count, "type", pending.Type)
		select {
		case d.output <- *pending:
		case <-ctx.Done():
		}
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			if pending == nil {
				pending = &event
				deadline.Reset(d.maxWait)
			} else {
				// The latest state of the file wins.
				pending.Type = event.Type
				pending.Timestamp = event.Timestamp
				pending.Count += event.Count
			}
			quiet.Reset(d.quietPeriod)

		case <-quiet.C:
			flush()

		case <-deadline.C:
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
