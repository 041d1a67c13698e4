package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

// subscriberBuffer is how many events a slow client may lag behind before
// events are dropped for it.
const subscriberBuffer = 100

// TopicConfig controls what a late subscriber gets replayed.
type TopicConfig struct {
	BufferSize int  // events kept for replay, 0 keeps none
	ReplayAll  bool // replay the whole buffer instead of the latest event
}

// topicState is everything the publisher tracks for one topic.
type topicState struct {
	config  TopicConfig
	version int
	history []Event
	subs    map[*sseSubscription]struct{}
}

// record stamps the next version on ev and keeps it for replay.
func (t *topicState) record(ev Event) Event {
	t.version++
	ev.Version = t.version
	if n := t.config.BufferSize; n > 0 {
		t.history = append(t.history, ev)
		if len(t.history) > n {
			t.history = append([]Event(nil), t.history[len(t.history)-n:]...)
		}
	}
	return ev
}

// backlog is the slice of history a new subscriber receives.
func (t *topicState) backlog() []Event {
	if len(t.history) == 0 {
		return nil
	}
	if t.config.ReplayAll {
		return append([]Event(nil), t.history...)
	}
	return []Event{t.history[len(t.history)-1]}
}

// SSEPublisher is an in-process Publisher whose events are streamed to HTTP
// clients as server-sent events.
type SSEPublisher struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	closed bool
	logger *slog.Logger
}

// NewSSEPublisher returns a publisher with no topic buffering configured.
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{
		topics: make(map[string]*topicState),
		logger: logging.New("pubsub"),
	}
}

// topic returns the state for name, creating it. Callers hold mu.
func (p *SSEPublisher) topic(name string) *topicState {
	t, ok := p.topics[name]
	if !ok {
		t = &topicState{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureDefaults applies the buffering used by the supervisor: a short
// history of pass results and only the latest wire and graph state.
func (p *SSEPublisher) ConfigureDefaults(history int) {
	p.ConfigureTopic(TopicExecutionStatus, TopicConfig{BufferSize: history, ReplayAll: true})
	p.ConfigureTopic(TopicEdgeActivation, TopicConfig{BufferSize: 1})
	p.ConfigureTopic(TopicGraph, TopicConfig{BufferSize: 1})
}

// ConfigureTopic sets the replay policy of a topic.
func (p *SSEPublisher) ConfigureTopic(topic string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic(topic).config = config
}

// Subscribe registers a subscriber, queues the topic's backlog for it and
// drops it once ctx ends.
func (p *SSEPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	t := p.topic(topic)
	sub := &sseSubscription{topic: topic, events: make(chan Event, subscriberBuffer), publisher: p}
	t.subs[sub] = struct{}{}
	// Queue the backlog before unlocking so a concurrent Publish cannot
	// overtake it.
	backlog := t.backlog()
	for _, ev := range backlog {
		if !sub.offer(ev) {
			p.logger.Warn("backlog does not fit subscriber buffer", "topic", topic, "version", ev.Version)
			break
		}
	}
	p.mu.Unlock()

	if len(backlog) > 0 {
		p.logger.Debug("replayed backlog", "topic", topic, "events", len(backlog))
	}

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Publish encodes data and hands it to every subscriber of topic. A
// subscriber whose buffer is full misses the event; publishing never blocks
// the pass that produced it.
func (p *SSEPublisher) Publish(topic string, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	t := p.topic(topic)
	ev := t.record(Event{Topic: topic, Type: eventType, Data: raw})
	for sub := range t.subs {
		if !sub.offer(ev) {
			p.logger.Warn("subscriber lagging, event dropped", "topic", topic, "version", ev.Version)
		}
	}
	return nil
}

// Close ends every subscription. Later calls to Publish and Subscribe
// return ErrClosed.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// Subscribers returns how many clients are subscribed to topic.
func (p *SSEPublisher) Subscribers(topic string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.topics[topic]; ok {
		return len(t.subs)
	}
	return 0
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
}

type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher

	once sync.Once
}

func (s *sseSubscription) Topic() string        { return s.topic }
func (s *sseSubscription) Events() <-chan Event { return s.events }

// offer queues ev without blocking.
func (s *sseSubscription) offer(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *sseSubscription) Close() error {
	s.once.Do(func() { s.publisher.unsubscribe(s) })
	return nil
}

// WriteSSE frames event as one server-sent event: its version as the id, the
// topic as the event name and the JSON encoded event as data.
func WriteSSE(w io.Writer, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Version, event.Topic, raw)
	return err
}
