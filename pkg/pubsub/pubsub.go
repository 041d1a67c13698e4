// Package pubsub fans execution events out to editor clients.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Topics published by the supervisor.
const (
	// TopicExecutionStatus carries one ExecutionStatus per pass.
	TopicExecutionStatus = "execution_status"
	// TopicEdgeActivation carries the live-wire state after each pass.
	TopicEdgeActivation = "edge_activation"
	// TopicGraph announces structural changes to the graph.
	TopicGraph = "graph"
)

// ErrClosed is returned after the publisher has been shut down.
var ErrClosed = errors.New("publisher is closed")

// Event is one message on a topic.
type Event struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Version int             `json:"version"` // per topic, for ordering
}

// Subscription is one client's view of a topic.
type Subscription interface {
	Topic() string
	Events() <-chan Event
	Close() error
}

// Publisher manages subscriptions and publishing.
type Publisher interface {
	// Subscribe creates a subscription that ends when ctx does.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to every subscriber of topic.
	Publish(topic string, eventType string, data any) error

	Close() error
}

// Payload is a typed event body that knows where it is published.
type Payload interface {
	Topic() string
	EventType() string
}

// Send publishes v on its own topic.
func Send(p Publisher, v Payload) error {
	return p.Publish(v.Topic(), v.EventType(), v)
}

// ExecutionStatus summarizes a finished pass.
type ExecutionStatus struct {
	PassID     string   `json:"passId"`
	Outcome    string   `json:"outcome"`
	Sources    int      `json:"sources"`
	Deliveries int      `json:"deliveries"`
	Failures   int      `json:"failures"`
	DurationMs int64    `json:"durationMs"`
	CycleNodes []string `json:"cycleNodes,omitempty"`
}

func (s ExecutionStatus) Topic() string     { return TopicExecutionStatus }
func (s ExecutionStatus) EventType() string { return s.Outcome }

// EdgeActivation is the activation flag of every edge after a pass.
type EdgeActivation struct {
	PassID string          `json:"passId"`
	Active map[string]bool `json:"active"`
}

func (a EdgeActivation) Topic() string     { return TopicEdgeActivation }
func (a EdgeActivation) EventType() string { return "activation" }

// GraphChanged announces that the graph was edited or reloaded. The change
// lists are only filled in for loads.
type GraphChanged struct {
	Reason        string   `json:"reason"`
	Fingerprint   string   `json:"fingerprint"`
	Nodes         int      `json:"nodes"`
	Edges         int      `json:"edges"`
	AddedNodes    []string `json:"addedNodes,omitempty"`
	RemovedNodes  []string `json:"removedNodes,omitempty"`
	ModifiedNodes []string `json:"modifiedNodes,omitempty"`
	AddedEdges    []string `json:"addedEdges,omitempty"`
	RemovedEdges  []string `json:"removedEdges,omitempty"`
}

func (g GraphChanged) Topic() string     { return TopicGraph }
func (g GraphChanged) EventType() string { return g.Reason }
