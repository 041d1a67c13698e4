package session

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
	"github.com/openbms-io/supervisor-sub001/pkg/pubsub"
	"github.com/openbms-io/supervisor-sub001/pkg/workflow"
)

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []pubsub.Event
}

func (p *MockPublisher) Subscribe(context.Context, string) (pubsub.Subscription, error) {
	return nil, errors.New("not supported")
}

func (p *MockPublisher) Publish(topic, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pubsub.Event{Topic: topic, Type: eventType, Data: raw})
	return nil
}

func (p *MockPublisher) Close() error { return nil }

func (p *MockPublisher) on(topic string) []pubsub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pubsub.Event
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

const adder = `
version: 1
nodes:
  - {id: a, type: constant, metadata: {value: 5}}
  - {id: b, type: constant, metadata: {value: 3}}
  - {id: sum, type: calculation, metadata: {operation: add}}
edges:
  - {source: a, target: sum, targetHandle: x}
  - {source: b, target: sum, targetHandle: y}
`

func decode(t *testing.T, doc string) *workflow.Document {
	t.Helper()
	d, err := workflow.Decode(strings.NewReader(doc), workflow.FormatYAML)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return d
}

func newSession(t *testing.T) (*Session, *MockPublisher) {
	t.Helper()
	pub := &MockPublisher{}
	s := New(nodes.NewFactory(nodes.Deps{}), WithPublisher(pub))
	if _, _, err := s.Load(decode(t, adder), ReasonLoad); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s, pub
}

func TestExecutePublishesStatusAndActivation(t *testing.T) {
	s, pub := newSession(t)

	report, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Values["sum"] != 8.0 {
		t.Errorf("Expected sum 8, got %v", report.Values["sum"])
	}

	statuses := pub.on(pubsub.TopicExecutionStatus)
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 execution status, got %d", len(statuses))
	}
	var status pubsub.ExecutionStatus
	if err := json.Unmarshal(statuses[0].Data, &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.PassID != report.ID || status.Outcome != "completed" || status.Deliveries != 2 {
		t.Errorf("unexpected status %+v", status)
	}

	acts := pub.on(pubsub.TopicEdgeActivation)
	if len(acts) != 1 {
		t.Fatalf("Expected 1 activation event, got %d", len(acts))
	}
	var act pubsub.EdgeActivation
	if err := json.Unmarshal(acts[0].Data, &act); err != nil {
		t.Fatalf("Failed to decode activation: %v", err)
	}
	if len(act.Active) != 2 {
		t.Errorf("Expected 2 edges in activation map, got %v", act.Active)
	}
	for id, on := range act.Active {
		if !on {
			t.Errorf("edge %s should be active after the pass", id)
		}
	}

	last, ok := s.LastReport()
	if !ok || last.ID != report.ID {
		t.Errorf("LastReport should return the latest pass")
	}
}

func TestLoadSkipsUnchangedWorkflow(t *testing.T) {
	s, pub := newSession(t)
	before := s.Fingerprint()

	_, changed, err := s.Load(decode(t, adder), ReasonReload)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if changed {
		t.Error("identical workflow should not replace the graph")
	}
	if got := len(pub.on(pubsub.TopicGraph)); got != 1 {
		t.Errorf("Expected only the initial graph event, got %d", got)
	}

	edited := strings.Replace(adder, "operation: add", "operation: multiply", 1)
	_, changed, err = s.Load(decode(t, edited), ReasonReload)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !changed {
		t.Error("edited workflow should replace the graph")
	}
	if s.Fingerprint() == before {
		t.Error("fingerprint should change with the workflow")
	}

	report, err := s.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Values["sum"] != 15.0 {
		t.Errorf("Expected product 15, got %v", report.Values["sum"])
	}

	events := pub.on(pubsub.TopicGraph)
	if len(events) != 2 || events[1].Type != ReasonReload {
		t.Fatalf("Expected a reload graph event, got %+v", events)
	}
	var changedEv pubsub.GraphChanged
	if err := json.Unmarshal(events[1].Data, &changedEv); err != nil {
		t.Fatalf("Failed to decode graph event: %v", err)
	}
	if !slices.Equal(changedEv.ModifiedNodes, []string{"sum"}) || len(changedEv.AddedNodes) != 0 {
		t.Errorf("Expected only sum modified, got %+v", changedEv)
	}
}

func TestEditsPublishOnlyWhenApplied(t *testing.T) {
	s, pub := newSession(t)

	if s.Connect("sum", "missing", "", "") {
		t.Error("connection to a missing node should be refused")
	}
	if got := len(pub.on(pubsub.TopicGraph)); got != 1 {
		t.Errorf("refused edit must not publish, got %d graph events", got)
	}

	if err := s.AddNode(nodes.Spec{ID: "k", Type: "constant", Metadata: map[string]any{"value": 1}}, graph.Position{X: 10}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if err := s.AddNode(nodes.Spec{ID: "k", Type: "constant", Metadata: map[string]any{"value": 1}}, graph.Position{}); !errors.Is(err, graph.ErrDuplicateNode) {
		t.Errorf("Expected ErrDuplicateNode, got %v", err)
	}
	if !s.Connect("k", "sum", "", "z") {
		t.Fatal("Connect failed")
	}
	if !s.MoveNode("k", graph.Position{X: 20, Y: 5}) {
		t.Error("MoveNode failed")
	}
	if !s.TouchNode("k") {
		t.Error("TouchNode failed")
	}
	if !s.Disconnect("k", "sum", "", "z") {
		t.Error("Disconnect failed")
	}
	if !s.RemoveNode("k") {
		t.Error("RemoveNode failed")
	}

	// add, connect, touch, disconnect, remove; moves are not structural.
	if got := len(pub.on(pubsub.TopicGraph)); got != 6 {
		t.Errorf("Expected 6 graph events, got %d", got)
	}
}

func TestExecuteReportsCycle(t *testing.T) {
	s, pub := newSession(t)
	if err := s.AddNode(nodes.Spec{ID: "twice", Type: "calculation", Metadata: map[string]any{"operation": "add"}}, graph.Position{}); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}
	if !s.Connect("sum", "twice", "", "") || !s.Connect("twice", "sum", "", "loop") {
		t.Fatal("Connect failed")
	}

	if _, err := s.ExecutionOrder(); err == nil {
		t.Error("ExecutionOrder should fail on a cycle")
	}

	_, err := s.Execute(context.Background())
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("Expected ErrCycleDetected, got %v", err)
	}

	statuses := pub.on(pubsub.TopicExecutionStatus)
	if len(statuses) != 1 {
		t.Fatalf("Expected 1 status, got %d", len(statuses))
	}
	var status pubsub.ExecutionStatus
	if err := json.Unmarshal(statuses[0].Data, &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Outcome != "aborted" {
		t.Errorf("Expected aborted outcome, got %q", status.Outcome)
	}
	if !slices.Contains(status.CycleNodes, "sum") || !slices.Contains(status.CycleNodes, "twice") {
		t.Errorf("Expected cycle nodes sum and twice, got %v", status.CycleNodes)
	}
}

func TestViewAndExport(t *testing.T) {
	s, _ := newSession(t)
	if _, err := s.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	v := s.View()
	if len(v.Document.Nodes) != 3 || len(v.Document.Edges) != 2 {
		t.Errorf("unexpected document %+v", v.Document)
	}
	if v.State != graph.StateIdle {
		t.Errorf("Expected idle state, got %s", v.State)
	}
	if !v.Reachable["sum"] {
		t.Error("sum should be reachable after a pass")
	}
	if v.Values["sum"] != 8.0 {
		t.Errorf("Expected value 8, got %v", v.Values["sum"])
	}
	if len(v.Fingerprint) != 16 {
		t.Errorf("Expected 16 hex digits, got %q", v.Fingerprint)
	}
	if len(s.Export().Nodes) != 3 {
		t.Error("Export should list every node")
	}
}

func TestConcurrentAccessIsSerialized(t *testing.T) {
	s, _ := newSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Execute(context.Background()); err != nil {
				t.Errorf("Execute failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			s.View()
			s.ValidateConnection("a", "sum")
		}()
	}
	wg.Wait()
}
