package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/metrics"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
	"github.com/openbms-io/supervisor-sub001/pkg/pubsub"
	"github.com/openbms-io/supervisor-sub001/pkg/session"
)

type fixture struct {
	handler http.Handler
	pub     *pubsub.SSEPublisher
	sess    *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := pubsub.NewSSEPublisher()
	pub.ConfigureDefaults(5)
	t.Cleanup(func() { pub.Close() })

	collector := metrics.NewCollector("supervisor")
	sess := session.New(nodes.NewFactory(nodes.Deps{}), session.WithPublisher(pub), session.WithObserver(collector))
	srv := NewServer(sess, pub, WithMetrics(collector.Handler()))
	return &fixture{handler: srv.Handler(), pub: pub, sess: sess}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

// buildAdder creates k1=5, k2=3 feeding sum through the API.
func (f *fixture) buildAdder(t *testing.T) {
	t.Helper()
	for _, n := range []map[string]any{
		{"id": "k1", "type": "constant", "metadata": map[string]any{"value": 5}},
		{"id": "k2", "type": "constant", "metadata": map[string]any{"value": 3}},
		{"id": "sum", "type": "calculation", "metadata": map[string]any{"operation": "add"}, "position": map[string]float64{"x": 200, "y": 0}},
	} {
		f.mustStatus(t, f.do(t, "POST", "/api/nodes", n), http.StatusCreated)
	}
	for _, e := range []map[string]string{
		{"source": "k1", "target": "sum", "targetHandle": "a"},
		{"source": "k2", "target": "sum", "targetHandle": "b"},
	} {
		f.mustStatus(t, f.do(t, "POST", "/api/connections", e), http.StatusCreated)
	}
}

func TestExecuteOverAPI(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)

	rec := f.do(t, "POST", "/api/execute", nil)
	f.mustStatus(t, rec, http.StatusOK)

	var resp struct {
		Outcome    string          `json:"outcome"`
		Deliveries int             `json:"deliveries"`
		Values     map[string]any  `json:"values"`
		Active     map[string]bool `json:"active"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != "completed" || resp.Deliveries != 2 {
		t.Errorf("unexpected report %+v", resp)
	}
	if resp.Values["sum"] != 8.0 {
		t.Errorf("Expected sum 8, got %v", resp.Values["sum"])
	}

	f.mustStatus(t, f.do(t, "GET", "/api/execution/last", nil), http.StatusOK)

	rec = f.do(t, "GET", "/api/execution/order", nil)
	f.mustStatus(t, rec, http.StatusOK)
	var order struct{ Order []string }
	json.NewDecoder(rec.Body).Decode(&order)
	if len(order.Order) != 3 || order.Order[2] != "sum" {
		t.Errorf("Expected sum last in execution order, got %v", order.Order)
	}
}

func TestExecuteCycleReturns422(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)
	f.mustStatus(t, f.do(t, "POST", "/api/nodes", map[string]any{
		"id": "echo", "type": "calculation", "metadata": map[string]any{"operation": "max"},
	}), http.StatusCreated)
	f.mustStatus(t, f.do(t, "POST", "/api/connections", map[string]string{"source": "sum", "target": "echo"}), http.StatusCreated)
	f.mustStatus(t, f.do(t, "POST", "/api/connections", map[string]string{"source": "echo", "target": "sum", "targetHandle": "c"}), http.StatusCreated)

	rec := f.do(t, "POST", "/api/execute", nil)
	f.mustStatus(t, rec, http.StatusUnprocessableEntity)
	if !strings.Contains(rec.Body.String(), `"echo"`) {
		t.Errorf("cycle response should name the cycle's nodes: %s", rec.Body.String())
	}

	f.mustStatus(t, f.do(t, "GET", "/api/execution/order", nil), http.StatusUnprocessableEntity)
}

func TestEditErrors(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate node", "POST", "/api/nodes", map[string]any{"id": "k1", "type": "constant", "metadata": map[string]any{"value": 1}}, http.StatusConflict},
		{"unknown type", "POST", "/api/nodes", map[string]any{"id": "x", "type": "teleporter"}, http.StatusBadRequest},
		{"missing type", "POST", "/api/nodes", map[string]any{"id": "x"}, http.StatusBadRequest},
		{"self connection", "POST", "/api/connections", map[string]string{"source": "sum", "target": "sum"}, http.StatusConflict},
		{"unknown node delete", "DELETE", "/api/nodes/ghost", nil, http.StatusNotFound},
		{"unknown node move", "PUT", "/api/nodes/ghost/position", map[string]float64{"x": 1}, http.StatusNotFound},
		{"unknown connection", "DELETE", "/api/connections?source=k1&target=k2", nil, http.StatusNotFound},
		{"unknown topic", "GET", "/api/subscribe/nope", nil, http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("Expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEditsRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)

	f.mustStatus(t, f.do(t, "PUT", "/api/nodes/sum/position", map[string]float64{"x": 40, "y": 60}), http.StatusNoContent)
	f.mustStatus(t, f.do(t, "POST", "/api/nodes/sum/touch", nil), http.StatusNoContent)

	rec := f.do(t, "GET", "/api/connections/validate?source=sum&target=k1", nil)
	f.mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Errorf("Expected valid connection, got %s", rec.Body.String())
	}

	f.mustStatus(t, f.do(t, "DELETE", "/api/connections?source=k2&target=sum&targetHandle=b", nil), http.StatusNoContent)
	f.mustStatus(t, f.do(t, "DELETE", "/api/nodes/k1", nil), http.StatusNoContent)

	rec = f.do(t, "GET", "/api/graph", nil)
	f.mustStatus(t, rec, http.StatusOK)
	var view session.View
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Document.Nodes) != 2 || len(view.Document.Edges) != 0 {
		t.Errorf("Expected 2 nodes and no edges, got %+v", view.Document)
	}
	for _, n := range view.Document.Nodes {
		if n.ID == "sum" && (n.Position.X != 40 || n.Position.Y != 60) {
			t.Errorf("Expected moved position, got %+v", n.Position)
		}
	}
}

func TestLoadAndExport(t *testing.T) {
	f := newFixture(t)

	doc := `version: 1
nodes:
  - {id: k, type: constant, metadata: {value: 1}}
`
	req := httptest.NewRequest("PUT", "/api/graph", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	f.mustStatus(t, rec, http.StatusOK)

	rec = f.do(t, "GET", "/api/graph/export?format=yaml", nil)
	f.mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "id: k") {
		t.Errorf("YAML export missing node: %s", rec.Body.String())
	}
	f.mustStatus(t, f.do(t, "GET", "/api/graph/export?format=xml", nil), http.StatusBadRequest)
}

func TestRequestIDAndCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/graph", nil)
	req.Header.Set("X-Request-ID", "req-1234")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-1234" {
		t.Errorf("Expected request id echoed, got %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/api/execute", nil)
	req.Header.Set("Origin", "http://editor.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected preflight to allow any origin, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)
	f.mustStatus(t, f.do(t, "POST", "/api/execute", nil), http.StatusOK)

	rec := f.do(t, "GET", "/metrics", nil)
	f.mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `supervisor_deliveries_total{result="ok"} 2`) {
		t.Errorf("metrics should count the pass deliveries:\n%s", rec.Body.String())
	}
}

func TestSubscribeStreamsExecutionStatus(t *testing.T) {
	f := newFixture(t)
	f.buildAdder(t)
	if _, err := f.sess.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/subscribe/execution_status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	// The pass that already ran is replayed to the new subscriber.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad event: %v", err)
		}
		var status pubsub.ExecutionStatus
		if err := json.Unmarshal(event.Data, &status); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if status.Outcome != "completed" || status.Deliveries != 2 {
			t.Errorf("unexpected status %+v", status)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
}
