package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/nodes"
)

const supplyAir = `
version: 1
name: supply air reset
nodes:
  - id: oat
    category: BACNET
    type: analog-input
    direction: output
    position: {x: 0, y: 0}
    metadata: {deviceId: ahu-1, objectType: analog-input, instance: 1}
  - id: offset
    type: constant
    metadata: {value: 2}
  - id: sum
    category: LOGIC
    type: calculation
    metadata: {operation: add}
  - id: hot
    type: switch
    metadata: {threshold: 25}
  - id: sat
    type: write-setpoint
    metadata: {deviceId: ahu-1, objectType: analog-value, instance: 5}
edges:
  - {source: oat, target: sum, targetHandle: a}
  - {source: offset, target: sum, targetHandle: b}
  - {source: sum, target: hot, targetHandle: condition}
  - {source: hot, target: sat, sourceHandle: "true"}
  - {source: sum, target: oat}
`

func TestDecodeBuildExecute(t *testing.T) {
	doc, err := Decode(strings.NewReader(supplyAir), FormatYAML)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	bus := device.NewBus()
	bus.Set(device.PointRef{DeviceID: "ahu-1", ObjectType: "analog-input", Instance: 1}, 24.5)
	f := nodes.NewFactory(nodes.Deps{Telemetry: bus, Commander: bus})

	g, res, err := Build(f, doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if res.Nodes != 5 || res.Edges != 4 {
		t.Errorf("Expected 5 nodes and 4 edges, got %+v", res)
	}
	// Edges into a sensor are refused by the nodes themselves.
	if len(res.Rejected) != 1 || res.Rejected[0].Target != "oat" {
		t.Errorf("Expected the edge into oat to be rejected, got %+v", res.Rejected)
	}

	report, err := g.ExecuteWithMessages(context.Background())
	if err != nil {
		t.Fatalf("ExecuteWithMessages failed: %v", err)
	}
	if report.Values["sum"] != 26.5 {
		t.Errorf("Expected sum 26.5, got %v", report.Values["sum"])
	}
	writes := bus.Writes()
	if len(writes) != 1 || writes[0].Value != 26.5 {
		t.Errorf("Expected one write of 26.5, got %+v", writes)
	}
}

func TestExportRoundTrip(t *testing.T) {
	doc, err := Decode(strings.NewReader(supplyAir), FormatYAML)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	f := nodes.NewFactory(nodes.Deps{})
	g, _, err := Build(f, doc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, Export(g), FormatJSON); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	again, err := Decode(&buf, FormatJSON)
	if err != nil {
		t.Fatalf("Decode of exported JSON failed: %v", err)
	}
	g2, res, err := Build(f, again)
	if err != nil {
		t.Fatalf("Build of exported document failed: %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Errorf("exported document should only hold accepted edges, got %+v", res.Rejected)
	}
	if g.Fingerprint() != g2.Fingerprint() {
		t.Error("round trip changed the graph structure")
	}
	if again.Nodes[1].Category != "LOGIC" {
		t.Errorf("Expected inferred category to be exported, got %q", again.Nodes[1].Category)
	}
}

func TestDecode_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want error
	}{
		{name: "missing version", doc: `{"nodes": [], "edges": []}`, want: ErrInvalidDocument},
		{name: "future version", doc: `{"version": 9, "nodes": [], "edges": []}`, want: ErrUnsupportedVersion},
		{name: "duplicate id", doc: `{"version": 1, "nodes": [{"id": "a", "type": "switch"}, {"id": "a", "type": "switch"}]}`, want: ErrInvalidDocument},
		{name: "dangling edge", doc: `{"version": 1, "nodes": [{"id": "a", "type": "switch"}], "edges": [{"source": "a", "target": "b"}]}`, want: ErrInvalidDocument},
		{name: "missing type", doc: `{"version": 1, "nodes": [{"id": "a"}]}`, want: ErrInvalidDocument},
		{name: "bad direction", doc: `{"version": 1, "nodes": [{"id": "a", "type": "analog-input", "direction": "up"}]}`, want: ErrInvalidDocument},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tc.doc), FormatJSON); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestBuild_UnknownNodeType(t *testing.T) {
	doc := &Document{Version: 1, Nodes: []NodeDoc{{ID: "x", Type: "pid"}}}
	if _, _, err := Build(nodes.NewFactory(nodes.Deps{}), doc); !errors.Is(err, nodes.ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yml")
	if err := os.WriteFile(path, []byte(supplyAir), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Name != "supply air reset" || len(doc.Nodes) != 5 {
		t.Errorf("Unexpected document: %+v", doc)
	}

	if _, err := Load(filepath.Join(dir, "flow.xml")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}
