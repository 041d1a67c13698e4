package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/openbms-io/supervisor-sub001/pkg/cycles"
	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/router"
)

func init() {
	color.NoColor = true
}

func TestPrintPassReport(t *testing.T) {
	report := &graph.PassReport{
		ID:         "pass-1",
		Outcome:    graph.OutcomeCompleted,
		Sources:    []string{"k1", "k2"},
		Deliveries: 3,
		Values:     map[string]any{"k1": 5.0, "sum": 8.0, "div": nil},
		Statuses:   map[string]string{"k1": "done", "sum": "done", "div": "error"},
		Active:     map[string]bool{"e1": true, "e2": false},
		Failures: []router.Delivery{
			{EdgeID: "sum[default]->div[default]", To: "div", Err: errors.New("division by zero")},
		},
	}

	var buf bytes.Buffer
	PrintPassReport(&buf, "adder", report)
	out := buf.String()

	for _, want := range []string{
		"Workflow: adder",
		"Sources: k1, k2",
		"Edges: 1 of 2 active",
		"Deliveries: 3",
		"FAILURES:",
		"Error: division by zero",
		"Summary: completed with 1 failure(s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// Nodes are listed sorted by id.
	if strings.Index(out, "div") > strings.Index(out, "k1 ") || strings.Index(out, "k1 ") > strings.Index(out, "sum ") {
		t.Errorf("nodes should be sorted by id:\n%s", out)
	}
}

func TestPrintPassReport_Aborted(t *testing.T) {
	report := &graph.PassReport{
		ID:      "pass-2",
		Outcome: graph.OutcomeAborted,
		Cycles:  []cycles.Cycle{{Nodes: []string{"a", "b"}}},
	}

	var buf bytes.Buffer
	PrintPassReport(&buf, "", report)
	out := buf.String()

	if !strings.Contains(out, "ABORTED") || !strings.Contains(out, "a -> b") {
		t.Errorf("aborted report should list the cycle:\n%s", out)
	}
	if strings.Contains(out, "Summary:") {
		t.Errorf("aborted report should stop after the cycle:\n%s", out)
	}
}
