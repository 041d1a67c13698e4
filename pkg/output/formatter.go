// Package output prints execution reports for the command line.
package output

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
)

// PrintPassReport prints one pass with colors: the outcome, every node's
// value and status, the live edges, and any node failures.
func PrintPassReport(w io.Writer, name string, report *graph.PassReport) {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	title := "Supervisor - Execution Report"
	bold.Fprintln(w, title)
	bold.Fprintln(w, strings.Repeat("=", len(title)))
	if name != "" {
		fmt.Fprintf(w, "Workflow: %s\n", name)
	}
	fmt.Fprintf(w, "Pass: %s\n", report.ID)
	fmt.Fprintf(w, "Duration: %s\n", report.Duration)
	fmt.Fprintln(w)

	if report.Outcome == graph.OutcomeAborted {
		red.Fprintln(w, "ABORTED: the graph contains a cycle")
		for _, c := range report.Cycles {
			yellow.Fprintf(w, "  %s\n", strings.Join(c.Nodes, " -> "))
		}
		return
	}

	fmt.Fprintf(w, "Sources: %s\n", strings.Join(report.Sources, ", "))
	fmt.Fprintln(w)

	bold.Fprintln(w, "NODES:")
	ids := make([]string, 0, len(report.Values))
	for id := range report.Values {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		status := report.Statuses[id]
		c := cyan
		switch status {
		case "error":
			c = red
		case "done":
			c = green
		}
		fmt.Fprintf(w, "  %-20s ", id)
		c.Fprintf(w, "%-8s", status)
		fmt.Fprintf(w, " %v\n", formatValue(report.Values[id]))
	}
	fmt.Fprintln(w)

	active := 0
	for _, on := range report.Active {
		if on {
			active++
		}
	}
	fmt.Fprintf(w, "Edges: %d of %d active\n", active, len(report.Active))
	fmt.Fprintf(w, "Deliveries: %d\n", report.Deliveries)

	if len(report.Failures) > 0 {
		fmt.Fprintln(w)
		red.Fprintln(w, "FAILURES:")
		for _, d := range report.Failures {
			yellow.Fprintf(w, "  %s\n", d.To)
			if d.EdgeID != "" {
				cyan.Fprintf(w, "    Edge: %s\n", d.EdgeID)
			}
			fmt.Fprintf(w, "    Error: %v\n", d.Err)
		}
	}
	fmt.Fprintln(w)

	summary := green
	switch {
	case report.Outcome == graph.OutcomeCancelled:
		summary = yellow
	case len(report.Failures) > 0:
		summary = red
	}
	summary.Fprintf(w, "Summary: %s with %d failure(s)\n", report.Outcome, len(report.Failures))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}
