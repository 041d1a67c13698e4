package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openbms-io/supervisor-sub001/pkg/cycles"
)

var (
	// ErrCycleDetected aborts a pass before any node runs.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrNodeNotFound is returned when an operation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrDuplicateNode is returned when a node id is already taken.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrPassInProgress is returned when a pass is started from inside another.
	ErrPassInProgress = errors.New("execution pass already in progress")
)

// CycleError lists the cycles that made a pass abort.
type CycleError struct {
	Cycles []cycles.Cycle
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		parts = append(parts, strings.Join(c.Nodes, " -> "))
	}
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(parts, "; "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// Nodes returns every node that takes part in a cycle.
func (e *CycleError) Nodes() []string {
	return cycles.Members(e.Cycles)
}
