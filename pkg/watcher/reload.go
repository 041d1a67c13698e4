package watcher

import (
	"context"
	"errors"
	"os"

	"github.com/openbms-io/supervisor-sub001/pkg/graph"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
	"github.com/openbms-io/supervisor-sub001/pkg/workflow"
)

// Reloader is what a reload acts on.
type Reloader interface {
	LoadFile(path, reason string) (*workflow.ApplyResult, bool, error)
	Execute(ctx context.Context) (*graph.PassReport, error)
}

// Action is what to do about a change.
type Action int

const (
	ActionNone Action = iota
	ActionReload
)

// Decide picks the action for a debounced change. A removed file keeps the
// running graph: editors often delete and recreate on save, and the create
// arrives as its own event.
func Decide(event ChangeEvent) Action {
	if event.Type == ChangeTypeRemoved {
		if _, err := os.Stat(event.Path); errors.Is(err, os.ErrNotExist) {
			return ActionNone
		}
	}
	return ActionReload
}

// Run reloads and re-executes the workflow for every event until events
// closes or ctx ends. A workflow that fails to load leaves the previous
// graph in place.
func Run(ctx context.Context, events <-chan ChangeEvent, r Reloader, reason string) {
	log := logging.New("reload")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if Decide(event) == ActionNone {
				log.Warn("workflow file removed, keeping current graph", "path", event.Path)
				continue
			}

			res, changed, err := r.LoadFile(event.Path, reason)
			if err != nil {
				log.Error("reload failed, keeping current graph", "path", event.Path, "error", err)
				continue
			}
			if !changed {
				log.Info("workflow unchanged", "path", event.Path, "events", event.Count)
				continue
			}
			log.Info("workflow reloaded", "path", event.Path, "nodes", res.Nodes, "edges", res.Edges, "rejected", len(res.Rejected))

			if _, err := r.Execute(ctx); err != nil {
				log.Warn("execution after reload failed", "error", err)
			}
		}
	}
}
