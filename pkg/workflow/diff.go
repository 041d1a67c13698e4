package workflow

import (
	"encoding/json"
	"slices"
)

// Diff lists what changed between two documents. Node entries are node ids
// and edge entries are edge ids. Positions are ignored.
type Diff struct {
	AddedNodes    []string `json:"addedNodes,omitempty"`
	RemovedNodes  []string `json:"removedNodes,omitempty"`
	ModifiedNodes []string `json:"modifiedNodes,omitempty"`
	AddedEdges    []string `json:"addedEdges,omitempty"`
	RemovedEdges  []string `json:"removedEdges,omitempty"`
}

// Empty reports whether the documents describe the same graph.
func (d *Diff) Empty() bool {
	return len(d.AddedNodes)+len(d.RemovedNodes)+len(d.ModifiedNodes)+len(d.AddedEdges)+len(d.RemovedEdges) == 0
}

// ComputeDiff compares old against next. A nil old counts as empty. Entries
// follow document order: next for additions and modifications, old for
// removals.
func ComputeDiff(old, next *Document) *Diff {
	if old == nil {
		old = &Document{}
	}
	diff := &Diff{}

	oldNodes := make(map[string]NodeDoc, len(old.Nodes))
	for _, n := range old.Nodes {
		oldNodes[n.ID] = n
	}
	newNodes := make(map[string]bool, len(next.Nodes))
	for _, n := range next.Nodes {
		newNodes[n.ID] = true
		prev, ok := oldNodes[n.ID]
		switch {
		case !ok:
			diff.AddedNodes = append(diff.AddedNodes, n.ID)
		case !nodesEqual(prev, n):
			diff.ModifiedNodes = append(diff.ModifiedNodes, n.ID)
		}
	}
	for _, n := range old.Nodes {
		if !newNodes[n.ID] {
			diff.RemovedNodes = append(diff.RemovedNodes, n.ID)
		}
	}

	oldEdges := edgeIDs(old.Edges)
	newEdges := edgeIDs(next.Edges)
	for _, id := range newEdges {
		if !slices.Contains(oldEdges, id) {
			diff.AddedEdges = append(diff.AddedEdges, id)
		}
	}
	for _, id := range oldEdges {
		if !slices.Contains(newEdges, id) {
			diff.RemovedEdges = append(diff.RemovedEdges, id)
		}
	}
	return diff
}

func edgeIDs(edges []EdgeDoc) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.String())
	}
	return out
}

// nodesEqual compares everything but the position, which the editor changes
// freely.
func nodesEqual(a, b NodeDoc) bool {
	if a.Category != b.Category || a.Type != b.Type || a.Direction != b.Direction {
		return false
	}
	ma, errA := json.Marshal(a.Metadata)
	mb, errB := json.Marshal(b.Metadata)
	return errA == nil && errB == nil && string(ma) == string(mb)
}
