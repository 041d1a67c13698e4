package model

import (
	"fmt"
	"net/url"
)

// DefaultHandle is used wherever a connection omits a handle.
const DefaultHandle = "default"

// NormalizeHandle maps an omitted handle to DefaultHandle.
func NormalizeHandle(h string) string {
	if h == "" {
		return DefaultHandle
	}
	return h
}

// EdgeID derives the identity of an edge from its endpoints. Components are
// escaped so the delimiters cannot occur inside them, which keeps distinct
// handle pairs between the same two nodes from colliding.
func EdgeID(sourceID, sourceHandle, targetID, targetHandle string) string {
	return fmt.Sprintf("%s[%s]->%s[%s]",
		url.QueryEscape(sourceID),
		url.QueryEscape(NormalizeHandle(sourceHandle)),
		url.QueryEscape(targetID),
		url.QueryEscape(NormalizeHandle(targetHandle)),
	)
}

// Endpoint is the denormalized description of one side of an edge.
type Endpoint struct {
	NodeID   string   `json:"nodeId"`
	Category Category `json:"category"`
	Type     string   `json:"type"`
	Handle   string   `json:"handle"`
}

// EdgeData holds routing data copied from the endpoint nodes plus the
// transient activation flag. It is not persisted.
type EdgeData struct {
	SourceData Endpoint `json:"sourceData"`
	TargetData Endpoint `json:"targetData"`
	IsActive   bool     `json:"isActive"`
}

// Edge is a directed connection from a source handle to a target handle.
type Edge struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	SourceHandle string    `json:"sourceHandle"`
	TargetHandle string    `json:"targetHandle"`
	Data         *EdgeData `json:"data,omitempty"`
}

// NewEdge builds an edge between two nodes with denormalized endpoint data.
// The edge starts inactive.
func NewEdge(source Node, sourceHandle string, target Node, targetHandle string) *Edge {
	sh := NormalizeHandle(sourceHandle)
	th := NormalizeHandle(targetHandle)
	return &Edge{
		ID:           EdgeID(source.ID(), sh, target.ID(), th),
		Source:       source.ID(),
		Target:       target.ID(),
		SourceHandle: sh,
		TargetHandle: th,
		Data: &EdgeData{
			SourceData: Endpoint{NodeID: source.ID(), Category: source.Category(), Type: source.Type(), Handle: sh},
			TargetData: Endpoint{NodeID: target.ID(), Category: target.Category(), Type: target.Type(), Handle: th},
		},
	}
}

// Active reports whether the edge may carry a message in the current pass.
// Edges without data are treated as always active.
func (e *Edge) Active() bool {
	if e.Data == nil {
		return true
	}
	return e.Data.IsActive
}

// SetActive sets the activation flag. It is a no-op on edges without data.
func (e *Edge) SetActive(active bool) {
	if e.Data == nil {
		return
	}
	e.Data.IsActive = active
}

// Clone returns a deep copy safe to hand to callers outside the graph.
func (e *Edge) Clone() Edge {
	c := *e
	if e.Data != nil {
		d := *e.Data
		c.Data = &d
	}
	return c
}
