// Package workflow reads and writes versioned workflow documents and turns
// them into graphs.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openbms-io/supervisor-sub001/pkg/model"
)

// CurrentVersion is the document version this package writes.
const CurrentVersion = 1

var (
	// ErrUnsupportedFormat is returned for files that are neither JSON nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported workflow format")
	// ErrUnsupportedVersion is returned for documents from a newer writer.
	ErrUnsupportedVersion = errors.New("unsupported workflow version")
	// ErrInvalidDocument is returned when a document fails validation.
	ErrInvalidDocument = errors.New("invalid workflow document")
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Document is the persisted form of a workflow.
type Document struct {
	Version int       `json:"version" yaml:"version" validate:"min=1"`
	Name    string    `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes   []NodeDoc `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges   []EdgeDoc `json:"edges" yaml:"edges" validate:"dive"`
}

// NodeDoc is one persisted node.
type NodeDoc struct {
	ID        string          `json:"id" yaml:"id" validate:"required"`
	Category  model.Category  `json:"category,omitempty" yaml:"category,omitempty"`
	Type      string          `json:"type" yaml:"type" validate:"required"`
	Direction model.Direction `json:"direction,omitempty" yaml:"direction,omitempty" validate:"omitempty,oneof=input output"`
	Position  PositionDoc     `json:"position" yaml:"position"`
	Metadata  map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// PositionDoc is where the editor draws a node.
type PositionDoc struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// EdgeDoc is one persisted connection. Handles may be omitted.
type EdgeDoc struct {
	Source       string `json:"source" yaml:"source" validate:"required"`
	Target       string `json:"target" yaml:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

func (e EdgeDoc) String() string {
	return model.EdgeID(e.Source, e.SourceHandle, e.Target, e.TargetHandle)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode reads a document and validates it.
func Decode(r io.Reader, format Format) (*Document, error) {
	doc := &Document{}
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(doc); err != nil {
			return nil, fmt.Errorf("decode json workflow: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(doc); err != nil {
			return nil, fmt.Errorf("decode yaml workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Load reads and validates the document at path.
func Load(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return Decode(bytes.NewReader(data), format)
}

// Validate checks field constraints, the version, and that ids are unique
// and every edge names known nodes.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if d.Version > CurrentVersion {
		return fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedVersion, d.Version, CurrentVersion)
	}

	ids := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidDocument, n.ID)
		}
		ids[n.ID] = true
	}
	for _, e := range d.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			return fmt.Errorf("%w: edge %s references an unknown node", ErrInvalidDocument, e)
		}
	}
	return nil
}

// Encode writes the document.
func Encode(w io.Writer, d *Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
