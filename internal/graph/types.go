package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

type NodeType string

const (
	NodeTypeStart       NodeType = "start"
	NodeTypeEnd         NodeType = "end"
	NodeTypePassthrough NodeType = "passthrough"
	NodeTypeLLM         NodeType = "llm_response"
	NodeTypeRouter      NodeType = "router"
	NodeTypeTemplate    NodeType = "template"
	NodeTypeExtract     NodeType = "extract"
	NodeTypeCode        NodeType = "code"
	NodeTypeSendEmail   NodeType = "send_email"
)

var knownTypes = map[NodeType]bool{
	NodeTypeStart:       true,
	NodeTypeEnd:         true,
	NodeTypePassthrough: true,
	NodeTypeLLM:         true,
	NodeTypeRouter:      true,
	NodeTypeTemplate:    true,
	NodeTypeExtract:     true,
	NodeTypeCode:        true,
	NodeTypeSendEmail:   true,
}

// Params holds a node's raw JSON parameter bag. Typed decoding happens
// per node type at build time.
type Params []byte

// MarshalJSON implements json.Marshaler - returns raw JSON
func (p Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler - stores raw JSON
func (p *Params) UnmarshalJSON(data []byte) error {
	if data == nil {
		*p = nil
		return nil
	}
	*p = data
	return nil
}

type Node struct {
	ID string `json:"id"`
	// Type of the node. It has to be immutable
	Type   NodeType `json:"type"`
	Label  string   `json:"label"`
	Params Params   `json:"params"`
}

type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Definition is the wire shape produced by the visual editor.
type Definition struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// TypedParams deserializes a node's parameter bag into the expected type.
func TypedParams[T any](node Node) (T, error) {
	var result T
	if node.Params == nil {
		return result, nil
	}
	if err := json.Unmarshal(node.Params, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return result, nil
}

// BuildError reports an invalid graph definition. Nothing executes when a
// build fails.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return "graph build failed: " + e.Reason
}

func buildErrorf(format string, args ...any) *BuildError {
	return &BuildError{Reason: fmt.Sprintf(format, args...)}
}

// IsBuildError reports whether err is a graph BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
