package httpapi

import (
	"botflow/internal/graph"
)

// InvokeRequest is the wire shape of one pipeline invocation.
type InvokeRequest struct {
	Definition      graph.Definition `json:"definition" validate:"required"`
	Input           string           `json:"input" validate:"required"`
	SessionID       string           `json:"sessionId" validate:"required"`
	PipelineVersion string           `json:"pipelineVersion"`
	SessionData     map[string]any   `json:"sessionData"`
	Participant     map[string]any   `json:"participant"`
}

// ValidateRequest carries a definition to check without executing it.
type ValidateRequest struct {
	Definition graph.Definition `json:"definition" validate:"required"`
}
