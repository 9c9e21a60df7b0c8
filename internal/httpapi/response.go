package httpapi

import (
	"botflow/internal/state"
)

type APIError struct {
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
	RunID   string `json:"runId,omitempty"`
}

// InvokeResponse returns the run outcome plus the session/participant maps
// the caller is expected to flush back to its own persistence.
type InvokeResponse struct {
	RunID         string                      `json:"runId"`
	FinalOutput   string                      `json:"finalOutput"`
	OutputsByNode map[string]state.OutputList `json:"outputsByNode"`
	Path          []state.PathEntry           `json:"path"`
	Interrupt     *state.Interrupt            `json:"interrupt,omitempty"`
	SessionData   map[string]any              `json:"sessionData"`
	Participant   map[string]any              `json:"participant"`
}

type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	StartID string `json:"startId,omitempty"`
	EndID   string `json:"endId,omitempty"`
	Error   string `json:"error,omitempty"`
}
