package llm

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func HumanMessage(content string) Message  { return Message{Role: RoleHuman, Content: content} }
func AIMessage(content string) Message     { return Message{Role: RoleAI, Content: content} }

// ChatModel is the minimal contract LLM-calling nodes depend on.
type ChatModel interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// Provider hands out chat models for one LLM backend.
type Provider interface {
	ChatModel(modelID string, temperature float64) (ChatModel, error)
}

// Registry maps provider ids to providers. It is the engine-facing
// implementation of getChatModel(providerId, modelId, temperature).
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(providerID string, p Provider) {
	r.providers[providerID] = p
}

func (r *Registry) ChatModel(providerID, modelID string, temperature float64) (ChatModel, error) {
	p, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q", providerID)
	}
	return p.ChatModel(modelID, temperature)
}

// TransientError marks a provider/network failure worth retrying: 429 and
// 5xx gateway statuses, connect timeouts. RetryAfter carries the server's
// Retry-After hint when one was sent.
type TransientError struct {
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TransientStatus reports whether an HTTP status is retryable.
func TransientStatus(status int) bool {
	switch status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}
