package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// OllamaProvider talks to an Ollama server over its /api/chat endpoint.
type OllamaProvider struct {
	Host   string
	Client *http.Client
}

func NewOllamaProvider(host string) *OllamaProvider {
	return &OllamaProvider{
		Host:   host,
		Client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OllamaProvider) ChatModel(modelID string, temperature float64) (ChatModel, error) {
	if modelID == "" {
		return nil, fmt.Errorf("ollama model id is required")
	}
	return &ollamaChatModel{provider: p, model: modelID, temperature: temperature}, nil
}

type ollamaChatModel struct {
	provider    *OllamaProvider
	model       string
	temperature float64
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options"`
}

type ollamaRawResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (m *ollamaChatModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	payload := ollamaChatRequest{
		Model:    m.model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   false,
		Options: map[string]any{
			"temperature": m.temperature,
		},
	}
	for _, msg := range messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: ollamaRole(msg.Role), Content: msg.Content})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/chat", m.provider.Host), bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.provider.Client.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if TransientStatus(resp.StatusCode) {
		return "", &TransientError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("ollama returned %s", resp.Status),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %s: %s", resp.Status, body)
	}

	var raw ollamaRawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if !raw.Done {
		return "", fmt.Errorf("ollama call not done")
	}

	return raw.Message.Content, nil
}

func ollamaRole(r Role) string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleAI:
		return "assistant"
	default:
		return "user"
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
