package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	"botflow/internal/graph"
	"botflow/internal/history"
	"botflow/internal/llm"
	"botflow/internal/state"
)

// LLMParams configures an LLM-calling node. Provider, model and temperature
// are validated at build time, not when the node first fires.
type LLMParams struct {
	Provider     string  `json:"provider" validate:"required"`
	Model        string  `json:"model" validate:"required"`
	Temperature  float64 `json:"temperature" validate:"gte=0,lte=2"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"systemPrompt"`
	Source       string  `json:"source"`
	HistoryType  string  `json:"historyType" validate:"omitempty,oneof=none global named node"`
	HistoryName  string  `json:"historyName" validate:"required_if=HistoryType named"`
	Compression  string  `json:"compression" validate:"omitempty,oneof=summarize truncate_tokens max_history_length"`
	TokenBudget  int     `json:"tokenBudget" validate:"gte=0"`
	MaxTurns     int     `json:"maxTurns" validate:"gte=0"`
}

type llmNode struct {
	nodeID string
	params LLMParams
	model  llm.ChatModel
	deps   *Deps
}

func buildLLM(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[LLMParams](node)
	if err != nil {
		return nil, err
	}
	model, err := deps.Models.ChatModel(p.Provider, p.Model, p.Temperature)
	if err != nil {
		return nil, &NodeBuildError{NodeID: node.ID, Err: err}
	}
	return &llmNode{nodeID: node.ID, params: p, model: model, deps: deps}, nil
}

func (slf *llmNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	input := view.Input()
	prompt, err := slf.renderPrompt(view, input)
	if err != nil {
		return nil, err
	}

	scope, ok := slf.scope(view)

	var messages []llm.Message
	if slf.params.SystemPrompt != "" {
		messages = append(messages, llm.SystemMessage(slf.params.SystemPrompt))
	}
	if ok {
		past, err := slf.deps.History.Context(ctx, scope, history.Policy{
			Strategy:    history.Strategy(slf.params.Compression),
			TokenBudget: slf.params.TokenBudget,
			MaxTurns:    slf.params.MaxTurns,
			Model:       slf.params.Model,
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, past...)
	}
	messages = append(messages, llm.HumanMessage(prompt))

	response, err := slf.model.Invoke(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	if ok {
		if err := slf.deps.History.Append(ctx, scope, prompt, response); err != nil {
			return nil, err
		}
	}

	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: response, At: slf.deps.now()},
	}, nil
}

// renderPrompt builds the human message. Prompts carrying template syntax
// are rendered with participant data, source material, current time and the
// node input as variables; plain prompts get the input appended.
func (slf *llmNode) renderPrompt(view *state.View, input string) (string, error) {
	raw := slf.params.Prompt
	if raw == "" {
		return input, nil
	}
	if !strings.Contains(raw, "{{") {
		return strings.TrimSpace(raw + " " + input), nil
	}

	tpl, err := parseTemplate(raw)
	if err != nil {
		return "", fmt.Errorf("bad prompt template: %w", err)
	}
	rendered, err := tpl.Execute(pongo2.Context{
		"input":        input,
		"source":       slf.params.Source,
		"participant":  view.Participant(),
		"session":      view.Session(),
		"current_time": slf.deps.now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return rendered, nil
}

func (slf *llmNode) scope(view *state.View) (history.Scope, bool) {
	session := view.Meta().SessionID
	switch history.Type(slf.params.HistoryType) {
	case history.TypeNode:
		return history.NodeScope(session, slf.nodeID), true
	case history.TypeNamed:
		return history.NamedScope(session, slf.params.HistoryName), true
	case history.TypeGlobal:
		return history.GlobalScope(session), true
	default:
		return history.Scope{}, false
	}
}
