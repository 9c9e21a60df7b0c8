package nodes

import (
	"context"
	"fmt"
	"strings"

	"botflow/internal/graph"
	"botflow/internal/llm"
	"botflow/internal/state"
)

// RouterParams configures conditional routing. In condition mode the input
// is compared for string equality and the route key is "true" or "false".
// In keywords mode an LLM classifies the input against the keyword list and
// the winning keyword becomes the route key; an unmatched or ambiguous
// classification falls back to the first keyword.
type RouterParams struct {
	Mode        string   `json:"mode" validate:"required,oneof=condition keywords"`
	Value       string   `json:"value"`
	Keywords    []string `json:"keywords" validate:"required_if=Mode keywords,omitempty,min=1"`
	Provider    string   `json:"provider" validate:"required_if=Mode keywords"`
	Model       string   `json:"model" validate:"required_if=Mode keywords"`
	Temperature float64  `json:"temperature" validate:"gte=0,lte=2"`
}

type routerNode struct {
	nodeID string
	params RouterParams
	model  llm.ChatModel
	deps   *Deps
}

func buildRouter(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[RouterParams](node)
	if err != nil {
		return nil, err
	}
	var model llm.ChatModel
	if p.Mode == "keywords" {
		model, err = deps.Models.ChatModel(p.Provider, p.Model, p.Temperature)
		if err != nil {
			return nil, &NodeBuildError{NodeID: node.ID, Err: err}
		}
	}
	return &routerNode{nodeID: node.ID, params: p, model: model, deps: deps}, nil
}

func (slf *routerNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	input := view.Input()

	var route string
	switch slf.params.Mode {
	case "condition":
		if input == slf.params.Value {
			route = "true"
		} else {
			route = "false"
		}
	case "keywords":
		selected, err := slf.classify(ctx, input)
		if err != nil {
			return nil, err
		}
		route = selected
	}

	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: input, Route: route, At: slf.deps.now()},
	}, nil
}

const classifyPrompt = `Classify the following message into exactly one of these categories: %s.
Reply with the category name only.

Message: %s`

func (slf *routerNode) classify(ctx context.Context, input string) (string, error) {
	response, err := slf.model.Invoke(ctx, []llm.Message{
		llm.HumanMessage(fmt.Sprintf(classifyPrompt, strings.Join(slf.params.Keywords, ", "), input)),
	})
	if err != nil {
		return "", fmt.Errorf("keyword classification failed: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(response))
	for _, kw := range slf.params.Keywords {
		if strings.Contains(answer, strings.ToLower(kw)) {
			return kw, nil
		}
	}
	// Deterministic default, not an error.
	return slf.params.Keywords[0], nil
}
