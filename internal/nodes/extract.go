package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"botflow/internal/graph"
	"botflow/internal/llm"
	"botflow/internal/state"
)

// ExtractParams configures structured extraction: the JSON schema the model
// must fill, and optionally where the merged result is persisted.
type ExtractParams struct {
	Provider    string          `json:"provider" validate:"required"`
	Model       string          `json:"model" validate:"required"`
	Temperature float64         `json:"temperature" validate:"gte=0,lte=2"`
	Schema      json.RawMessage `json:"schema" validate:"required"`
	Target      string          `json:"target" validate:"omitempty,oneof=participant session"`
	Key         string          `json:"key" validate:"required_with=Target"`
}

type extractNode struct {
	nodeID string
	params ExtractParams
	model  llm.ChatModel
	schema *gojsonschema.Schema
	deps   *Deps
}

func buildExtract(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[ExtractParams](node)
	if err != nil {
		return nil, err
	}
	model, err := deps.Models.ChatModel(p.Provider, p.Model, p.Temperature)
	if err != nil {
		return nil, &NodeBuildError{NodeID: node.ID, Err: err}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(p.Schema))
	if err != nil {
		return nil, &NodeBuildError{NodeID: node.ID, Err: fmt.Errorf("bad extraction schema: %w", err)}
	}
	return &extractNode{nodeID: node.ID, params: p, model: model, schema: schema, deps: deps}, nil
}

const extractPrompt = `Extract the information described by this JSON schema from the text below.
Merge with what is already known; keep known values unless the text contradicts them.
Reply with a single JSON object matching the schema and nothing else.

Schema:
%s

Known so far:
%s

Text:
%s`

// chunkOverlapRatio keeps roughly 20%% token overlap between chunks.
const chunkOverlapRatio = 5

func (slf *extractNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	input := view.Input()

	// Token budget for the target model: half the window is left for the
	// schema, the accumulating reference object and the response.
	budget := llm.ContextWindow(slf.params.Model) / 2
	tok := llm.TokenizerFor(slf.params.Model)
	chunks := tok.Chunk(input, budget, budget/chunkOverlapRatio)

	acc := make(map[string]any)
	for _, chunk := range chunks {
		known, err := json.Marshal(acc)
		if err != nil {
			return nil, err
		}
		response, err := slf.model.Invoke(ctx, []llm.Message{
			llm.HumanMessage(fmt.Sprintf(extractPrompt, slf.params.Schema, known, chunk)),
		})
		if err != nil {
			return nil, fmt.Errorf("extraction call failed: %w", err)
		}

		piece, err := slf.decode(response)
		if err != nil {
			return nil, err
		}
		mergeExtracted(acc, piece)
	}

	merged, err := json.Marshal(acc)
	if err != nil {
		return nil, err
	}

	delta := &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: string(merged), At: slf.deps.now()},
	}
	switch slf.params.Target {
	case "participant":
		delta.Participant = map[string]any{slf.params.Key: acc}
	case "session":
		delta.Session = map[string]any{slf.params.Key: acc}
	}
	return delta, nil
}

// decode pulls the JSON object out of a model response and validates it
// against the extraction schema.
func (slf *extractNode) decode(response string) (map[string]any, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("extraction response contains no JSON object")
	}
	raw := response[start : end+1]

	result, err := slf.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate extraction: %w", err)
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, fmt.Errorf("extraction does not match schema: %s", strings.Join(reasons, "; "))
	}

	var piece map[string]any
	if err := json.Unmarshal([]byte(raw), &piece); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return piece, nil
}

// mergeExtracted folds a chunk's extraction into the accumulating reference
// object. Scalars overwrite only when non-empty; lists union in order.
func mergeExtracted(acc map[string]any, piece map[string]any) {
	for k, v := range piece {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val != "" {
				acc[k] = val
			}
		case []any:
			existing, _ := acc[k].([]any)
			acc[k] = unionList(existing, val)
		case map[string]any:
			nested, ok := acc[k].(map[string]any)
			if !ok {
				nested = make(map[string]any)
			}
			mergeExtracted(nested, val)
			acc[k] = nested
		default:
			acc[k] = v
		}
	}
}

func unionList(existing, incoming []any) []any {
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[fmt.Sprint(item)] = true
	}
	for _, item := range incoming {
		if !seen[fmt.Sprint(item)] {
			existing = append(existing, item)
			seen[fmt.Sprint(item)] = true
		}
	}
	return existing
}
