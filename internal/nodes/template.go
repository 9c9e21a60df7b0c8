package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"

	"botflow/internal/graph"
	"botflow/internal/state"
)

type TemplateParams struct {
	Template string `json:"template" validate:"required"`
}

// templateNode renders a sandboxed template against the node input. A
// JSON-object input exposes exactly its keys as template variables; any
// other input binds every declared variable to the raw input string.
type templateNode struct {
	nodeID string
	tpl    *pongo2.Template
	vars   []string
	deps   *Deps
}

var templateVarPattern = regexp.MustCompile(`\{\{-?\s*([a-zA-Z_][a-zA-Z0-9_]*)`)

// parseTemplate compiles src with autoescaping off: pipeline values are plain
// text, so {{ x }} must resolve to the literal value, never an HTML-entity
// encoding of it.
func parseTemplate(src string) (*pongo2.Template, error) {
	return pongo2.FromString("{% autoescape off %}" + src + "{% endautoescape %}")
}

func buildTemplate(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[TemplateParams](node)
	if err != nil {
		return nil, err
	}
	tpl, err := parseTemplate(p.Template)
	if err != nil {
		return nil, &NodeBuildError{NodeID: node.ID, Err: fmt.Errorf("bad template: %w", err)}
	}

	seen := make(map[string]bool)
	var vars []string
	for _, match := range templateVarPattern.FindAllStringSubmatch(p.Template, -1) {
		if name := match[1]; !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}

	return &templateNode{nodeID: node.ID, tpl: tpl, vars: vars, deps: deps}, nil
}

func (slf *templateNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	input := view.Input()

	tplCtx := pongo2.Context{}
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber() // keep numbers as their literal digits, not float64
	var decoded map[string]any
	if err := dec.Decode(&decoded); err == nil && !dec.More() {
		for k, v := range decoded {
			tplCtx[k] = v
		}
	} else {
		// Unstructured input: every declared variable resolves to the raw
		// input string. With an object input, unsupplied variables fall
		// through to the engine default (empty) instead.
		for _, name := range slf.vars {
			tplCtx[name] = input
		}
	}

	rendered, err := slf.tpl.Execute(tplCtx)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: rendered, At: slf.deps.now()},
	}, nil
}
