package nodes

import (
	"context"

	"botflow/internal/graph"
	"botflow/internal/interrupt"
	"botflow/internal/sandbox"
	"botflow/internal/state"
)

type CodeParams struct {
	Source string `json:"source" validate:"required"`
}

// codeNode runs user code in the sandbox. Control signals raised by the
// script (abort, require_node_outputs, wait_for_next_input) are returned as
// signal errors for the engine to interpret.
type codeNode struct {
	nodeID string
	params CodeParams
	deps   *Deps
}

func buildCode(node graph.Node, deps *Deps) (Runtime, error) {
	p, err := params[CodeParams](node)
	if err != nil {
		return nil, err
	}
	return &codeNode{nodeID: node.ID, params: p, deps: deps}, nil
}

func (slf *codeNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	env := &sandbox.Env{
		Input:     view.Input(),
		Inputs:    view.Inputs(),
		GetOutput: view.NodeOutput,
		HTTP:      slf.deps.HTTP,
	}

	outcome, err := slf.deps.Sandbox.Run(ctx, slf.nodeID, slf.params.Source, env)
	if err != nil {
		return nil, err
	}

	switch {
	case outcome.Abort != nil:
		return nil, outcome.Abort
	case len(outcome.Require) > 0:
		return nil, &interrupt.RequireOutputs{Names: outcome.Require}
	case outcome.Wait:
		return nil, interrupt.ErrWaitForNextInput
	}

	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: outcome.Result, At: slf.deps.now()},
	}, nil
}
