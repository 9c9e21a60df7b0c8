package nodes

import (
	"context"

	"botflow/internal/graph"
	"botflow/internal/state"
)

// identityNode passes its input through unchanged. Start and end nodes
// bound the graph with it; passthrough nodes use it for structural wiring.
type identityNode struct {
	nodeID string
	deps   *Deps
}

func buildIdentity(node graph.Node, deps *Deps) (Runtime, error) {
	return &identityNode{nodeID: node.ID, deps: deps}, nil
}

func (slf *identityNode) Process(ctx context.Context, view *state.View) (*state.Delta, error) {
	return &state.Delta{
		NodeID: slf.nodeID,
		Output: &state.Output{Content: view.Input(), At: slf.deps.now()},
	}, nil
}
