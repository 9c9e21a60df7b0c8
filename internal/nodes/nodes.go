// Package nodes holds the runtime implementations of every pipeline node
// kind. Each kind decodes and validates its own parameter struct at build
// time; a bad parameter bag never starts executing.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"botflow/internal/dispatch"
	"botflow/internal/graph"
	"botflow/internal/history"
	"botflow/internal/llm"
	"botflow/internal/sandbox"
	"botflow/internal/state"
)

var validate = validator.New()

// Runtime is the uniform contract every node kind implements. Process reads
// through the view and returns a delta; it never mutates shared state
// directly.
type Runtime interface {
	Process(ctx context.Context, view *state.View) (*state.Delta, error)
}

// Deps are the collaborators node runtimes draw on. The engine assembles
// one Deps per invocation so per-run resources (the capped HTTP client)
// reset between runs.
type Deps struct {
	Models     *llm.Registry
	History    *history.Manager
	Sandbox    *sandbox.Runner
	HTTP       *sandbox.HTTPClient
	Dispatcher dispatch.Dispatcher
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NodeBuildError reports invalid or missing node parameters, attributed to
// the node. It is fatal at build time; nothing executes.
type NodeBuildError struct {
	NodeID string
	Err    error
}

func (e *NodeBuildError) Error() string {
	return fmt.Sprintf("node %q build failed: %v", e.NodeID, e.Err)
}

func (e *NodeBuildError) Unwrap() error { return e.Err }

// IsNodeBuildError reports whether err is a NodeBuildError.
func IsNodeBuildError(err error) bool {
	var nbe *NodeBuildError
	return errors.As(err, &nbe)
}

type buildFunc func(node graph.Node, deps *Deps) (Runtime, error)

var builders = map[graph.NodeType]buildFunc{
	graph.NodeTypeStart:       buildIdentity,
	graph.NodeTypeEnd:         buildIdentity,
	graph.NodeTypePassthrough: buildIdentity,
	graph.NodeTypeLLM:         buildLLM,
	graph.NodeTypeRouter:      buildRouter,
	graph.NodeTypeTemplate:    buildTemplate,
	graph.NodeTypeExtract:     buildExtract,
	graph.NodeTypeCode:        buildCode,
	graph.NodeTypeSendEmail:   buildSendEmail,
}

// Build constructs the runtime for one node, validating its parameters.
func Build(node graph.Node, deps *Deps) (Runtime, error) {
	builder, ok := builders[node.Type]
	if !ok {
		return nil, &NodeBuildError{NodeID: node.ID, Err: fmt.Errorf("no runtime for node type %q", node.Type)}
	}
	rt, err := builder(node, deps)
	if err != nil {
		var nbe *NodeBuildError
		if errors.As(err, &nbe) {
			return nil, err
		}
		return nil, &NodeBuildError{NodeID: node.ID, Err: err}
	}
	return rt, nil
}

// params decodes and validates a node's parameter bag into T.
func params[T any](node graph.Node) (T, error) {
	p, err := graph.TypedParams[T](node)
	if err != nil {
		return p, &NodeBuildError{NodeID: node.ID, Err: err}
	}
	if err := validate.Struct(&p); err != nil {
		return p, &NodeBuildError{NodeID: node.ID, Err: err}
	}
	return p, nil
}
