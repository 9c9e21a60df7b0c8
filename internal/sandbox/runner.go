// Package sandbox executes user-authored node code under a restricted
// Starlark interpreter. Scripts see only the capabilities the engine grants:
// node-output reads, control signals and capped outbound HTTP. Module loads
// are denied.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"botflow/internal/interrupt"
	"botflow/internal/llm"
)

// Env is the capability surface one script execution sees.
type Env struct {
	Input     string
	Inputs    []string
	GetOutput func(name string) (string, bool)
	HTTP      *HTTPClient
}

// Outcome is the terminal result of one script execution.
type Outcome struct {
	Result  string
	Abort   *interrupt.Abort
	Require []string
	Wait    bool
}

// Runner executes code-node scripts.
type Runner struct {
	logger zerolog.Logger
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger}
}

// signalError stops script execution when a control builtin fires. The
// signal itself is captured on the capture struct.
type signalError struct{}

func (signalError) Error() string { return "control signal raised" }

type capture struct {
	abort   *interrupt.Abort
	require []string
	wait    bool
}

func (c *capture) raised() bool {
	return c.abort != nil || len(c.require) > 0 || c.wait
}

// Run executes src with the capabilities in env. The script's `result`
// global becomes the node output; a script without one passes its input
// through.
func (slf *Runner) Run(ctx context.Context, nodeID, src string, env *Env) (*Outcome, error) {
	sig := &capture{}

	thread := &starlark.Thread{
		Name: "code:" + nodeID,
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load of %q denied: imports are not available in sandboxed code", module)
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	// User scripts are not modules: allow top-level control flow, sets and
	// rebinding the way a scripting surface is expected to behave.
	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
	globals, err := starlark.ExecFileOptions(opts, thread, nodeID+".star", src, slf.predeclared(ctx, env, sig))
	if sig.raised() {
		return &Outcome{Abort: sig.abort, Require: sig.require, Wait: sig.wait}, nil
	}
	if err != nil {
		var transient *llm.TransientError
		if errors.As(err, &transient) {
			return nil, transient
		}
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("code node failed: %s", evalErr.Backtrace())
		}
		// Syntax and resolution violations surface here, attributed to the
		// offending construct by the interpreter's position info.
		return nil, fmt.Errorf("code node failed: %w", err)
	}

	out := &Outcome{Result: env.Input}
	if v, ok := globals["result"]; ok {
		out.Result = stringify(v)
	}
	return out, nil
}

func (slf *Runner) predeclared(ctx context.Context, env *Env, sig *capture) starlark.StringDict {
	getOutput := func(name string) (string, bool) {
		if env.GetOutput == nil {
			return "", false
		}
		return env.GetOutput(name)
	}

	return starlark.StringDict{
		"input": starlark.NewBuiltin("input", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(env.Input), nil
		}),
		"inputs": starlark.NewBuiltin("inputs", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			elems := make([]starlark.Value, 0, len(env.Inputs))
			for _, in := range env.Inputs {
				elems = append(elems, starlark.String(in))
			}
			return starlark.NewList(elems), nil
		}),
		"get_node_output": starlark.NewBuiltin("get_node_output", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			out, ok := getOutput(name)
			if !ok {
				return starlark.None, nil
			}
			return starlark.String(out), nil
		}),
		"has_node_output": starlark.NewBuiltin("has_node_output", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			_, ok := getOutput(name)
			return starlark.Bool(ok), nil
		}),
		"abort": starlark.NewBuiltin("abort", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var message, tag string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "message", &message, "tag?", &tag); err != nil {
				return nil, err
			}
			sig.abort = &interrupt.Abort{Message: message, Tag: tag}
			return nil, signalError{}
		}),
		"require_node_outputs": starlark.NewBuiltin("require_node_outputs", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var names *starlark.List
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "names", &names); err != nil {
				return nil, err
			}
			var missing []string
			var all []string
			for i := 0; i < names.Len(); i++ {
				name, ok := starlark.AsString(names.Index(i))
				if !ok {
					return nil, fmt.Errorf("require_node_outputs: names must be strings")
				}
				all = append(all, name)
				if _, present := getOutput(name); !present {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				sig.require = all
				return nil, signalError{}
			}
			return starlark.None, nil
		}),
		"wait_for_next_input": starlark.NewBuiltin("wait_for_next_input", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			sig.wait = true
			return nil, signalError{}
		}),
		"http_request": starlark.NewBuiltin("http_request", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var method, url, body, credential string
			var timeout int
			headers := &starlark.Dict{}
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"method", &method, "url", &url, "body?", &body,
				"headers?", &headers, "credential?", &credential, "timeout?", &timeout); err != nil {
				return nil, err
			}
			if env.HTTP == nil {
				return nil, fmt.Errorf("http_request: outbound HTTP is not available")
			}

			hdrs := make(map[string]string, headers.Len())
			for _, item := range headers.Items() {
				k, _ := starlark.AsString(item[0])
				v, _ := starlark.AsString(item[1])
				hdrs[k] = v
			}

			resp, err := env.HTTP.Do(ctx, method, url, hdrs, body, credential, time.Duration(timeout)*time.Second)
			if err != nil {
				return nil, err
			}

			out := starlark.NewDict(2)
			_ = out.SetKey(starlark.String("status"), starlark.MakeInt(resp.Status))
			_ = out.SetKey(starlark.String("body"), starlark.String(resp.Body))
			return out, nil
		}),
	}
}

func stringify(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
