// Package engine schedules a validated pipeline graph: it fires node tasks
// as their inputs arrive, merges their deltas into the shared execution
// state, and turns interrupt signals and failures into the run's terminal
// outcome.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"botflow/internal/dispatch"
	"botflow/internal/graph"
	"botflow/internal/history"
	"botflow/internal/interrupt"
	"botflow/internal/llm"
	"botflow/internal/nodes"
	"botflow/internal/runlog"
	"botflow/internal/sandbox"
	"botflow/internal/state"
	"botflow/pkg"
)

// Config bounds the engine's concurrency and retry behavior. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	Workers        int
	MaxAttempts    int
	NodeTimeout    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:        8,
		MaxAttempts:    3,
		NodeTimeout:    60 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Session carries the caller-owned context a run executes under. Data and
// Participant seed the session/participant maps; the caller flushes them
// back to its own persistence after the run.
type Session struct {
	ID              string
	PipelineVersion string
	Data            map[string]any
	Participant     map[string]any
	Attachments     []state.Attachment
}

// Result is the terminal outcome of one invocation. Interrupt is non-nil
// when a node aborted the run deliberately; that is still a normal result.
type Result struct {
	FinalOutput string
	State       *state.ExecutionState
	Interrupt   *state.Interrupt
	Run         *runlog.Run
}

// Engine drives pipeline invocations. One Engine serves many concurrent
// invocations; all per-run state lives on the run, not on the Engine.
type Engine struct {
	cfg        Config
	models     *llm.Registry
	history    *history.Manager
	dispatcher dispatch.Dispatcher
	auth       sandbox.AuthProvider
	httpLimits sandbox.HTTPLimits
	logger     zerolog.Logger
	now        func() time.Time
}

// Options are the engine's external collaborators. Models is required; the
// rest default to inert implementations so tests can wire only what they
// exercise.
type Options struct {
	Models     *llm.Registry
	History    *history.Manager
	Dispatcher dispatch.Dispatcher
	Auth       sandbox.AuthProvider
	HTTPLimits *sandbox.HTTPLimits
	Logger     zerolog.Logger
	Now        func() time.Time
}

func New(cfg Config, opts Options) *Engine {
	eng := &Engine{
		cfg:        cfg,
		models:     opts.Models,
		history:    opts.History,
		dispatcher: opts.Dispatcher,
		auth:       opts.Auth,
		httpLimits: sandbox.DefaultHTTPLimits(),
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if eng.models == nil {
		eng.models = llm.NewRegistry()
	}
	if eng.history == nil {
		eng.history = history.NewManager(history.NewMemoryRepository(), nil, opts.Logger)
	}
	if eng.dispatcher == nil {
		eng.dispatcher = dispatch.NewMemoryDispatcher()
	}
	if opts.HTTPLimits != nil {
		eng.httpLimits = *opts.HTTPLimits
	}
	if eng.now == nil {
		eng.now = time.Now
	}
	return eng
}

// Invoke builds the definition into a graph and runtimes, then runs it with
// the given input. Build failures return before anything executes. A hard
// node failure returns a NodeRunError together with the partial result so
// the run log and accumulated outputs stay inspectable.
func (slf *Engine) Invoke(ctx context.Context, def graph.Definition, sess Session, input string) (*Result, error) {
	g, err := graph.Build(def)
	if err != nil {
		return nil, err
	}
	return slf.InvokeGraph(ctx, g, sess, input)
}

// InvokeGraph runs an already-validated graph. Callers that execute the
// same pipeline version repeatedly build once and invoke through this.
func (slf *Engine) InvokeGraph(ctx context.Context, g *graph.Graph, sess Session, input string) (*Result, error) {
	rlog := runlog.NewRun(sess.PipelineVersion, sess.ID)

	deps := &nodes.Deps{
		Models:     slf.models,
		History:    slf.history,
		Sandbox:    sandbox.NewRunner(slf.logger),
		HTTP:       sandbox.NewHTTPClient(slf.httpLimits, slf.auth),
		Dispatcher: slf.dispatcher,
		Logger:     slf.logger,
		Now:        slf.now,
	}

	runtimes := make(map[string]nodes.Runtime, len(g.Nodes()))
	for _, n := range g.Nodes() {
		rt, err := nodes.Build(n, deps)
		if err != nil {
			rlog.Append(runlog.LevelError, err.Error(), nil, nil)
			rlog.Finish(runlog.StatusError)
			return nil, err
		}
		runtimes[n.ID] = rt
	}

	store := state.NewStore(state.Meta{PipelineVersion: sess.PipelineVersion, SessionID: sess.ID})
	store.Apply(&state.Delta{
		Session:     sess.Data,
		Participant: sess.Participant,
		Attachments: sess.Attachments,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		eng:      slf,
		graph:    g,
		runtimes: runtimes,
		store:    store,
		rlog:     rlog,
		ctx:      runCtx,
		cancel:   cancel,
		sem:      make(chan struct{}, slf.cfg.Workers),
		arrivals: make(map[string][]string),
		waiting:  make(map[string]*waitState),
	}

	r.dispatch(task{node: g.StartID, from: nil, inputs: r.arrive(g.StartID, input)})
	r.wg.Wait()

	final := store.State()
	result := &Result{
		State:     final,
		Interrupt: store.Interrupt(),
		Run:       rlog,
	}
	if list, ok := final.Outputs[g.EndID]; ok && len(list) > 0 {
		result.FinalOutput = list[len(list)-1].Content
	} else if len(final.Messages) > 0 {
		result.FinalOutput = final.Messages[len(final.Messages)-1].Content
	}

	if err := r.failure(); err != nil {
		rlog.Finish(runlog.StatusError)
		return result, err
	}
	rlog.Finish(runlog.StatusSuccess)
	return result, nil
}

// task is one pending node firing: the node, the predecessor arrival that
// triggered it, and the snapshot of every input received so far (the
// trigger is last).
type task struct {
	node   string
	from   *string
	inputs []string
}

// waitState tracks a firing deferred by require_node_outputs until the
// named predecessor outputs exist.
type waitState struct {
	names []string
	from  *string
}

type run struct {
	eng      *Engine
	graph    *graph.Graph
	runtimes map[string]nodes.Runtime
	store    *state.Store
	rlog     *runlog.Run
	ctx      context.Context
	cancel   context.CancelFunc
	sem      chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	arrivals map[string][]string
	waiting  map[string]*waitState
	failed   error
}

// arrive records an input for a node and returns the arrival snapshot the
// resulting firing should see.
func (slf *run) arrive(node, input string) []string {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	slf.arrivals[node] = append(slf.arrivals[node], input)
	return append([]string(nil), slf.arrivals[node]...)
}

func (slf *run) fail(err error) {
	slf.mu.Lock()
	if slf.failed == nil {
		slf.failed = err
	}
	slf.mu.Unlock()
	slf.cancel()
}

func (slf *run) failure() error {
	slf.mu.Lock()
	defer slf.mu.Unlock()
	return slf.failed
}

func (slf *run) dispatch(t task) {
	slf.wg.Add(1)
	go func() {
		defer slf.wg.Done()
		select {
		case slf.sem <- struct{}{}:
		case <-slf.ctx.Done():
			return
		}
		defer func() { <-slf.sem }()
		slf.exec(t)
	}()
}

func (slf *run) exec(t task) {
	if slf.ctx.Err() != nil {
		return
	}

	view := state.NewView(slf.store, t.node, t.from, t.inputs)
	delta, err := slf.eng.withRetry(slf.ctx, t.node, func(ctx context.Context) (*state.Delta, error) {
		return slf.runtimes[t.node].Process(ctx, view)
	})
	if err != nil {
		slf.handleSignal(t, err)
		return
	}
	if delta == nil {
		delta = &state.Delta{}
	}
	delta.NodeID = t.node

	now := slf.eng.now()
	if delta.Output != nil {
		if delta.Output.At.IsZero() {
			delta.Output.At = now
		}
		delta.Messages = append(delta.Messages, state.Message{
			NodeID:  t.node,
			Content: delta.Output.Content,
			At:      delta.Output.At,
		})
	}

	next := slf.successors(t.node, delta)
	slf.store.Apply(delta)
	slf.store.AppendPath(state.PathEntry{From: t.from, Node: t.node, Next: next})
	slf.logFiring(t, delta)

	if delta.Output != nil {
		from := t.node
		for _, succ := range next {
			slf.mu.Lock()
			delete(slf.waiting, succ)
			slf.mu.Unlock()
			slf.dispatch(task{node: succ, from: &from, inputs: slf.arrive(succ, delta.Output.Content)})
		}
	}
	slf.recheckWaiting()
}

// successors resolves which outgoing edges are active for this firing. A
// router's selected route prunes edges whose sourceHandle names a different
// route; untagged edges always stay active.
func (slf *run) successors(node string, delta *state.Delta) []string {
	if delta.Output == nil {
		return nil
	}
	route := delta.Output.Route
	var next []string
	for _, e := range slf.graph.Outgoing(node) {
		if route != "" && e.SourceHandle != "" && e.SourceHandle != route {
			continue
		}
		next = append(next, e.Target)
	}
	return next
}

func (slf *run) handleSignal(t task, err error) {
	if abort, ok := interrupt.AsAbort(err); ok {
		slf.store.SetInterrupt(state.Interrupt{Message: abort.Message, Tag: abort.Tag})
		slf.store.AppendPath(state.PathEntry{From: t.from, Node: t.node, Next: nil})
		slf.rlog.Append(runlog.LevelWarn, "node "+t.node+" aborted the run: "+abort.Message, nil, nil)
		slf.eng.logger.Info().
			Str("nodeId", t.node).
			Str("tag", abort.Tag).
			Msg("Run aborted by node")
		return
	}
	if req, ok := interrupt.AsRequireOutputs(err); ok {
		slf.mu.Lock()
		slf.waiting[t.node] = &waitState{names: req.Names, from: t.from}
		slf.mu.Unlock()
		slf.eng.logger.Debug().
			Str("nodeId", t.node).
			Strs("requires", req.Names).
			Msg("Node deferred until required outputs land")
		slf.recheckWaiting()
		return
	}
	if interrupt.IsWait(err) {
		slf.eng.logger.Debug().Str("nodeId", t.node).Msg("Node waiting for next input")
		return
	}
	if slf.ctx.Err() != nil && slf.failure() != nil {
		return
	}

	runErr := &NodeRunError{NodeID: t.node, Err: err}
	slf.rlog.Append(runlog.LevelError, runErr.Error(), nil, nil)
	slf.eng.logger.Error().Err(err).Str("nodeId", t.node).Msg("Node failed, cancelling run")
	slf.fail(runErr)
}

// recheckWaiting refires deferred nodes whose required predecessor outputs
// now all exist. Satisfied entries are removed before dispatch so a firing
// happens exactly once per satisfaction.
func (slf *run) recheckWaiting() {
	slf.mu.Lock()
	type refire struct {
		t task
	}
	var ready []refire
	for node, ws := range slf.waiting {
		if !slf.satisfied(ws.names) {
			continue
		}
		delete(slf.waiting, node)
		ready = append(ready, refire{t: task{
			node:   node,
			from:   ws.from,
			inputs: append([]string(nil), slf.arrivals[node]...),
		}})
	}
	slf.mu.Unlock()

	for _, r := range ready {
		slf.dispatch(r.t)
	}
}

func (slf *run) satisfied(names []string) bool {
	snap := slf.store.SafeSnapshot()
	for _, name := range names {
		if len(snap.Outputs[name]) == 0 {
			return false
		}
	}
	return true
}

func (slf *run) logFiring(t task, delta *state.Delta) {
	var input, output *string
	if len(t.inputs) > 0 {
		input = pkg.ToPtr(t.inputs[len(t.inputs)-1])
	}
	if delta.Output != nil {
		if raw, err := json.Marshal(delta.Output); err == nil {
			output = pkg.ToPtr(string(raw))
		}
	}
	slf.rlog.Append(runlog.LevelInfo, "node "+t.node+" finished", input, output)
}
