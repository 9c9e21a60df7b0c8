package nodes

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"botflow/internal/dispatch"
	"botflow/internal/graph"
	"botflow/internal/history"
	"botflow/internal/llm"
	"botflow/internal/sandbox"
	"botflow/internal/state"
)

// recordingModel replies with a fixed response (or echoes the last message
// when Response is empty) and keeps every message set it was invoked with.
type recordingModel struct {
	Response string
	Err      error

	mu    sync.Mutex
	Calls [][]llm.Message
}

func (m *recordingModel) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]llm.Message(nil), messages...))
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	if len(messages) == 0 {
		return "", nil
	}
	return messages[len(messages)-1].Content, nil
}

func (m *recordingModel) lastCall() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}

// stubProvider hands out one shared model per model id.
type stubProvider struct {
	mu     sync.Mutex
	models map[string]*recordingModel
}

func newStubProvider() *stubProvider {
	return &stubProvider{models: make(map[string]*recordingModel)}
}

func (p *stubProvider) ChatModel(modelID string, temperature float64) (llm.ChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[modelID]
	if !ok {
		m = &recordingModel{}
		p.models[modelID] = m
	}
	return m, nil
}

func (p *stubProvider) model(modelID string) *recordingModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[modelID]
	if !ok {
		m = &recordingModel{}
		p.models[modelID] = m
	}
	return m
}

func testDeps(provider llm.Provider) *Deps {
	models := llm.NewRegistry()
	if provider != nil {
		models.Register("stub", provider)
	}
	models.Register("echo", llm.EchoProvider{})

	return &Deps{
		Models:     models,
		History:    history.NewManager(history.NewMemoryRepository(), nil, zerolog.Nop()),
		Sandbox:    sandbox.NewRunner(zerolog.Nop()),
		HTTP:       sandbox.NewHTTPClient(sandbox.DefaultHTTPLimits(), nil),
		Dispatcher: dispatch.NewMemoryDispatcher(),
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func testNode(id string, typ graph.NodeType, params string) graph.Node {
	n := graph.Node{ID: id, Type: typ}
	if params != "" {
		n.Params = graph.Params(params)
	}
	return n
}

// testView binds a view to a fresh store seeded with the given inputs.
func testView(nodeID string, inputs ...string) *state.View {
	store := state.NewStore(state.Meta{PipelineVersion: "v1", SessionID: "sess-1"})
	return state.NewView(store, nodeID, nil, inputs)
}
