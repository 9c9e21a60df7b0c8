package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botflow/internal/graph"
	"botflow/internal/llm"
	"botflow/internal/state"
)

func TestLLM_PlainPromptAppendsInput(t *testing.T) {
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"echo","model":"test","prompt":"Node 1:"}`), testDeps(nil))
	require.NoError(t, err)

	delta, err := rt.Process(context.Background(), testView("n1", "Hi"))
	require.NoError(t, err)
	assert.Equal(t, "Node 1: Hi", delta.Output.Content)
}

func TestLLM_EmptyPromptPassesInputThrough(t *testing.T) {
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"echo","model":"test"}`), testDeps(nil))
	require.NoError(t, err)

	delta, err := rt.Process(context.Background(), testView("n1", "just the input"))
	require.NoError(t, err)
	assert.Equal(t, "just the input", delta.Output.Content)
}

func TestLLM_TemplatedPromptRendersVariables(t *testing.T) {
	provider := newStubProvider()
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"stub","model":"m","prompt":"Answer about {{ source }} for: {{ input }}","source":"shipping policy"}`),
		testDeps(provider))
	require.NoError(t, err)

	_, err = rt.Process(context.Background(), testView("n1", "where is my parcel"))
	require.NoError(t, err)

	call := provider.model("m").lastCall()
	require.NotEmpty(t, call)
	assert.Equal(t, "Answer about shipping policy for: where is my parcel", call[len(call)-1].Content)
}

func TestLLM_TemplatedPromptKeepsInputLiteral(t *testing.T) {
	provider := newStubProvider()
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"stub","model":"m","prompt":"Reply to: {{ input }}"}`), testDeps(provider))
	require.NoError(t, err)

	_, err = rt.Process(context.Background(), testView("n1", `Tom & Jerry say "hi" <loudly>`))
	require.NoError(t, err)

	call := provider.model("m").lastCall()
	require.NotEmpty(t, call)
	assert.Equal(t, `Reply to: Tom & Jerry say "hi" <loudly>`, call[len(call)-1].Content)
}

func TestLLM_SystemPromptLeadsMessages(t *testing.T) {
	provider := newStubProvider()
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"stub","model":"m","systemPrompt":"You are terse."}`), testDeps(provider))
	require.NoError(t, err)

	_, err = rt.Process(context.Background(), testView("n1", "Hi"))
	require.NoError(t, err)

	call := provider.model("m").lastCall()
	require.Len(t, call, 2)
	assert.Equal(t, llm.RoleSystem, call[0].Role)
	assert.Equal(t, "You are terse.", call[0].Content)
}

func TestLLM_NodeHistoryInjectedOnSecondRun(t *testing.T) {
	provider := newStubProvider()
	deps := testDeps(provider)
	rt, err := Build(testNode("n1", graph.NodeTypeLLM,
		`{"provider":"stub","model":"m","prompt":"Node 1:","historyType":"node"}`), deps)
	require.NoError(t, err)

	store := state.NewStore(state.Meta{SessionID: "sess-1"})
	_, err = rt.Process(context.Background(), state.NewView(store, "n1", nil, []string{"Hi"}))
	require.NoError(t, err)

	_, err = rt.Process(context.Background(), state.NewView(store, "n1", nil, []string{"More"}))
	require.NoError(t, err)

	call := provider.model("m").lastCall()
	require.Len(t, call, 3, "prior turn plus the new prompt")
	assert.Equal(t, llm.RoleHuman, call[0].Role)
	assert.Equal(t, "Node 1: Hi", call[0].Content)
	assert.Equal(t, llm.RoleAI, call[1].Role)
	assert.Equal(t, "Node 1: More", call[2].Content)
}

func TestLLM_NoHistoryTypeKeepsRunsIsolated(t *testing.T) {
	provider := newStubProvider()
	rt, err := Build(testNode("n2", graph.NodeTypeLLM,
		`{"provider":"stub","model":"m2","prompt":"Node 2:"}`), testDeps(provider))
	require.NoError(t, err)

	_, err = rt.Process(context.Background(), testView("n2", "Hi"))
	require.NoError(t, err)
	_, err = rt.Process(context.Background(), testView("n2", "More"))
	require.NoError(t, err)

	call := provider.model("m2").lastCall()
	require.Len(t, call, 1, "no prior turns without a history type")
	assert.Equal(t, "Node 2: More", call[0].Content)
}

func TestLLM_BuildValidation(t *testing.T) {
	deps := testDeps(nil)

	_, err := Build(testNode("n", graph.NodeTypeLLM, `{"model":"m"}`), deps)
	require.Error(t, err, "provider is required")
	assert.True(t, IsNodeBuildError(err))

	_, err = Build(testNode("n", graph.NodeTypeLLM, `{"provider":"echo","model":"m","temperature":3.5}`), deps)
	require.Error(t, err, "temperature out of bounds")

	_, err = Build(testNode("n", graph.NodeTypeLLM, `{"provider":"echo","model":"m","historyType":"named"}`), deps)
	require.Error(t, err, "named history needs a name")

	_, err = Build(testNode("n", graph.NodeTypeLLM, `{"provider":"ghost","model":"m"}`), deps)
	require.Error(t, err, "unknown provider fails at build time")
}
