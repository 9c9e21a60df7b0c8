package sandbox

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScript(t *testing.T, src string, env *Env) (*Outcome, error) {
	t.Helper()
	if env == nil {
		env = &Env{}
	}
	return NewRunner(zerolog.Nop()).Run(context.Background(), "test-node", src, env)
}

// ============ Script Outcome Tests ============

func TestRun_ResultGlobal(t *testing.T) {
	out, err := runScript(t, `result = "computed"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "computed", out.Result)
}

func TestRun_NoResultPassesInputThrough(t *testing.T) {
	out, err := runScript(t, `x = 1 + 1`, &Env{Input: "original"})
	require.NoError(t, err)
	assert.Equal(t, "original", out.Result)
}

func TestRun_InputAndInputsBuiltins(t *testing.T) {
	out, err := runScript(t, `result = input() + "/" + "|".join(inputs())`,
		&Env{Input: "b", Inputs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "b/a|b", out.Result)
}

func TestRun_GetAndHasNodeOutput(t *testing.T) {
	env := &Env{GetOutput: func(name string) (string, bool) {
		if name == "upstream" {
			return "payload", true
		}
		return "", false
	}}

	out, err := runScript(t, `
if has_node_output("upstream"):
    result = get_node_output("upstream")
else:
    result = "missing"
`, env)
	require.NoError(t, err)
	assert.Equal(t, "payload", out.Result)

	out, err = runScript(t, `result = "yes" if get_node_output("ghost") == None else "no"`, env)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.Result)
}

// ============ Signal Tests ============

func TestRun_AbortSignal(t *testing.T) {
	out, err := runScript(t, `abort("stop here", tag="guard")`, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Abort)
	assert.Equal(t, "stop here", out.Abort.Message)
	assert.Equal(t, "guard", out.Abort.Tag)
}

func TestRun_AbortStopsScript(t *testing.T) {
	calls := 0
	env := &Env{GetOutput: func(string) (string, bool) {
		calls++
		return "", false
	}}
	out, err := runScript(t, `
abort("early")
get_node_output("never")
`, env)
	require.NoError(t, err)
	require.NotNil(t, out.Abort)
	assert.Zero(t, calls, "statements after abort must not run")
}

func TestRun_RequireSignalsOnlyWhenMissing(t *testing.T) {
	env := &Env{GetOutput: func(name string) (string, bool) {
		return "ok", name == "present"
	}}

	out, err := runScript(t, `require_node_outputs(["present", "absent"])`, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"present", "absent"}, out.Require)

	out, err = runScript(t, `
require_node_outputs(["present"])
result = "ran"
`, env)
	require.NoError(t, err)
	assert.Empty(t, out.Require)
	assert.Equal(t, "ran", out.Result)
}

func TestRun_WaitSignal(t *testing.T) {
	out, err := runScript(t, `wait_for_next_input()`, nil)
	require.NoError(t, err)
	assert.True(t, out.Wait)
}

// ============ Restriction Tests ============

func TestRun_LoadDenied(t *testing.T) {
	_, err := runScript(t, `load("json.star", "json")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestRun_SyntaxErrorSurfaces(t *testing.T) {
	_, err := runScript(t, `def broken(`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code node failed")
}

func TestRun_UndefinedNameSurfaces(t *testing.T) {
	_, err := runScript(t, `result = os.getenv("HOME")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code node failed")
}

func TestRun_HTTPUnavailableWithoutClient(t *testing.T) {
	_, err := runScript(t, `http_request("GET", "http://example.com")`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestRun_CancelledContextStopsScript(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(zerolog.Nop()).Run(ctx, "n", `
x = 0
for i in range(1000000):
    x += i
result = str(x)
`, &Env{})
	require.Error(t, err)
}
