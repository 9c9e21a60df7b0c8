package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, typ NodeType) Node {
	return Node{ID: id, Type: typ}
}

func edge(source, target string) Edge {
	return Edge{ID: source + "-" + target, Source: source, Target: target}
}

// ============ Build Tests ============

func TestBuild_LinearGraph(t *testing.T) {
	g, err := Build(Definition{
		Nodes: []Node{node("s", NodeTypeStart), node("a", NodeTypePassthrough), node("e", NodeTypeEnd)},
		Edges: []Edge{edge("s", "a"), edge("a", "e")},
	})
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, "s", g.StartID)
	assert.Equal(t, "e", g.EndID)
	assert.Len(t, g.Nodes(), 3)
	assert.Equal(t, []string{"s"}, g.Predecessors("a"))
	assert.Len(t, g.Outgoing("a"), 1)
	assert.Len(t, g.Incoming("e"), 1)
}

func TestBuild_EmptyDefinition(t *testing.T) {
	_, err := Build(Definition{})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("a", NodeTypeStart), node("a", NodeTypeEnd)},
	})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestBuild_EmptyNodeID(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("", NodeTypeStart)},
	})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
}

func TestBuild_UnknownNodeType(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("a", NodeType("teleport"))},
	})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestBuild_EdgeToUnknownNode(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("s", NodeTypeStart), node("e", NodeTypeEnd)},
		Edges: []Edge{edge("s", "ghost")},
	})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Contains(t, err.Error(), "unknown target node")
}

func TestBuild_TwoStartNodes(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("s1", NodeTypeStart), node("s2", NodeTypeStart), node("e", NodeTypeEnd)},
		Edges: []Edge{edge("s1", "e"), edge("s2", "e")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 start node, got 2")
}

func TestBuild_TwoEndNodes(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("s", NodeTypeStart), node("e1", NodeTypeEnd), node("e2", NodeTypeEnd)},
		Edges: []Edge{edge("s", "e1"), edge("s", "e2")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1 end node, got 2")
}

func TestBuild_CycleFails(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{
			node("s", NodeTypeStart),
			node("a", NodeTypePassthrough),
			node("b", NodeTypePassthrough),
			node("e", NodeTypeEnd),
		},
		Edges: []Edge{edge("s", "a"), edge("a", "b"), edge("b", "a"), edge("b", "e")},
	})
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestBuild_SelfLoopFails(t *testing.T) {
	_, err := Build(Definition{
		Nodes: []Node{node("s", NodeTypeStart), node("a", NodeTypePassthrough), node("e", NodeTypeEnd)},
		Edges: []Edge{edge("s", "a"), edge("a", "a"), edge("a", "e")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestBuild_FanOutFanIn(t *testing.T) {
	g, err := Build(Definition{
		Nodes: []Node{
			node("s", NodeTypeStart),
			node("a", NodeTypePassthrough),
			node("b", NodeTypePassthrough),
			node("e", NodeTypeEnd),
		},
		Edges: []Edge{edge("s", "a"), edge("s", "b"), edge("a", "e"), edge("b", "e")},
	})
	require.NoError(t, err)

	assert.Len(t, g.Outgoing("s"), 2)
	assert.ElementsMatch(t, []string{"a", "b"}, g.Predecessors("e"))
}

// ============ Params Tests ============

func TestTypedParams_Decode(t *testing.T) {
	type p struct {
		Template string `json:"template"`
	}
	n := Node{ID: "t", Type: NodeTypeTemplate, Params: Params(`{"template":"{{ x }}"}`)}

	decoded, err := TypedParams[p](n)
	require.NoError(t, err)
	assert.Equal(t, "{{ x }}", decoded.Template)
}

func TestTypedParams_NilParams(t *testing.T) {
	type p struct {
		Template string `json:"template"`
	}
	decoded, err := TypedParams[p](Node{ID: "t", Type: NodeTypeTemplate})
	require.NoError(t, err)
	assert.Empty(t, decoded.Template)
}

func TestTypedParams_BadJSON(t *testing.T) {
	type p struct{}
	_, err := TypedParams[p](Node{ID: "t", Params: Params(`{not json`)})
	require.Error(t, err)
}
