package graph

import (
	"sort"
)

// Graph is the validated, immutable form of a Definition. It always has
// exactly one start node (no incoming edges), exactly one end node (no
// outgoing edges) and no cycles.
type Graph struct {
	nodes map[string]Node
	out   map[string][]Edge
	in    map[string][]Edge

	StartID string
	EndID   string
}

// Build validates a node/edge definition into a Graph.
func Build(def Definition) (*Graph, error) {
	if len(def.Nodes) == 0 {
		return nil, buildErrorf("definition has no nodes")
	}

	nodes := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			return nil, buildErrorf("node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, buildErrorf("duplicate node id %q", n.ID)
		}
		if !knownTypes[n.Type] {
			return nil, buildErrorf("unknown node type %q on node %q", n.Type, n.ID)
		}
		nodes[n.ID] = n
	}

	out := make(map[string][]Edge)
	in := make(map[string][]Edge)
	for _, e := range def.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, buildErrorf("edge %q references unknown source node %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, buildErrorf("edge %q references unknown target node %q", e.ID, e.Target)
		}
		out[e.Source] = append(out[e.Source], e)
		in[e.Target] = append(in[e.Target], e)
	}

	starts := make([]string, 0, 1)
	ends := make([]string, 0, 1)
	for id := range nodes {
		if len(in[id]) == 0 {
			starts = append(starts, id)
		}
		if len(out[id]) == 0 {
			ends = append(ends, id)
		}
	}
	sort.Strings(starts)
	sort.Strings(ends)

	if len(starts) != 1 {
		return nil, buildErrorf("expected 1 start node, got %d", len(starts))
	}
	if len(ends) != 1 {
		return nil, buildErrorf("expected 1 end node, got %d", len(ends))
	}

	g := &Graph{
		nodes:   nodes,
		out:     out,
		in:      in,
		StartID: starts[0],
		EndID:   ends[0],
	}

	if cycle := g.findCycle(); cycle != "" {
		return nil, buildErrorf("cycle detected through node %q", cycle)
	}

	return g, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in the graph, ordered by id.
func (g *Graph) Nodes() []Node {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// Outgoing returns the edges leaving the given node.
func (g *Graph) Outgoing(id string) []Edge {
	return g.out[id]
}

// Incoming returns the edges arriving at the given node.
func (g *Graph) Incoming(id string) []Edge {
	return g.in[id]
}

// Predecessors returns the ids of nodes with an edge into the given node.
func (g *Graph) Predecessors(id string) []string {
	edges := g.in[id]
	preds := make([]string, 0, len(edges))
	for _, e := range edges {
		preds = append(preds, e.Source)
	}
	return preds
}

const (
	unvisited = iota
	visiting
	visited
)

// findCycle runs a DFS with visiting/visited marks and returns the id of a
// node on a back edge, or "" when the graph is acyclic.
func (g *Graph) findCycle() string {
	marks := make(map[string]int, len(g.nodes))

	var visit func(id string) string
	visit = func(id string) string {
		switch marks[id] {
		case visiting:
			return id
		case visited:
			return ""
		}
		marks[id] = visiting
		for _, e := range g.out[id] {
			if hit := visit(e.Target); hit != "" {
				return hit
			}
		}
		marks[id] = visited
		return ""
	}

	for id := range g.nodes {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}
