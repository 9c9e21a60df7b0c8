package state

// View is the read-only accessor a node sees during its firing. It is bound
// to the firing node and carries the inputs that arrived on its incoming
// edges.
type View struct {
	store  *Store
	nodeID string
	from   *string
	inputs []string
}

// NewView binds a read accessor to a node firing. inputs holds every input
// that has arrived for the node so far this run, in arrival order; the last
// one is the arrival that triggered this firing.
func NewView(store *Store, nodeID string, from *string, inputs []string) *View {
	return &View{store: store, nodeID: nodeID, from: from, inputs: inputs}
}

// NodeID returns the id of the node this view is bound to.
func (v *View) NodeID() string { return v.nodeID }

// From returns the id of the predecessor that triggered this firing, or nil
// for the start node.
func (v *View) From() *string { return v.from }

// Input returns the node's primary input: the payload of the arrival that
// triggered this firing.
func (v *View) Input() string {
	if len(v.inputs) == 0 {
		return ""
	}
	return v.inputs[len(v.inputs)-1]
}

// Inputs returns every input that has arrived for the node this run, in
// arrival order.
func (v *View) Inputs() []string {
	return append([]string(nil), v.inputs...)
}

// NodeOutput returns the most recent output of the named node.
func (v *View) NodeOutput(name string) (string, bool) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	list := v.store.state.Outputs[name]
	if len(list) == 0 {
		return "", false
	}
	return list[len(list)-1].Content, true
}

// HasNodeOutput reports whether the named node has produced output this run.
func (v *View) HasNodeOutput(name string) bool {
	_, ok := v.NodeOutput(name)
	return ok
}

// SelectedRoute returns the route key the named router node selected, or ""
// when the node has not fired or selected nothing.
func (v *View) SelectedRoute(name string) string {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	list := v.store.state.Outputs[name]
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1].Route
}

// NodePath reconstructs the causal ancestry of the named node by walking the
// execution path log backward from its most recent firing to the start node.
// The result is ordered start-first.
func (v *View) NodePath(name string) []string {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	path := v.store.state.Path
	// Latest firing of the named node.
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Node == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	chain := []string{path[idx].Node}
	from := path[idx].From
	for i := idx - 1; i >= 0 && from != nil; i-- {
		if path[i].Node != *from {
			continue
		}
		chain = append(chain, path[i].Node)
		from = path[i].From
	}

	// Reverse to start-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Temp returns a copy of the run-scoped scratch data.
func (v *View) Temp() map[string]any {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return copyMap(v.store.state.Temp)
}

// Session returns a copy of the session-scoped data.
func (v *View) Session() map[string]any {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return copyMap(v.store.state.Session)
}

// Participant returns a copy of the participant-scoped data.
func (v *View) Participant() map[string]any {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return copyMap(v.store.state.Participant)
}

// Attachments returns the attachments carried on the state.
func (v *View) Attachments() []Attachment {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return append([]Attachment(nil), v.store.state.Attachments...)
}

// Meta returns the run metadata.
func (v *View) Meta() Meta {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.store.state.Meta
}
