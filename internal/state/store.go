package state

import (
	"sync"
)

// Store serializes all writes to the shared ExecutionState. Branches compute
// deltas concurrently; Apply merges them one at a time.
type Store struct {
	mu    sync.Mutex
	state *ExecutionState
}

func NewStore(meta Meta) *Store {
	return &Store{state: New(meta)}
}

// Apply merges a node delta into the state. Merge rules: messages append,
// a node's first output stays a single record and later outputs append onto
// the list, data maps are shallow key overwrites (last writer wins per key).
func (s *Store) Apply(d *Delta) {
	if d == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Output != nil {
		s.state.Outputs[d.NodeID] = append(s.state.Outputs[d.NodeID], *d.Output)
	}
	s.state.Messages = append(s.state.Messages, d.Messages...)
	for k, v := range d.Temp {
		s.state.Temp[k] = v
	}
	for k, v := range d.Session {
		s.state.Session[k] = v
	}
	for k, v := range d.Participant {
		s.state.Participant[k] = v
	}
	s.state.Attachments = append(s.state.Attachments, d.Attachments...)
}

// AppendPath records one node firing in the execution path log.
func (s *Store) AppendPath(entry PathEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Path = append(s.state.Path, entry)
}

// SetInterrupt records a deliberate abort. The first interrupt wins.
func (s *Store) SetInterrupt(i Interrupt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Interrupt == nil {
		s.state.Interrupt = &i
	}
}

// Interrupt returns the recorded interrupt payload, if any.
func (s *Store) Interrupt() *Interrupt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Interrupt == nil {
		return nil
	}
	cp := *s.state.Interrupt
	return &cp
}

// State returns the underlying execution state. Callers must only use it
// after the run has finished.
func (s *Store) State() *ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SafeSnapshot returns a copy of the state suitable for generic JSON
// serialization paths (logging, persistence). The live interrupt marker is
// replaced by its message/tag payload, which Interrupt already is, so the
// copy simply detaches every mutable container from the run.
func (s *Store) SafeSnapshot() *ExecutionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &ExecutionState{
		Messages:    append([]Message(nil), s.state.Messages...),
		Outputs:     make(map[string]OutputList, len(s.state.Outputs)),
		Temp:        copyMap(s.state.Temp),
		Session:     copyMap(s.state.Session),
		Participant: copyMap(s.state.Participant),
		Attachments: append([]Attachment(nil), s.state.Attachments...),
		Path:        append([]PathEntry(nil), s.state.Path...),
		Meta:        s.state.Meta,
	}
	for id, list := range s.state.Outputs {
		cp.Outputs[id] = append(OutputList(nil), list...)
	}
	if s.state.Interrupt != nil {
		cp.Interrupt = &Interrupt{Message: s.state.Interrupt.Message, Tag: s.state.Interrupt.Tag}
	}
	return cp
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
