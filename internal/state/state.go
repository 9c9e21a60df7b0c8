package state

import (
	"encoding/json"
	"time"
)

// Message is one element of the append-only pipeline output sequence. The
// last message is the current pipeline output.
type Message struct {
	NodeID  string    `json:"nodeId"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Output is a single execution record of a node within one run.
type Output struct {
	Content string    `json:"content"`
	Route   string    `json:"route,omitempty"`
	At      time.Time `json:"at"`
}

// OutputList holds every execution record of one node, in arrival order.
// A node executed once serializes as a single record; a node executed more
// than once is promoted to an ordered list.
type OutputList []Output

func (l OutputList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]Output(l))
}

func (l *OutputList) UnmarshalJSON(data []byte) error {
	var single Output
	if err := json.Unmarshal(data, &single); err == nil {
		*l = OutputList{single}
		return nil
	}
	var many []Output
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// PathEntry records one node firing: which predecessor triggered it and
// which successors it activated.
type PathEntry struct {
	From *string  `json:"from"`
	Node string   `json:"node"`
	Next []string `json:"next"`
}

// Interrupt is the payload of a deliberate abort. It is a normal terminal
// outcome, not an error.
type Interrupt struct {
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty"`
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// Meta identifies the pipeline version and session a run belongs to.
type Meta struct {
	PipelineVersion string `json:"pipelineVersion"`
	SessionID       string `json:"sessionId"`
}

// ExecutionState is the single mutable execution context of one run. It is
// owned exclusively by that run: created fresh per invocation and discarded
// after the caller flushes session/participant data.
type ExecutionState struct {
	Messages    []Message             `json:"messages"`
	Outputs     map[string]OutputList `json:"outputs"`
	Temp        map[string]any        `json:"temp"`
	Session     map[string]any        `json:"session"`
	Participant map[string]any        `json:"participant"`
	Attachments []Attachment          `json:"attachments,omitempty"`
	Path        []PathEntry           `json:"path"`
	Interrupt   *Interrupt            `json:"interrupt,omitempty"`
	Meta        Meta                  `json:"meta"`
}

// New creates an empty execution state for one run.
func New(meta Meta) *ExecutionState {
	return &ExecutionState{
		Outputs:     make(map[string]OutputList),
		Temp:        make(map[string]any),
		Session:     make(map[string]any),
		Participant: make(map[string]any),
		Meta:        meta,
	}
}

// Delta is the set of updates a single node firing produced against a read
// snapshot. Branches never mutate the state directly; the engine merges
// deltas under a single writer.
type Delta struct {
	NodeID      string
	Output      *Output
	Messages    []Message
	Temp        map[string]any
	Session     map[string]any
	Participant map[string]any
	Attachments []Attachment
}
