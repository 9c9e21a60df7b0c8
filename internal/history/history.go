package history

import (
	"fmt"
	"time"
)

// Type selects the scope a node's conversation history lives under.
type Type string

const (
	TypeNone   Type = "none"
	TypeGlobal Type = "global"
	TypeNamed  Type = "named"
	TypeNode   Type = "node"
)

// Scope keys one history entry: session plus (type, name). NODE history is
// implicitly named by the node id; NAMED history is shared across any node
// referencing the same name.
type Scope struct {
	Session string
	Type    Type
	Name    string
}

func NodeScope(session, nodeID string) Scope {
	return Scope{Session: session, Type: TypeNode, Name: nodeID}
}

func NamedScope(session, name string) Scope {
	return Scope{Session: session, Type: TypeNamed, Name: name}
}

func GlobalScope(session string) Scope {
	return Scope{Session: session, Type: TypeGlobal, Name: "global"}
}

func (s Scope) Key() string {
	return fmt.Sprintf("history:%s:%s:%s", s.Session, s.Type, s.Name)
}

// Turn is one (human, ai) exchange. A turn carrying a Summary is a
// compression marker: everything before it has been folded into the summary.
type Turn struct {
	Human        string     `json:"human"`
	AI           string     `json:"ai"`
	Summary      *string    `json:"summary,omitempty"`
	CompressedAt *time.Time `json:"compressedAt,omitempty"`
	At           time.Time  `json:"at"`
}

// Entry is the persisted history under one scope key.
type Entry struct {
	Turns []Turn `json:"turns"`
}

// markerIndex returns the index of the most recent compression marker, or -1.
func (e *Entry) markerIndex() int {
	for i := len(e.Turns) - 1; i >= 0; i-- {
		if e.Turns[i].Summary != nil {
			return i
		}
	}
	return -1
}

// Strategy names a compression strategy applied when retrieving history.
type Strategy string

const (
	StrategyNone             Strategy = ""
	StrategySummarize        Strategy = "summarize"
	StrategyTruncateTokens   Strategy = "truncate_tokens"
	StrategyMaxHistoryLength Strategy = "max_history_length"
)

// Policy configures compression for one retrieval.
type Policy struct {
	Strategy    Strategy
	TokenBudget int
	MaxTurns    int
	Model       string
}
