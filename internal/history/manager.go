package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"botflow/internal/llm"
	"botflow/pkg"
)

const summarizePrompt = "Summarize the following conversation in a short paragraph, keeping every fact a future reply could depend on:\n\n%s"

// Manager retrieves, compresses and persists per-node conversation history.
// GLOBAL history is retrieved here but persisted by the session layer, never
// by the engine.
type Manager struct {
	repo       Repository
	summarizer llm.ChatModel
	logger     zerolog.Logger
}

func NewManager(repo Repository, summarizer llm.ChatModel, logger zerolog.Logger) *Manager {
	return &Manager{repo: repo, summarizer: summarizer, logger: logger}
}

// Context returns the history under scope as chat messages in chronological
// order, compressed according to policy. A summary marker, when present,
// replaces everything recorded before it.
func (slf *Manager) Context(ctx context.Context, scope Scope, policy Policy) ([]llm.Message, error) {
	if scope.Type == TypeNone {
		return nil, nil
	}

	entry, err := slf.repo.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", scope.Key(), err)
	}

	entry, err = slf.compress(ctx, scope, entry, policy)
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	marker := entry.markerIndex()
	if marker >= 0 {
		messages = append(messages, llm.SystemMessage("Conversation so far: "+*entry.Turns[marker].Summary))
	}
	for _, turn := range entry.Turns[marker+1:] {
		messages = append(messages, llm.HumanMessage(turn.Human), llm.AIMessage(turn.AI))
	}
	return messages, nil
}

// Append persists a new (human, ai) turn under the scope key. NONE and
// GLOBAL scopes are never written here.
func (slf *Manager) Append(ctx context.Context, scope Scope, human, ai string) error {
	if scope.Type == TypeNone || scope.Type == TypeGlobal {
		return nil
	}

	entry, err := slf.repo.Load(ctx, scope)
	if err != nil {
		return fmt.Errorf("load history %s: %w", scope.Key(), err)
	}

	entry.Turns = append(entry.Turns, Turn{Human: human, AI: ai, At: time.Now()})
	if err := slf.repo.Save(ctx, scope, entry); err != nil {
		return fmt.Errorf("save history %s: %w", scope.Key(), err)
	}
	return nil
}

func (slf *Manager) compress(ctx context.Context, scope Scope, entry *Entry, policy Policy) (*Entry, error) {
	switch policy.Strategy {
	case StrategyMaxHistoryLength:
		if policy.MaxTurns > 0 && len(entry.Turns) > policy.MaxTurns {
			entry.Turns = entry.Turns[len(entry.Turns)-policy.MaxTurns:]
			if err := slf.repo.Save(ctx, scope, entry); err != nil {
				return nil, fmt.Errorf("save capped history %s: %w", scope.Key(), err)
			}
		}
		return entry, nil

	case StrategyTruncateTokens:
		if policy.TokenBudget <= 0 {
			return entry, nil
		}
		tok := llm.TokenizerFor(policy.Model)
		for len(entry.Turns) > 1 && slf.entryTokens(tok, entry) > policy.TokenBudget {
			entry.Turns = entry.Turns[1:]
		}
		return entry, nil

	case StrategySummarize:
		if policy.TokenBudget <= 0 || slf.summarizer == nil {
			return entry, nil
		}
		tok := llm.TokenizerFor(policy.Model)
		if slf.entryTokens(tok, entry) <= policy.TokenBudget {
			return entry, nil
		}
		return slf.summarize(ctx, scope, entry)

	default:
		return entry, nil
	}
}

// summarize folds every turn before the newest one into a generated summary,
// stored as a marker turn ahead of it. The newest exchange stays retrievable
// as a regular turn; only what precedes it is compressed away.
func (slf *Manager) summarize(ctx context.Context, scope Scope, entry *Entry) (*Entry, error) {
	if len(entry.Turns) < 2 {
		return entry, nil
	}

	marker := entry.markerIndex()
	last := len(entry.Turns) - 1
	if marker+1 >= last {
		// Nothing between the previous summary and the newest turn to fold.
		return entry, nil
	}

	var transcript strings.Builder
	if marker >= 0 {
		transcript.WriteString("Earlier summary: " + *entry.Turns[marker].Summary + "\n")
	}
	for _, turn := range entry.Turns[marker+1 : last] {
		transcript.WriteString("Human: " + turn.Human + "\n")
		transcript.WriteString("AI: " + turn.AI + "\n")
	}

	summary, err := slf.summarizer.Invoke(ctx, []llm.Message{
		llm.HumanMessage(fmt.Sprintf(summarizePrompt, transcript.String())),
	})
	if err != nil {
		// Retrieval should not fail the run over a summarizer hiccup; fall
		// back to the uncompressed entry.
		slf.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("History summarization failed")
		return entry, nil
	}

	now := time.Now()
	compressed := Turn{Summary: pkg.ToPtr(summary), CompressedAt: pkg.ToPtr(now), At: now}
	entry.Turns = []Turn{compressed, entry.Turns[last]}

	if err := slf.repo.Save(ctx, scope, entry); err != nil {
		return nil, fmt.Errorf("save summarized history %s: %w", scope.Key(), err)
	}
	return entry, nil
}

func (slf *Manager) entryTokens(tok *llm.Tokenizer, entry *Entry) int {
	total := 0
	marker := entry.markerIndex()
	if marker >= 0 {
		total += tok.Count(*entry.Turns[marker].Summary)
	}
	for _, turn := range entry.Turns[marker+1:] {
		total += tok.Count(turn.Human) + tok.Count(turn.AI)
	}
	return total
}
