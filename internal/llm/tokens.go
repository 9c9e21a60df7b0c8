package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Context window sizes by model prefix. Unknown models get the default.
var contextWindows = map[string]int{
	"gpt-4o":        128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
	"llama3":        8192,
	"qwen3":         32768,
	"mistral":       8192,
}

const defaultContextWindow = 4096

// ContextWindow returns the token window of the given model.
func ContextWindow(model string) int {
	for prefix, window := range contextWindows {
		if strings.HasPrefix(model, prefix) {
			return window
		}
	}
	return defaultContextWindow
}

// Tokenizer counts and splits text with an encoding matched to a model,
// falling back to a generic estimate when the encoding is unknown or its
// vocabulary cannot be loaded.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	tokenizerMu    sync.Mutex
	tokenizerCache = make(map[string]*Tokenizer)
)

// TokenizerFor returns a tokenizer matched to the model. The result is
// cached per model name.
func TokenizerFor(model string) *Tokenizer {
	tokenizerMu.Lock()
	defer tokenizerMu.Unlock()

	if t, ok := tokenizerCache[model]; ok {
		return t
	}

	t := &Tokenizer{}
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		t.enc = enc
	} else if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		t.enc = enc
	}
	tokenizerCache[model] = t
	return t
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	// Generic fallback: about four characters per token.
	n := (len(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Chunk splits text into pieces of at most size tokens with the given token
// overlap between consecutive pieces.
func (t *Tokenizer) Chunk(text string, size, overlap int) []string {
	if size <= 0 || t.Count(text) <= size {
		return []string{text}
	}
	if overlap >= size {
		overlap = size / 2
	}

	if t.enc != nil {
		ids := t.enc.Encode(text, nil, nil)
		var chunks []string
		step := size - overlap
		for start := 0; start < len(ids); start += step {
			end := start + size
			if end > len(ids) {
				end = len(ids)
			}
			chunks = append(chunks, t.enc.Decode(ids[start:end]))
			if end == len(ids) {
				break
			}
		}
		return chunks
	}

	// Fallback: split on runes using the 4-chars-per-token estimate.
	runes := []rune(text)
	charSize := size * 4
	charStep := (size - overlap) * 4
	var chunks []string
	for start := 0; start < len(runes); start += charStep {
		end := start + charSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
