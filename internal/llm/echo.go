package llm

import "context"

// EchoProvider returns models that echo the last message back. It backs
// tests and local development where no LLM server is available.
type EchoProvider struct{}

func (EchoProvider) ChatModel(modelID string, temperature float64) (ChatModel, error) {
	return EchoModel{}, nil
}

// EchoModel replies with the content of the last message it was given.
type EchoModel struct{}

func (EchoModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	return messages[len(messages)-1].Content, nil
}
