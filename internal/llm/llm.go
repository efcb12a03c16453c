package llm

import "context"

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for LLM providers.
type Client interface {
	// Complete returns the model's reply to the conversation.
	Complete(ctx context.Context, messages []Message) (string, error)
}
