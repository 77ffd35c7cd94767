package domain

import "context"

// LLMProvider is the narrow contract of the reasoning engine.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "groq").
	Name() string
}
