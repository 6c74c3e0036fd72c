package engine

import "context"

// Engine abstracts a text-generation backend (Ollama, OpenRouter or Gemini).
// The coach depends on this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When schema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// Name identifies the backend in logs and metrics.
	Name() string
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
