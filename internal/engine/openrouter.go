package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/empyre-fit/empyre/internal/proxy"
)

// OpenRouterEngine generates text through OpenRouter's chat completions API.
type OpenRouterEngine struct {
	client      *proxy.Client
	temperature *float64
}

// NewOpenRouterEngine creates an engine authenticated with apiKey.
func NewOpenRouterEngine(apiKey string) *OpenRouterEngine {
	return newOpenRouterEngine(proxy.NewClient(apiKey))
}

// NewOpenRouterEngineWithBaseURL targets a custom endpoint (for testing).
func NewOpenRouterEngineWithBaseURL(apiKey, baseURL string) *OpenRouterEngine {
	return newOpenRouterEngine(proxy.NewClientWithBaseURL(apiKey, baseURL))
}

func newOpenRouterEngine(c *proxy.Client) *OpenRouterEngine {
	t := defaultTemperature
	return &OpenRouterEngine{client: c, temperature: &t}
}

func (e *OpenRouterEngine) Name() string { return BackendOpenRouter }

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := proxy.CompletionRequest{
		Model:       model,
		Messages:    make([]proxy.Message, len(messages)),
		Temperature: e.temperature,
	}
	for i, m := range messages {
		req.Messages[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	if schema != nil {
		raw, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		name := schema.Name
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &proxy.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &proxy.JSONSchema{Name: name, Schema: raw},
		}
	}

	out, err := e.client.Complete(ctx, req)
	return out, classify(err)
}

// IsRunning reports whether the API answers a model listing.
func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}
