package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiEngine generates text with Google's Gemini API.
type GeminiEngine struct {
	client      *genai.Client
	temperature float32
}

// NewGeminiEngine creates a Gemini-backed engine.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	return newGeminiEngine(ctx, apiKey, "")
}

// newGeminiEngine points the client at baseURL when set.
func newGeminiEngine(ctx context.Context, apiKey, baseURL string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, temperature: float32(defaultTemperature)}, nil
}

func (e *GeminiEngine) Name() string { return BackendGemini }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(e.temperature)}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		// Nested object properties carry no sub-schema, which the Gemini
		// schema dialect rejects, so the shape travels in the instruction.
		raw, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		system = append(system, "Respond with JSON matching this schema:\n"+string(raw))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", classify(geminiError{fmt.Errorf("gemini generate: %w", err)})
	}
	return resp.Text(), nil
}

// geminiError marks rate limits and server-side API failures as retryable.
type geminiError struct{ error }

func (e geminiError) Unwrap() error { return e.error }

func (e geminiError) Retryable() bool {
	code := 0
	var v genai.APIError
	var p *genai.APIError
	switch {
	case errors.As(e.error, &v):
		code = v.Code
	case errors.As(e.error, &p):
		code = p.Code
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsRunning reports whether the model listing endpoint answers.
func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	return err == nil
}
