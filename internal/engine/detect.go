package engine

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Detect.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
	BackendGemini     = "gemini"
)

const defaultTemperature = 0.2

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend          string
	OllamaBaseURL    string
	OpenRouterAPIKey string
	GeminiAPIKey     string
}

// Detect builds the configured backend. Hosted backends fail fast when
// their credential is missing.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendOllama:
		if cfg.OllamaBaseURL == "" {
			return nil, fmt.Errorf("ollama backend requires a base URL")
		}
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case BackendOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter backend requires an API key (EMPYRE_OPENROUTER_API_KEY)")
		}
		return NewOpenRouterEngine(cfg.OpenRouterAPIKey), nil
	case BackendGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini backend requires an API key (EMPYRE_GEMINI_API_KEY)")
		}
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
