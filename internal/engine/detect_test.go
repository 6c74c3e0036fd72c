package engine

import (
	"context"
	"testing"
)

func TestDetect_DefaultsToOllama(t *testing.T) {
	e, err := Detect(context.Background(), DetectConfig{OllamaBaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_OpenRouter(t *testing.T) {
	e, err := Detect(context.Background(), DetectConfig{Backend: "OpenRouter", OpenRouterAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if e.Name() != BackendOpenRouter {
		t.Errorf("Name() = %q", e.Name())
	}
}

func TestDetect_MissingCredentials(t *testing.T) {
	cases := []DetectConfig{
		{Backend: BackendOpenRouter},
		{Backend: BackendGemini},
		{Backend: BackendOllama},
		{Backend: "mlx", OllamaBaseURL: "http://localhost:11434"},
	}
	for _, cfg := range cases {
		if _, err := Detect(context.Background(), cfg); err == nil {
			t.Errorf("Detect(%+v) succeeded, want error", cfg)
		}
	}
}
