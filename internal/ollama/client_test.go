package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest"))
	}))
	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true after server closed")
	}
}

func TestListModels_AndHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write(tagsJSON("llama3.1:latest", "qwen2.5:7b"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.1:latest" {
		t.Errorf("models = %v", models)
	}
	if !c.HasModel(context.Background(), "llama3.1") {
		t.Error("HasModel(llama3.1) = false, want true")
	}
	if !c.HasModel(context.Background(), "qwen2.5:7b") {
		t.Error("HasModel(qwen2.5:7b) = false, want true")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel(mistral) = true, want false")
	}
}

func TestChat_PlainText(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "What is your main goal?"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	temp := 0.2
	result, err := c.Chat(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "hi"},
	}, nil, &Options{Temperature: &temp})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "What is your main goal?" {
		t.Errorf("result = %q", result)
	}
	if got.Stream {
		t.Error("expected non-streaming request")
	}
	if got.Format != nil {
		t.Errorf("format = %v, want omitted", got.Format)
	}
	if got.Options == nil || got.Options.Temperature == nil || *got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestChat_JSONSchema(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"kind":"log"}`},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"kind": {Type: "string", Enum: []string{"tweak", "log"}},
		},
		Required: []string{"kind"},
	}
	result, err := c.Chat(context.Background(), "llama3.1", []Message{{Role: "user", Content: "ran 5k"}}, schema, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != `{"kind":"log"}` {
		t.Errorf("result = %q", result)
	}

	var format Schema
	if err := json.Unmarshal(raw["format"], &format); err != nil {
		t.Fatalf("format not sent as schema: %v", err)
	}
	if len(format.Properties["kind"].Enum) != 2 {
		t.Errorf("enum not forwarded: %+v", format)
	}
}

func TestChat_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Chat(context.Background(), "llama3.1", nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "model is loading" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 1000})
		enc.Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var updates []PullProgress
	if err := c.PullModel(context.Background(), "llama3.1", func(p PullProgress) {
		updates = append(updates, p)
	}); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("received %d progress updates, want 3", len(updates))
	}
	if updates[2].Status != "success" {
		t.Errorf("last status = %q", updates[2].Status)
	}
}
