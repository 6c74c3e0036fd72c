package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type geminiRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func newGeminiServer(t *testing.T, status int, reply string) (*httptest.Server, *geminiRecorder) {
	t.Helper()
	rec := &geminiRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(data, &body)
		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	})
	return string(b)
}

func TestGeminiEngine_ChatWithSchema(t *testing.T) {
	srv, rec := newGeminiServer(t, http.StatusOK, geminiReply(`{"value":"4"}`))
	e, err := newGeminiEngine(context.Background(), "g-test", srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	schema := &Schema{Type: "object", Properties: map[string]SchemaProperty{"value": {Type: "string"}}, Required: []string{"value"}}
	got, err := e.Chat(context.Background(), "gemini-2.0-flash", []Message{
		System("Extract the answer."),
		User("four days a week"),
	}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"value":"4"}` {
		t.Errorf("Chat = %q", got)
	}

	if len(rec.bodies) != 1 {
		t.Fatalf("requests = %d, want 1", len(rec.bodies))
	}
	raw, _ := json.Marshal(rec.bodies[0])
	body := string(raw)
	for _, want := range []string{"Extract the answer.", "Respond with JSON matching this schema", "application/json", "four days a week"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %q: %s", want, body)
		}
	}
}

func TestGeminiEngine_ErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		srv, _ := newGeminiServer(t, tc.status, fmt.Sprintf(`{"error":{"code":%d,"message":"nope","status":"X"}}`, tc.status))
		e, err := newGeminiEngine(context.Background(), "g-test", srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		_, err = e.Chat(context.Background(), "gemini-2.0-flash", []Message{User("hi")}, nil)
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if IsTransient(err) != tc.transient {
			t.Errorf("status %d: IsTransient = %v, want %v (%v)", tc.status, IsTransient(err), tc.transient, err)
		}
	}
}

func TestNewGeminiEngine_RequiresKey(t *testing.T) {
	if _, err := NewGeminiEngine(context.Background(), ""); err == nil {
		t.Error("empty API key accepted")
	}
}
