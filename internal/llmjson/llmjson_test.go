package llmjson

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
	}{
		{"plain", `{"value": "3"}`, "value"},
		{"fenced", "```json\n{\"value\": \"3\"}\n```", "value"},
		{"fenced with prose after", "```json\n{\"split\": {}}\n```\n\nLet me know if you want changes!", "split"},
		{"prose before", "Sure! Here it is: {\"field\": \"sleep_hours\", \"text\": \"How much do you sleep?\"}", "field"},
		{"think block", "<think>the user wants {not this}</think>\n{\"kind\": \"log\"}", "kind"},
		{"comments and trailing commas", "{\n  \"days\": [\n    \"Day 1\", // push\n    \"Day 2\", // pull\n  ],\n}", "days"},
		{"url inside string kept", `{"source": "https://example.com/a"}`, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)
			var m map[string]any
			if err := json.Unmarshal([]byte(got), &m); err != nil {
				t.Fatalf("Extract produced invalid JSON %q: %v", got, err)
			}
			if _, ok := m[tt.wantKey]; !ok {
				t.Errorf("key %q missing from %v", tt.wantKey, m)
			}
		})
	}
}

func TestExtract_URLPreserved(t *testing.T) {
	got := Extract(`{"source": "https://example.com/a"} // note`)
	var m map[string]string
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["source"] != "https://example.com/a" {
		t.Errorf("source = %q", m["source"])
	}
}

func TestExtract_None(t *testing.T) {
	for _, in := range []string{"", "no json here", "[1, 2, 3]"} {
		if got := Extract(in); got != "" {
			t.Errorf("Extract(%q) = %q, want empty", in, got)
		}
	}
}

func TestDecode(t *testing.T) {
	var v struct {
		Value string `json:"value"`
	}
	if err := Decode("```\n{\"value\": \"intermediate\"}\n```", &v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Value != "intermediate" {
		t.Errorf("Value = %q", v.Value)
	}

	if err := Decode("nothing", &v); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
	if err := Decode(`{"value": }`, &v); err == nil || errors.Is(err, ErrNoJSON) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("  short  ", 10); got != "short" {
		t.Errorf("Snippet = %q", got)
	}
	if got := Snippet("abcdefghij", 4); got != "abcd..." {
		t.Errorf("Snippet = %q", got)
	}
}
