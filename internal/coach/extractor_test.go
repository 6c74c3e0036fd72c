package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/profile"
)

// fakeLLM routes each call by the requested schema name.
type fakeLLM struct {
	mu      sync.Mutex
	handler func(schema string, messages []engine.Message) (string, error)
	calls   []string
}

func (f *fakeLLM) Chat(_ context.Context, _ string, messages []engine.Message, schema *engine.Schema) (string, error) {
	name := ""
	if schema != nil {
		name = schema.Name
	}
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.handler == nil {
		return "", errors.New("unexpected call")
	}
	return f.handler(name, messages)
}

func (f *fakeLLM) count(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == schema {
			n++
		}
	}
	return n
}

func lastUser(messages []engine.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == engine.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func TestExtract_LocalHeuristics(t *testing.T) {
	llm := &fakeLLM{}
	x := NewFieldExtractor(llm, "m")

	cases := []struct {
		field, message, want string
	}{
		{profile.FieldExperienceYears, "I've been lifting for 3.5 years", "3.5"},
		{profile.FieldTrainingDaysPerWeek, "4 days a week", "4"},
		{profile.FieldSessionLengthMin, "about 45 minutes", "45"},
		{profile.FieldSessionLengthMin, "1.5 hours", "90"},
		{profile.FieldKnowledgeLevel, "I'm pretty much a Beginner", "beginner"},
	}
	for _, tc := range cases {
		got, ok, err := x.Extract(context.Background(), tc.field, tc.message)
		if err != nil || !ok || got != tc.want {
			t.Errorf("Extract(%s, %q) = %q, %v, %v; want %q", tc.field, tc.message, got, ok, err, tc.want)
		}
	}
	if len(llm.calls) != 0 {
		t.Errorf("heuristics should not call the model, got %v", llm.calls)
	}
}

func TestExtract_UsesModel(t *testing.T) {
	llm := &fakeLLM{handler: func(_ string, msgs []engine.Message) (string, error) {
		if !strings.Contains(msgs[0].Content, profile.FieldInitialGoal) {
			t.Errorf("prompt does not name the field: %q", msgs[0].Content)
		}
		return "```json\n{\"value\": \"build muscle\"}\n```", nil
	}}
	got, ok, err := NewFieldExtractor(llm, "m").Extract(context.Background(), profile.FieldInitialGoal, "I want to build muscle")
	if err != nil || !ok || got != "build muscle" {
		t.Errorf("got %q, %v, %v", got, ok, err)
	}
}

func TestExtract_NoValue(t *testing.T) {
	for _, resp := range []string{`{"value": ""}`, `{"value": "unknown"}`, `{"value": null}`, `{"value": "x",}}}`, ""} {
		llm := &fakeLLM{handler: func(string, []engine.Message) (string, error) { return resp, nil }}
		got, ok, err := NewFieldExtractor(llm, "m").Extract(context.Background(), profile.FieldEquipmentAccess, "hmm, let me think")
		if err != nil || ok {
			t.Errorf("response %q: got %q, %v, %v; want no value", resp, got, ok, err)
		}
	}
}

func TestExtract_BareValue(t *testing.T) {
	llm := &fakeLLM{handler: func(string, []engine.Message) (string, error) { return `"home gym"`, nil }}
	got, ok, err := NewFieldExtractor(llm, "m").Extract(context.Background(), profile.FieldEquipmentAccess, "I train in my garage")
	if err != nil || !ok || got != "home gym" {
		t.Errorf("got %q, %v, %v", got, ok, err)
	}
}

func TestExtract_CallFailureIsError(t *testing.T) {
	cause := engine.NewTransientError(errors.New("timeout"))
	llm := &fakeLLM{handler: func(string, []engine.Message) (string, error) { return "", cause }}
	_, ok, err := NewFieldExtractor(llm, "m").Extract(context.Background(), profile.FieldInitialGoal, "get lean")
	if ok || !engine.IsTransient(err) {
		t.Errorf("got ok=%v err=%v, want transient error", ok, err)
	}
}

func TestExtract_EmptyMessage(t *testing.T) {
	llm := &fakeLLM{}
	if _, ok, err := NewFieldExtractor(llm, "m").Extract(context.Background(), profile.FieldInitialGoal, "   "); ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
	if len(llm.calls) != 0 {
		t.Error("empty message should not reach the model")
	}
}
