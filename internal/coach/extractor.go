package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/llmjson"
	"github.com/empyre-fit/empyre/internal/profile"
)

// Chatter is the text-generation capability the coach depends on.
// Implemented by every engine.Engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// FieldExtractor turns a free-text answer into a value for a named field.
type FieldExtractor struct {
	llm   Chatter
	model string
}

// NewFieldExtractor creates a FieldExtractor using the given model.
func NewFieldExtractor(llm Chatter, model string) *FieldExtractor {
	return &FieldExtractor{llm: llm, model: model}
}

var (
	digitsPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	hoursPattern  = regexp.MustCompile(`(?i)\bh(?:ou)?rs?\b`)
)

// emptyValues are model answers meaning "the message did not say".
var emptyValues = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"null":    true,
}

var knowledgeLevels = []string{"beginner", "novice", "intermediate", "advanced", "expert"}

// Extract returns the value message gives for field. ok is false when the
// message does not answer it; the caller re-asks later. Unparseable model
// output counts as no answer. Only a failed generation call returns an
// error.
func (x *FieldExtractor) Extract(ctx context.Context, field, message string) (value string, ok bool, err error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", false, nil
	}
	if v, ok := localAnswer(field, message); ok {
		return v, true, nil
	}

	raw, err := x.llm.Chat(ctx, x.model, extractMessages(field, message), extractSchema)
	if err != nil {
		return "", false, fmt.Errorf("extracting %s: %w", field, err)
	}

	var out struct {
		Value any `json:"value"`
	}
	if err := llmjson.Decode(raw, &out); err != nil {
		// Some models answer with the bare value despite the schema.
		if errors.Is(err, llmjson.ErrNoJSON) {
			return normalizeValue(strings.Trim(strings.TrimSpace(raw), `"`))
		}
		slog.Warn("unparseable extraction output", "field", field, "error", err, "response", llmjson.Snippet(raw, 120))
		return "", false, nil
	}
	switch v := out.Value.(type) {
	case string:
		return normalizeValue(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		return "", false, nil
	}
}

func normalizeValue(v string) (string, bool, error) {
	v = strings.TrimSpace(v)
	if emptyValues[strings.ToLower(v)] {
		return "", false, nil
	}
	return v, true, nil
}

// localAnswer resolves answers that need no model: numeric core fields
// written with digits and knowledge levels named outright.
func localAnswer(field, message string) (string, bool) {
	switch field {
	case profile.FieldExperienceYears, profile.FieldTrainingDaysPerWeek:
		if m := digitsPattern.FindString(message); m != "" {
			return strings.Replace(m, ",", ".", 1), true
		}
	case profile.FieldSessionLengthMin:
		m := digitsPattern.FindString(message)
		if m == "" {
			return "", false
		}
		n, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err != nil {
			return "", false
		}
		if hoursPattern.MatchString(message) && !strings.Contains(strings.ToLower(message), "min") {
			n *= 60
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case profile.FieldKnowledgeLevel:
		lower := strings.ToLower(message)
		for _, level := range knowledgeLevels {
			if strings.Contains(lower, level) {
				return level, true
			}
		}
	}
	return "", false
}
