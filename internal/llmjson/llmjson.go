// Package llmjson recovers JSON documents from free-form model output.
//
// Models wrap JSON in markdown fences, prepend reasoning blocks, and leave
// line comments or trailing commas behind. Extract strips those artifacts
// so the result can be handed to encoding/json.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedObject  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(\\{.*\\})\\s*```")
	bareObject    = regexp.MustCompile(`(?s)\{.*\}`)
	thinkBlock    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON is returned by Decode when the text contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// Extract returns the first JSON object found in text, cleaned of comments
// and trailing commas, or "" when there is none.
func Extract(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	var raw string
	if m := fencedObject.FindStringSubmatch(text); len(m) > 1 {
		raw = m[1]
	} else {
		raw = bareObject.FindString(text)
	}
	if raw == "" {
		return ""
	}
	return clean(raw)
}

// Decode extracts a JSON object from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw := Extract(text)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding model JSON: %w", err)
	}
	return nil
}

// Snippet shortens model output for error messages and logs.
func Snippet(text string, n int) string {
	text = strings.TrimSpace(text)
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}

func clean(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripComment(line)
	}
	return trailingComma.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripComment drops a // comment that starts outside a string literal.
func stripComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
