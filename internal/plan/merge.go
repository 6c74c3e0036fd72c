package plan

import (
	"encoding/json"
	"fmt"
)

// MergePatch applies an RFC 7386 JSON merge patch to doc. Objects merge
// recursively, null deletes a key, and any other value replaces the target.
func MergePatch(doc, patch []byte) ([]byte, error) {
	var target, p any
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &target); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	return json.Marshal(mergeValue(target, p))
}

func mergeValue(target, patch any) any {
	po, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	to, ok := target.(map[string]any)
	if !ok {
		to = map[string]any{}
	}
	for k, v := range po {
		if v == nil {
			delete(to, k)
			continue
		}
		to[k] = mergeValue(to[k], v)
	}
	return to
}

// Apply returns a new plan with delta merged in. p is not modified.
func (p *Plan) Apply(delta json.RawMessage) (*Plan, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	merged, err := MergePatch(doc, delta)
	if err != nil {
		return nil, err
	}
	out, err := Parse(merged)
	if err != nil {
		return nil, fmt.Errorf("applying plan update: %w", err)
	}
	return out, nil
}
