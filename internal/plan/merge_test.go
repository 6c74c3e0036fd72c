package plan

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMergePatch(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		patch string
		want  string
	}{
		{"replace scalar", `{"a":"b"}`, `{"a":"c"}`, `{"a":"c"}`},
		{"add key", `{"a":"b"}`, `{"b":"c"}`, `{"a":"b","b":"c"}`},
		{"delete key", `{"a":"b","b":"c"}`, `{"a":null}`, `{"b":"c"}`},
		{"nested merge", `{"a":{"b":1,"c":2}}`, `{"a":{"c":3}}`, `{"a":{"b":1,"c":3}}`},
		{"array replaced", `{"a":[1,2]}`, `{"a":[3]}`, `{"a":[3]}`},
		{"non-object patch", `{"a":"b"}`, `["c"]`, `["c"]`},
		{"empty doc", ``, `{"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergePatch([]byte(tt.doc), []byte(tt.patch))
			if err != nil {
				t.Fatalf("MergePatch: %v", err)
			}
			var g, w any
			json.Unmarshal(got, &g)
			json.Unmarshal([]byte(tt.want), &w)
			if !reflect.DeepEqual(g, w) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMergePatch_InvalidPatch(t *testing.T) {
	if _, err := MergePatch([]byte(`{}`), []byte(`{`)); err == nil {
		t.Error("expected error for malformed patch")
	}
}

func TestPlanApply(t *testing.T) {
	p := validPlan()
	delta := json.RawMessage(`{"meals":{"target_macros":{"carbs_g":200}},"notes":"Swap rice for potatoes."}`)

	updated, err := p.Apply(delta)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if updated.Meals.TargetMacros.CarbsG != 200 {
		t.Errorf("carbs = %v, want 200", updated.Meals.TargetMacros.CarbsG)
	}
	if updated.Meals.TargetMacros.ProteinG != 150 {
		t.Errorf("protein = %v, want untouched 150", updated.Meals.TargetMacros.ProteinG)
	}
	if updated.Notes != "Swap rice for potatoes." {
		t.Errorf("notes = %q", updated.Notes)
	}
	if p.Meals.TargetMacros.CarbsG != 175 || p.Notes != "" {
		t.Error("Apply must not modify the receiver")
	}
	if len(updated.Split.Days) != 3 {
		t.Errorf("days = %d, want 3", len(updated.Split.Days))
	}
}

func TestPlanApply_RemovingAllDaysFails(t *testing.T) {
	p := validPlan()
	_, err := p.Apply(json.RawMessage(`{"split":{"days":null}}`))
	if err == nil {
		t.Fatal("expected error when the update removes every training day")
	}
}

func TestParse_LooseNumbers(t *testing.T) {
	doc := `{
		"split": {"type": "upper_lower", "days": {"Day 1": [
			{"exercise": "Squat", "sets": "4", "reps": "8-12"},
			{"exercise": "Row", "sets": 3.0, "reps": "10 reps"}
		]}},
		"meals": {"target_macros": {"protein_g": 140, "carbs_g": 200, "fats_g": 60}, "sample_day": {}}
	}`
	p, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := p.Split.Days["Day 1"]
	want := []Exercise{{Exercise: "Squat", Sets: 4, Reps: 12}, {Exercise: "Row", Sets: 3, Reps: 10}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("exercises = %+v, want %+v", got, want)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `Here is your plan!`},
		{"no days", `{"split":{"type":"x","days":{}},"meals":{"target_macros":{"protein_g":1}}}`},
		{"no macros", `{"split":{"type":"x","days":{"Day 1":[]}},"meals":{}}`},
		{"bad reps", `{"split":{"days":{"Day 1":[{"exercise":"x","sets":1,"reps":"lots"}]}},"meals":{"target_macros":{"protein_g":1}}}`},
		{"fractional reps", `{"split":{"days":{"Day 1":[{"exercise":"x","sets":1,"reps":25.9}]}},"meals":{"target_macros":{"protein_g":1}}}`},
		{"fractional sets", `{"split":{"days":{"Day 1":[{"exercise":"x","sets":6.5,"reps":10}]}},"meals":{"target_macros":{"protein_g":1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDayNames_NaturalOrder(t *testing.T) {
	p := &Plan{Split: Split{Days: map[string][]Exercise{
		"Day 10": nil, "Day 2": nil, "Day 1": nil,
	}}}
	got := p.DayNames()
	want := []string{"Day 1", "Day 2", "Day 10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DayNames = %v, want %v", got, want)
	}
}

func TestClone_Independent(t *testing.T) {
	p := validPlan()
	c := p.Clone()
	c.Split.Days["Day 1"][0].Reps = 99
	c.Meals.SampleDay["Meal 1"] = "changed"
	if p.Split.Days["Day 1"][0].Reps == 99 || p.Meals.SampleDay["Meal 1"] == "changed" {
		t.Error("Clone shares state with the original")
	}
}
