package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Plan is the structured training and nutrition document produced for a user.
type Plan struct {
	Split Split  `json:"split"`
	Meals Meals  `json:"meals"`
	Notes string `json:"notes,omitempty"`
}

type Split struct {
	Type string                `json:"type"`
	Days map[string][]Exercise `json:"days"`
}

type Exercise struct {
	Exercise string `json:"exercise"`
	Sets     int    `json:"sets"`
	Reps     int    `json:"reps"`
}

type Meals struct {
	TargetMacros Macros            `json:"target_macros"`
	SampleDay    map[string]string `json:"sample_day"`
}

// Macros are daily gram targets.
type Macros struct {
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatsG    float64 `json:"fats_g"`
}

// Kcal returns the energy of the macro targets (4/4/9 kcal per gram).
func (m Macros) Kcal() float64 {
	return 4*m.ProteinG + 4*m.CarbsG + 9*m.FatsG
}

// UnmarshalJSON accepts reps and sets either as numbers or as strings.
// A range such as "8-12" is read as its upper bound.
func (e *Exercise) UnmarshalJSON(data []byte) error {
	var raw struct {
		Exercise string          `json:"exercise"`
		Sets     json.RawMessage `json:"sets"`
		Reps     json.RawMessage `json:"reps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sets, err := looseInt(raw.Sets)
	if err != nil {
		return fmt.Errorf("exercise %q sets: %w", raw.Exercise, err)
	}
	reps, err := looseInt(raw.Reps)
	if err != nil {
		return fmt.Errorf("exercise %q reps: %w", raw.Exercise, err)
	}
	*e = Exercise{Exercise: raw.Exercise, Sets: sets, Reps: reps}
	return nil
}

func looseInt(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("expected a whole number, got %s", raw)
		}
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number, got %s", raw)
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), "–", "-")
	if i := strings.LastIndex(s, "-"); i > 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	if f := strings.Fields(s); len(f) > 1 {
		s = f[0] // "12 reps"
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", s)
	}
	return n, nil
}

// Parse decodes a plan document and checks that both the split and meal
// sections are present.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if len(p.Split.Days) == 0 {
		return nil, errors.New("plan has no training days")
	}
	if p.Meals.TargetMacros == (Macros{}) {
		return nil, errors.New("plan has no target macros")
	}
	return &p, nil
}

// DayNames returns the split's day keys in natural order ("Day 2" before "Day 10").
func (p *Plan) DayNames() []string {
	names := make([]string, 0, len(p.Split.Days))
	for name := range p.Split.Days {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, iok := trailingNumber(names[i])
		nj, jok := trailingNumber(names[j])
		if iok && jok && ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names
}

func trailingNumber(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	return n, err == nil
}

// Clone returns a deep copy of p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	if p.Split.Days != nil {
		c.Split.Days = make(map[string][]Exercise, len(p.Split.Days))
		for k, v := range p.Split.Days {
			c.Split.Days[k] = append([]Exercise(nil), v...)
		}
	}
	if p.Meals.SampleDay != nil {
		c.Meals.SampleDay = make(map[string]string, len(p.Meals.SampleDay))
		for k, v := range p.Meals.SampleDay {
			c.Meals.SampleDay[k] = v
		}
	}
	return &c
}
