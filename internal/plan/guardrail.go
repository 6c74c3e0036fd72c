package plan

import (
	"fmt"
	"strings"
	"time"
)

// Guardrail limits.
const (
	MaxDeficit      = 0.40 // fraction below TDEE
	MinProteinPerKg = 1.2
	MinFatPerKg     = 0.25
	MinReps         = 1
	MaxReps         = 25
	MinSets         = 1
	MaxSets         = 6
	MaxHoursPerDay  = 2.5
	LowBMI          = 17.0
	HighBMI         = 40.0

	// SecondsPerRep and RestPerSet estimate the duration of one set.
	SecondsPerRep = 3 * time.Second
	RestPerSet    = 90 * time.Second

	// tolerance absorbs float rounding at exact boundaries.
	tolerance = 1e-6
)

// Rule names reported in violations.
const (
	RuleCaloricDeficit    = "caloric_deficit"
	RuleCaloricFloor      = "caloric_floor"
	RuleProteinMin        = "protein_min"
	RuleFatMin            = "fat_min"
	RuleCarbsRemainder    = "carbs_remainder"
	RuleRepsRange         = "reps_range"
	RuleSetsRange         = "sets_range"
	RuleWeeklyTime        = "weekly_time"
	RuleCompoundCoverage  = "compound_coverage"
	RuleMedicalDisclaimer = "medical_disclaimer"
)

// Violation is a single failed guardrail.
type Violation struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// GuardrailViolationError lists every guardrail a candidate plan failed.
type GuardrailViolationError struct {
	Violations []Violation
}

func (e *GuardrailViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Rule + ": " + v.Detail
	}
	return "plan violates guardrails: " + strings.Join(parts, "; ")
}

// MuscleGroup maps a major muscle group to keywords naming compound lifts
// that train it. Keywords match case-insensitively at the start of a word.
type MuscleGroup struct {
	Name     string
	Keywords []string
}

// DefaultCompoundCatalog covers the four major groups every plan must train.
var DefaultCompoundCatalog = []MuscleGroup{
	{Name: "chest", Keywords: []string{"bench press", "chest press", "push-up", "push up", "pushup", "dip", "incline press", "decline press", "floor press"}},
	{Name: "back", Keywords: []string{"row", "pull-up", "pull up", "pullup", "chin-up", "chin up", "chinup", "pulldown", "pull-down", "deadlift"}},
	{Name: "legs", Keywords: []string{"squat", "lunge", "leg press", "deadlift", "step-up", "step up", "hip thrust", "split squat"}},
	{Name: "shoulders", Keywords: []string{"overhead press", "shoulder press", "military press", "push press", "arnold press", "landmine press", "pike push", "handstand push"}},
}

// Validator checks candidate plans against the numeric and safety guardrails.
type Validator struct {
	Catalog []MuscleGroup
}

func NewValidator() *Validator {
	return &Validator{Catalog: DefaultCompoundCatalog}
}

// Validate returns a *GuardrailViolationError when p fails any check, nil otherwise.
func (v *Validator) Validate(p *Plan, b Baseline) error {
	if violations := v.Check(p, b); len(violations) > 0 {
		return &GuardrailViolationError{Violations: violations}
	}
	return nil
}

// Check runs every guardrail and returns all violations in a stable order.
// Checks that depend on an unknown body metric are skipped.
func (v *Validator) Check(p *Plan, b Baseline) []Violation {
	var out []Violation
	out = append(out, checkEnergy(p.Meals.TargetMacros, b)...)
	out = append(out, checkVolume(p)...)
	if vi, ok := checkWeeklyTime(p, b); !ok {
		out = append(out, vi)
	}
	out = append(out, v.checkCompounds(p)...)
	if vi, ok := checkDisclaimer(p, b); !ok {
		out = append(out, vi)
	}
	return out
}

func checkEnergy(m Macros, b Baseline) []Violation {
	var out []Violation
	kcal := m.Kcal()

	if b.TDEE > 0 {
		limit := b.TDEE * (1 - MaxDeficit)
		if kcal < limit-tolerance {
			deficit := (b.TDEE - kcal) / b.TDEE
			out = append(out, Violation{
				Rule:   RuleCaloricDeficit,
				Detail: fmt.Sprintf("target %.0f kcal is %.1f%% below TDEE %.0f (max %.0f%%)", kcal, deficit*100, b.TDEE, MaxDeficit*100),
			})
		}
	}
	if b.BMR > 0 && kcal < b.BMR-tolerance {
		out = append(out, Violation{
			Rule:   RuleCaloricFloor,
			Detail: fmt.Sprintf("target %.0f kcal is below BMR %.0f", kcal, b.BMR),
		})
	}
	if b.WeightKg > 0 {
		if want := b.MinProteinG(); m.ProteinG < want-tolerance {
			out = append(out, Violation{
				Rule:   RuleProteinMin,
				Detail: fmt.Sprintf("protein %.0f g is below %.0f g (%.1f g/kg)", m.ProteinG, want, MinProteinPerKg),
			})
		}
		if want := b.MinFatG(); m.FatsG < want-tolerance {
			out = append(out, Violation{
				Rule:   RuleFatMin,
				Detail: fmt.Sprintf("fat %.0f g is below %.0f g (%.2f g/kg)", m.FatsG, want, MinFatPerKg),
			})
		}
	}
	// Carbohydrate fills whatever remains of the caloric budget, so the only
	// way it can fail is a negative remainder.
	if m.CarbsG < 0 {
		out = append(out, Violation{
			Rule:   RuleCarbsRemainder,
			Detail: fmt.Sprintf("carbohydrate %.0f g is negative", m.CarbsG),
		})
	}
	return out
}

func checkVolume(p *Plan) []Violation {
	var out []Violation
	for _, day := range p.DayNames() {
		for _, ex := range p.Split.Days[day] {
			if ex.Reps < MinReps || ex.Reps > MaxReps {
				out = append(out, Violation{
					Rule:   RuleRepsRange,
					Detail: fmt.Sprintf("%s %q: %d reps outside [%d, %d]", day, ex.Exercise, ex.Reps, MinReps, MaxReps),
				})
			}
			if ex.Sets < MinSets || ex.Sets > MaxSets {
				out = append(out, Violation{
					Rule:   RuleSetsRange,
					Detail: fmt.Sprintf("%s %q: %d sets outside [%d, %d]", day, ex.Exercise, ex.Sets, MinSets, MaxSets),
				})
			}
		}
	}
	return out
}

// WeeklyDuration estimates total training time across the split.
func WeeklyDuration(p *Plan) time.Duration {
	var total time.Duration
	for _, exercises := range p.Split.Days {
		for _, ex := range exercises {
			perSet := time.Duration(ex.Reps)*SecondsPerRep + RestPerSet
			total += time.Duration(ex.Sets) * perSet
		}
	}
	return total
}

func checkWeeklyTime(p *Plan, b Baseline) (Violation, bool) {
	days := b.TrainingDaysPerWeek
	if days <= 0 {
		days = len(p.Split.Days)
	}
	limit := time.Duration(float64(days) * MaxHoursPerDay * float64(time.Hour))
	got := WeeklyDuration(p)
	if got <= limit {
		return Violation{}, true
	}
	return Violation{
		Rule:   RuleWeeklyTime,
		Detail: fmt.Sprintf("estimated %.1f h/week exceeds %.1f h (%d days x %.1f h)", got.Hours(), limit.Hours(), days, MaxHoursPerDay),
	}, false
}

func (v *Validator) checkCompounds(p *Plan) []Violation {
	catalog := v.Catalog
	if catalog == nil {
		catalog = DefaultCompoundCatalog
	}
	var out []Violation
	for _, group := range catalog {
		if !coversGroup(p, group) {
			out = append(out, Violation{
				Rule:   RuleCompoundCoverage,
				Detail: fmt.Sprintf("no compound exercise for %s", group.Name),
			})
		}
	}
	return out
}

func coversGroup(p *Plan, group MuscleGroup) bool {
	for _, exercises := range p.Split.Days {
		for _, ex := range exercises {
			name := normalizeExercise(ex.Exercise)
			for _, kw := range group.Keywords {
				// Keywords must start a word: "narrow grip" is not a row.
				if strings.Contains(name, " "+kw) {
					return true
				}
			}
		}
	}
	return false
}

func normalizeExercise(name string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// NeedsDisclaimer reports whether plans for this baseline must carry a
// medical disclaimer in their notes.
func (b Baseline) NeedsDisclaimer() bool {
	if b.InjuryReported {
		return true
	}
	return b.BMI > 0 && (b.BMI < LowBMI || b.BMI > HighBMI)
}

func checkDisclaimer(p *Plan, b Baseline) (Violation, bool) {
	if !b.NeedsDisclaimer() || strings.TrimSpace(p.Notes) != "" {
		return Violation{}, true
	}
	reason := fmt.Sprintf("BMI %.1f", b.BMI)
	if b.InjuryReported {
		reason = "reported injury"
	}
	return Violation{
		Rule:   RuleMedicalDisclaimer,
		Detail: "notes must contain a medical disclaimer (" + reason + ")",
	}, false
}
