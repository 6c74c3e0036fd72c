package plan

import "strings"

// DefaultActivityFactor multiplies BMR into TDEE when the user's activity
// level is unknown or unrecognised (moderately active).
const DefaultActivityFactor = 1.55

// Athlete carries the body metrics a plan is checked against. Zero values
// mean unknown.
type Athlete struct {
	WeightKg            float64
	HeightCm            float64
	AgeYears            float64
	Sex                 string
	ActivityLevel       string
	InjuryReported      bool
	TrainingDaysPerWeek int
}

// Baseline is the derived energy and body-composition context used by the
// Validator. Zero values mean unknown and disable the checks that need them.
type Baseline struct {
	WeightKg            float64
	BMI                 float64
	BMR                 float64
	TDEE                float64
	InjuryReported      bool
	TrainingDaysPerWeek int
}

var activityFactors = map[string]float64{
	"sedentary":         1.2,
	"light":             1.375,
	"lightly active":    1.375,
	"moderate":          1.55,
	"moderately active": 1.55,
	"active":            1.725,
	"very active":       1.9,
	"extra active":      1.9,
	"athlete":           1.9,
}

// ActivityFactor maps a free-text activity level to a TDEE multiplier,
// returning fallback when nothing matches.
func ActivityFactor(level string, fallback float64) float64 {
	level = strings.ToLower(strings.TrimSpace(level))
	if f, ok := activityFactors[level]; ok {
		return f
	}
	// Longest key first so "very active" wins over "active".
	best, bestLen := fallback, 0
	for k, f := range activityFactors {
		if len(k) > bestLen && strings.Contains(level, k) {
			best, bestLen = f, len(k)
		}
	}
	return best
}

// MifflinStJeor returns the resting energy expenditure in kcal/day, or 0 when
// weight, height or age is unknown. Unknown sex uses the midpoint constant.
func MifflinStJeor(a Athlete) float64 {
	if a.WeightKg <= 0 || a.HeightCm <= 0 || a.AgeYears <= 0 {
		return 0
	}
	base := 10*a.WeightKg + 6.25*a.HeightCm - 5*a.AgeYears
	switch strings.ToLower(strings.TrimSpace(a.Sex)) {
	case "m", "male", "man":
		return base + 5
	case "f", "female", "woman":
		return base - 161
	default:
		return base - 78
	}
}

// BMI returns body-mass index, or 0 when weight or height is unknown.
func BMI(weightKg, heightCm float64) float64 {
	if weightKg <= 0 || heightCm <= 0 {
		return 0
	}
	m := heightCm / 100
	return weightKg / (m * m)
}

// BaselineFor derives the validation baseline from body metrics.
func BaselineFor(a Athlete, defaultActivityFactor float64) Baseline {
	if defaultActivityFactor <= 0 {
		defaultActivityFactor = DefaultActivityFactor
	}
	bmr := MifflinStJeor(a)
	return Baseline{
		WeightKg:            a.WeightKg,
		BMI:                 BMI(a.WeightKg, a.HeightCm),
		BMR:                 bmr,
		TDEE:                bmr * ActivityFactor(a.ActivityLevel, defaultActivityFactor),
		InjuryReported:      a.InjuryReported,
		TrainingDaysPerWeek: a.TrainingDaysPerWeek,
	}
}

// MinProteinG returns the lowest acceptable daily protein target.
func (b Baseline) MinProteinG() float64 { return MinProteinPerKg * b.WeightKg }

// MinFatG returns the lowest acceptable daily fat target.
func (b Baseline) MinFatG() float64 { return MinFatPerKg * b.WeightKg }

// MinKcal returns the lowest acceptable caloric target: the larger of the
// maximum deficit below TDEE and BMR.
func (b Baseline) MinKcal() float64 {
	floor := b.TDEE * (1 - MaxDeficit)
	if b.BMR > floor {
		return b.BMR
	}
	return floor
}
