package profile

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/empyre-fit/empyre/internal/plan"
)

// Auxiliary field names the guardrails read body metrics from.
const (
	AuxWeightKg      = "weight_kg"
	AuxHeightCm      = "height_cm"
	AuxAgeYears      = "age_years"
	AuxSex           = "sex"
	AuxActivityLevel = "activity_level"
)

// MetricFields lists the canonical body-metric field names.
var MetricFields = []string{AuxWeightKg, AuxHeightCm, AuxAgeYears, AuxSex, AuxActivityLevel}

// metricAliases are other names a model tends to give the same metric.
// Any field starting with one of metricPrefixes is also accepted.
var (
	metricAliases = map[string][]string{
		AuxWeightKg:      {"body_weight", "bodyweight", "body_weight_kg", "current_weight", "weight"},
		AuxHeightCm:      {"height", "body_height", "current_height"},
		AuxAgeYears:      {"age"},
		AuxSex:           {"gender", "biological_sex"},
		AuxActivityLevel: {"daily_activity_level", "activity"},
	}
	metricPrefixes = map[string][]string{
		AuxWeightKg: {"weight_", "body_weight_", "current_weight_"},
		AuxHeightCm: {"height_"},
		AuxAgeYears: {"age_"},
	}
)

// Plausible adult ranges. Anything outside is treated as unknown.
const (
	minWeightKg = 25
	maxWeightKg = 350
	minHeightCm = 100
	maxHeightCm = 250
	minAgeYears = 10
	maxAgeYears = 120

	kgPerPound = 0.45359237
	cmPerInch  = 2.54
	cmPerFoot  = 30.48
)

var (
	poundPattern      = regexp.MustCompile(`(?:^|[^a-z])(?:lbs?|pounds?)\b`)
	feetInchesPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:'|’|ft|feet|foot)\s*(?:(\d+(?:[.,]\d+)?)\s*(?:"|”|''|in\b|inch(?:es)?\b)?)?`)
	inchesPattern     = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:"|”|in\b|inch(?:es)?\b)`)
	metresPattern     = regexp.MustCompile(`\d\s*(?:m|meters?|metres?)\b`)
	// goal-like names ("goal_weight", "target_weight_kg") are not the
	// user's current measurement.
	notCurrentPattern = regexp.MustCompile(`goal|target|ideal|desired|dream`)
)

var noInjury = map[string]bool{
	"": true, "no": true, "none": true, "nope": true, "n/a": true, "na": true,
	"nothing": true, "no injuries": true, "false": true,
}

// Athlete reads the body metrics known for this user. Unknown,
// unparseable or implausible metrics are left at zero so the guardrails
// that need them are skipped rather than fed a wrong number.
func (p *Profile) Athlete() plan.Athlete {
	var a plan.Athlete
	if p.TrainingDaysPerWeek != nil {
		a.TrainingDaysPerWeek = *p.TrainingDaysPerWeek
	}
	if keys := p.metricKeys(AuxSex); len(keys) > 0 {
		a.Sex = p.Auxiliary[keys[0]]
	}
	if keys := p.metricKeys(AuxActivityLevel); len(keys) > 0 {
		a.ActivityLevel = p.Auxiliary[keys[0]]
	}
	a.WeightKg = p.firstMetric(AuxWeightKg, parseWeightKg)
	a.HeightCm = p.firstMetric(AuxHeightCm, parseHeightCm)
	a.AgeYears = p.firstMetric(AuxAgeYears, parseAgeYears)

	for k, v := range p.Auxiliary {
		if strings.Contains(k, "injur") && !noInjury[strings.ToLower(strings.TrimSpace(v))] {
			a.InjuryReported = true
			break
		}
	}
	return a
}

func (p *Profile) firstMetric(canonical string, parse func(key, value string) (float64, bool)) float64 {
	for _, k := range p.metricKeys(canonical) {
		if f, ok := parse(k, p.Auxiliary[k]); ok {
			return f
		}
	}
	return 0
}

// metricKeys lists the answered auxiliary fields that may hold a metric:
// the canonical name first, then known aliases, then prefixed names in
// sorted order.
func (p *Profile) metricKeys(canonical string) []string {
	var keys []string
	seen := map[string]bool{}
	add := func(k string) {
		if v, ok := p.Auxiliary[k]; ok && strings.TrimSpace(v) != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add(canonical)
	for _, k := range metricAliases[canonical] {
		add(k)
	}
	prefixes := metricPrefixes[canonical]
	if len(prefixes) == 0 {
		return keys
	}
	names := make([]string, 0, len(p.Auxiliary))
	for k := range p.Auxiliary {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if notCurrentPattern.MatchString(k) {
			continue
		}
		for _, pre := range prefixes {
			if strings.HasPrefix(k, pre) {
				add(k)
				break
			}
		}
	}
	return keys
}

func parseAgeYears(_, value string) (float64, bool) {
	f, err := parseNumber(value)
	if err != nil || f < minAgeYears || f > maxAgeYears {
		return 0, false
	}
	return f, true
}

// parseWeightKg reads a body weight in kilograms. Pounds are recognised
// from the value ("176 lbs", "176 pounds") or the field name ("weight_lbs").
func parseWeightKg(key, value string) (float64, bool) {
	f, err := parseNumber(value)
	if err != nil {
		return 0, false
	}
	lower := strings.ToLower(value)
	if poundPattern.MatchString(lower) || poundPattern.MatchString("_"+strings.ToLower(key)) {
		f *= kgPerPound
	}
	if f < minWeightKg || f > maxWeightKg {
		return 0, false
	}
	return f, true
}

// parseHeightCm reads a height in centimetres. It accepts feet and inches
// (5'10", 5 ft 10 in, 5 feet 10 inches), inches alone, metres (1.8 m) and
// centimetres.
func parseHeightCm(key, value string) (float64, bool) {
	lower := strings.ToLower(strings.TrimSpace(value))
	key = strings.ToLower(key)

	var cm float64
	switch {
	case feetInchesPattern.MatchString(lower):
		m := feetInchesPattern.FindStringSubmatch(lower)
		cm = decimal(m[1])*cmPerFoot + decimal(m[2])*cmPerInch
	case inchesPattern.MatchString(lower):
		cm = decimal(inchesPattern.FindStringSubmatch(lower)[1]) * cmPerInch
	default:
		f, err := parseNumber(lower)
		if err != nil {
			return 0, false
		}
		switch {
		case strings.Contains(lower, "cm"):
			cm = f
		case strings.HasSuffix(key, "_in") || strings.HasSuffix(key, "_inches"):
			cm = f * cmPerInch
		case strings.HasSuffix(key, "_ft") || strings.HasSuffix(key, "_feet"):
			cm = f * cmPerFoot
		case metresPattern.MatchString(lower) || strings.HasSuffix(key, "_m") || f < 3:
			cm = f * 100
		default:
			cm = f
		}
	}
	if cm < minHeightCm || cm > maxHeightCm {
		return 0, false
	}
	return cm, true
}

func decimal(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return f
}

// Baseline derives the guardrail baseline for this user.
func (p *Profile) Baseline(defaultActivityFactor float64) plan.Baseline {
	return plan.BaselineFor(p.Athlete(), defaultActivityFactor)
}
