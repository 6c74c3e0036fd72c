// Package laurel awards achievement points for logged activity.
package laurel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/empyre-fit/empyre/internal/storage"
)

// Laurel types and their points.
const (
	TypeWorkoutLogged       = "workout_logged"
	TypeMeasurementLogged   = "measurement_logged"
	TypeGoalAchieved        = "goal_achieved"
	TypePR                  = "pr"
	TypeProgressiveOverload = "progressive_overload"

	PointsWorkoutLogged       = 10
	PointsMeasurementLogged   = 5
	PointsGoalAchieved        = 50
	PointsPR                  = 25
	PointsProgressiveOverload = 15
)

// DefaultManualPoints is awarded by a manual grant that names no points.
const DefaultManualPoints = 10

// Award is one laurel a log earned.
type Award struct {
	Type        string
	Points      int
	Description string
}

var prPattern = regexp.MustCompile(`(?i)\b(pr|pb|personal (record|best))\b`)

// Evaluate returns the laurels log earns. previous holds the user's earlier
// logs, newest first; it is only consulted for progressive overload.
func Evaluate(log storage.ProgressLog, previous []storage.ProgressLog) []Award {
	data := decode(log.LogData)

	var out []Award
	switch log.LogType {
	case "workout":
		out = append(out, Award{TypeWorkoutLogged, PointsWorkoutLogged, "Logged a workout" + describe(data)})
	case "measurement":
		out = append(out, Award{TypeMeasurementLogged, PointsMeasurementLogged, "Logged a measurement"})
	case "goal":
		out = append(out, Award{TypeGoalAchieved, PointsGoalAchieved, "Achieved a goal" + describe(data)})
	}

	if log.LogType == "workout" && mentionsPR(data) {
		out = append(out, Award{TypePR, PointsPR, "Set a personal record" + describe(data)})
	}
	if log.LogType == "workout" {
		if a, ok := overload(data, previous); ok {
			out = append(out, a)
		}
	}
	return out
}

func decode(raw string) map[string]any {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return map[string]any{}
	}
	return data
}

func describe(data map[string]any) string {
	for _, k := range []string{"exercise", "goal", "name"} {
		if s, ok := data[k].(string); ok && s != "" {
			return ": " + s
		}
	}
	return ""
}

func mentionsPR(data map[string]any) bool {
	for _, k := range []string{"pr", "personal_record", "pb"} {
		if b, ok := data[k].(bool); ok && b {
			return true
		}
	}
	for _, v := range data {
		if s, ok := v.(string); ok && prPattern.MatchString(s) {
			return true
		}
	}
	return false
}

// overload awards progressive overload when the same exercise was logged
// before at a lower weight. Only the most recent earlier log of that
// exercise counts.
func overload(data map[string]any, previous []storage.ProgressLog) (Award, bool) {
	exercise := exerciseName(data)
	weight, ok := weightOf(data)
	if exercise == "" || !ok {
		return Award{}, false
	}
	for _, prev := range previous {
		if prev.LogType != "workout" {
			continue
		}
		pd := decode(prev.LogData)
		if exerciseName(pd) != exercise {
			continue
		}
		pw, ok := weightOf(pd)
		if !ok {
			continue
		}
		if weight > pw {
			return Award{
				Type:        TypeProgressiveOverload,
				Points:      PointsProgressiveOverload,
				Description: fmt.Sprintf("Progressive overload on %s: %g kg up from %g kg", exercise, weight, pw),
			}, true
		}
		return Award{}, false
	}
	return Award{}, false
}

func exerciseName(data map[string]any) string {
	s, _ := data["exercise"].(string)
	return strings.ToLower(strings.TrimSpace(s))
}

func weightOf(data map[string]any) (float64, bool) {
	for _, k := range []string{"weight_kg", "weight"} {
		switch v := data[k].(type) {
		case float64:
			return v, v > 0
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.ToLower(v), "kg")), 64)
			if err == nil && f > 0 {
				return f, true
			}
		}
	}
	return 0, false
}
