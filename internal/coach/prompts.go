package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/profile"
)

// coreQuestions holds the wording for each core field. The beginner variant
// avoids jargon; the advanced one is terse.
var coreQuestions = map[string]struct{ beginner, standard, advanced string }{
	profile.FieldInitialGoal: {
		standard: "Welcome to Empyre! What is the main goal you want to achieve with your training?",
	},
	profile.FieldKnowledgeLevel: {
		standard: "How would you describe your fitness knowledge: beginner, intermediate or advanced?",
	},
	profile.FieldExperienceYears: {
		beginner: "How long have you been working out? It's fine if the answer is zero.",
		standard: "How many years of consistent training do you have?",
		advanced: "Years of structured training?",
	},
	profile.FieldTrainingDaysPerWeek: {
		beginner: "How many days a week can you set aside for exercise?",
		standard: "How many days per week can you train?",
		advanced: "Weekly training frequency (days)?",
	},
	profile.FieldSessionLengthMin: {
		beginner: "About how many minutes can you spend on each workout?",
		standard: "How long can each training session be, in minutes?",
		advanced: "Session length in minutes?",
	},
	profile.FieldEquipmentAccess: {
		beginner: "What equipment can you use? For example nothing, some dumbbells at home, or a full gym.",
		standard: "What equipment do you have access to (home, dumbbells only, full gym...)?",
		advanced: "Equipment available? List racks, barbells, machines or constraints.",
	},
}

// CoreQuestion phrases the question for a core field according to the
// user's knowledge level, when known.
func CoreQuestion(field, knowledgeLevel string) string {
	q, ok := coreQuestions[field]
	if !ok {
		return fmt.Sprintf("Could you tell me your %s?", strings.ReplaceAll(field, "_", " "))
	}
	level := strings.ToLower(knowledgeLevel)
	switch {
	case strings.Contains(level, "beginner") || strings.Contains(level, "novice"):
		if q.beginner != "" {
			return q.beginner
		}
	case strings.Contains(level, "advanced") || strings.Contains(level, "expert"):
		if q.advanced != "" {
			return q.advanced
		}
	}
	return q.standard
}

const auxOfferFallback = "Your core profile is complete. Would you like to share a few optional details " +
	"such as injuries, body measurements or food preferences so your plan can be even more precise? " +
	"Answer yes, or no to go straight to your plan."

const auxOfferPrompt = `You are Empyre, an AI fitness coach with a Roman legion flavour. The user has completed their core profile.
Write ONE short, personalized yes/no question inviting them to share optional details (injuries, body measurements, food preferences, recovery) that will make their workouts and meals more precise.
Make it clear the step is optional and that answering no goes straight to plan generation.
Output ONLY a JSON object: {"text": "<question>"}`

func auxOfferMessages(p *profile.Profile) []engine.Message {
	return []engine.Message{
		engine.System(auxOfferPrompt),
		engine.User("Profile:\n" + profileJSON(p)),
	}
}

var textSchema = &engine.Schema{
	Name: "coach_text",
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"text": {Type: "string", Description: "Message shown to the user"},
	},
	Required: []string{"text"},
}

const auxFieldPrompt = `You are Empyre, an AI fitness coach. The user opted in to share optional details.
Pick the single most valuable additional attribute for THIS user's plan (injury history, supplements, food preferences, allergies, sleep, stress, recovery, body parts to focus on, dietary restrictions, schedule constraints, body measurements...).
Rules:
- The field name must be snake_case and must not be any field already in the profile.
- Never pick one of: %s.
- For body measurements use exactly these field names: %s (weight in kilograms, height in centimetres).
- Ask exactly one friendly question about it.
Output ONLY a JSON object: {"field": "<snake_case_name>", "text": "<question>"}`

func auxFieldMessages(p *profile.Profile) []engine.Message {
	taken := make([]string, 0, len(profile.CoreFields)+len(p.Auxiliary)+1)
	taken = append(taken, profile.CoreFields...)
	taken = append(taken, profile.FieldAuxOptIn)
	for k := range p.Auxiliary {
		taken = append(taken, k)
	}
	return []engine.Message{
		engine.System(fmt.Sprintf(auxFieldPrompt, strings.Join(taken, ", "), strings.Join(profile.MetricFields, ", "))),
		engine.User("Profile:\n" + profileJSON(p)),
	}
}

var auxFieldSchema = &engine.Schema{
	Name: "aux_question",
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"field": {Type: "string", Description: "snake_case name of the attribute to collect"},
		"text":  {Type: "string", Description: "Question shown to the user"},
	},
	Required: []string{"field", "text"},
}

const extractPrompt = `You extract structured answers from user messages.
Field: %s
Return ONLY a JSON object {"value": "<extracted value>"} with the answer for that field, or {"value": ""} if the message does not answer it.
Examples:
- initial_goal, "I want to build muscle" -> "build muscle"
- knowledge_level, "I'm a beginner" -> "beginner"
- experience_years, "I've been working out for 2 years" -> "2"
- training_days_per_week, "I can train 4 days a week" -> "4"
- session_length_min, "I have 45 minutes per session" -> "45"
- equipment_access, "I have a full gym" -> "full gym"
Body measurements are returned as plain metric numbers:
- weight_kg, "about 176 pounds" -> "79.8"
- height_cm, "I'm 5 ft 10" -> "178"
- height_cm, "1.82 m" -> "182"
- age_years, "I turned 31 in May" -> "31"`

func extractMessages(field, message string) []engine.Message {
	return []engine.Message{
		engine.System(fmt.Sprintf(extractPrompt, field)),
		engine.User(message),
	}
}

var extractSchema = &engine.Schema{
	Name: "field_value",
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"value": {Type: "string", Description: "Extracted value, empty when absent"},
	},
	Required: []string{"value"},
}

const planPrompt = `You are Empyre, the AI fitness coach. Based on the user profile, generate a complete workout split and meal plan in JSON, adhering to every guardrail:

1. Caloric deficit <= 40% of TDEE and never below BMR.
2. Protein >= 1.2 g/kg, fats >= 0.25 g/kg, carbs fill the remaining calories.
3. Reps per set: 1-25.
4. Sets per exercise: 1-6.
5. Weekly training volume <= training_days_per_week x 2.5 hours.
6. At least one compound exercise for each major muscle group (chest, back, legs, shoulders).
7. If BMI < 17 or > 40, or an injury is reported, include a medical disclaimer in notes.

Output ONLY valid JSON matching this schema:
{
  "split": {"type": "<string>", "days": {"Day 1": [{"exercise": "<name>", "sets": <int>, "reps": <int>}]}},
  "meals": {"target_macros": {"protein_g": <number>, "carbs_g": <number>, "fats_g": <number>}, "sample_day": {"Meal 1": "<description>"}},
  "notes": "<summary or disclaimer>"
}`

func planMessages(p *profile.Profile, b plan.Baseline, feedback []plan.Violation) []engine.Message {
	var sb strings.Builder
	sb.WriteString("Profile:\n")
	sb.WriteString(profileJSON(withoutPlan(p)))
	if b.TDEE > 0 {
		fmt.Fprintf(&sb, "\n\nComputed baseline: BMR %.0f kcal, TDEE %.0f kcal, minimum %.0f kcal/day, protein >= %.0f g, fats >= %.0f g, BMI %.1f.",
			b.BMR, b.TDEE, b.MinKcal(), b.MinProteinG(), b.MinFatG(), b.BMI)
	}
	if b.TrainingDaysPerWeek > 0 {
		fmt.Fprintf(&sb, "\nWeekly training time cap: %.1f hours over %d days.", float64(b.TrainingDaysPerWeek)*plan.MaxHoursPerDay, b.TrainingDaysPerWeek)
	}
	if b.NeedsDisclaimer() {
		sb.WriteString("\nA medical disclaimer in notes is REQUIRED for this user.")
	}
	if len(feedback) > 0 {
		sb.WriteString("\n\nYour previous plan was rejected. Fix every violation:")
		for _, v := range feedback {
			fmt.Fprintf(&sb, "\n- %s: %s", v.Rule, v.Detail)
		}
	}
	sb.WriteString("\n\nGenerate the plan now.")

	return []engine.Message{
		engine.System(planPrompt),
		engine.User(sb.String()),
	}
}

const steadyPrompt = `You are Empyre, the AI fitness coach, speaking with a Roman legion flavour. The user already has a plan and is either requesting a modification (tweak) or logging activity (log).
Return ONLY a JSON object:
{
  "kind": "tweak" | "log",
  "text": "<short reply to the user>",
  "plan_update": { <for tweaks: JSON merge patch against the current plan, e.g. {"split":{"days":{"Day 2":[...]}}}> },
  "log_type": "workout" | "measurement" | "goal",
  "log_data": { <for logs: structured details such as exercise, sets, reps, weight_kg, distance_km, note> }
}
A merge patch replaces whole arrays and deletes keys set to null.`

func steadyMessages(p *profile.Profile, message string) []engine.Message {
	return []engine.Message{
		engine.System(steadyPrompt),
		engine.User("Current plan:\n" + planJSON(p.Plan) + "\n\nMessage: " + message),
	}
}

var steadySchema = &engine.Schema{
	Name: "steady_action",
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"kind":        {Type: "string", Enum: []string{kindTweak, kindLog}},
		"text":        {Type: "string"},
		"plan_update": {Type: "object", Description: "JSON merge patch for tweaks"},
		"log_type":    {Type: "string", Enum: []string{LogWorkout, LogMeasurement, LogGoal}},
		"log_data":    {Type: "object", Description: "Activity details for logs"},
	},
	Required: []string{"kind", "text"},
}

func profileJSON(p *profile.Profile) string {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func planJSON(pl *plan.Plan) string {
	b, err := json.Marshal(pl)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func withoutPlan(p *profile.Profile) *profile.Profile {
	c := *p
	c.Plan = nil
	c.PlanUpdates = nil
	return &c
}
