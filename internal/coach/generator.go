package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/llmjson"
	"github.com/empyre-fit/empyre/internal/metrics"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/profile"
)

const DefaultMaxPlanAttempts = 3

// GenerationParseError reports model output that could not be read as the
// requested document. The profile is left untouched.
type GenerationParseError struct {
	What    string // "plan", "plan update", ...
	Snippet string
	Err     error
}

func (e *GenerationParseError) Error() string {
	return fmt.Sprintf("unparseable %s from model: %v", e.What, e.Err)
}

func (e *GenerationParseError) Unwrap() error { return e.Err }

var planSchema = &engine.Schema{
	Name: "fitness_plan",
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"split": {Type: "object", Description: "type and days mapping Day N to exercises"},
		"meals": {Type: "object", Description: "target_macros and sample_day"},
		"notes": {Type: "string", Description: "summary or medical disclaimer"},
	},
	Required: []string{"split", "meals"},
}

// PlanGenerator asks the model for a plan and enforces the guardrails on
// what comes back.
type PlanGenerator struct {
	llm            Chatter
	model          string
	validator      *plan.Validator
	maxAttempts    int
	activityFactor float64
}

// NewPlanGenerator creates a generator. Non-positive maxAttempts and
// activityFactor fall back to the defaults.
func NewPlanGenerator(llm Chatter, model string, validator *plan.Validator, maxAttempts int, activityFactor float64) *PlanGenerator {
	if validator == nil {
		validator = plan.NewValidator()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPlanAttempts
	}
	if activityFactor <= 0 {
		activityFactor = plan.DefaultActivityFactor
	}
	return &PlanGenerator{
		llm:            llm,
		model:          model,
		validator:      validator,
		maxAttempts:    maxAttempts,
		activityFactor: activityFactor,
	}
}

// Baseline returns the energy baseline guardrails are checked against.
func (g *PlanGenerator) Baseline(p *profile.Profile) plan.Baseline {
	return p.Baseline(g.activityFactor)
}

// Validator returns the guardrail validator in use.
func (g *PlanGenerator) Validator() *plan.Validator { return g.validator }

// Generate returns a plan that passes every guardrail. A guardrail
// rejection is fed back to the model for the next attempt; after the last
// attempt the final *plan.GuardrailViolationError is returned. Unparseable
// output fails immediately with a *GenerationParseError.
func (g *PlanGenerator) Generate(ctx context.Context, p *profile.Profile) (*plan.Plan, error) {
	b := g.Baseline(p)

	var feedback []plan.Violation
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		raw, err := g.llm.Chat(ctx, g.model, planMessages(p, b, feedback), planSchema)
		if err != nil {
			metrics.RecordPlanGeneration("error")
			return nil, fmt.Errorf("generating plan: %w", err)
		}

		candidate, err := parsePlan(raw)
		if err != nil {
			metrics.RecordPlanGeneration("parse_error")
			slog.Warn("unparseable plan", "user_id", p.UserID, "attempt", attempt, "error", err)
			return nil, &GenerationParseError{What: "plan", Snippet: llmjson.Snippet(raw, 200), Err: err}
		}

		err = g.validator.Validate(candidate, b)
		if err == nil {
			metrics.RecordPlanGeneration("accepted")
			return candidate, nil
		}
		var gv *plan.GuardrailViolationError
		if !errors.As(err, &gv) {
			return nil, err
		}
		metrics.RecordPlanGeneration("rejected")
		for _, v := range gv.Violations {
			metrics.RecordGuardrailViolation(v.Rule)
		}
		slog.Warn("plan rejected by guardrails", "user_id", p.UserID, "attempt", attempt, "violations", len(gv.Violations))
		feedback = gv.Violations
		lastErr = err
	}
	return nil, lastErr
}

func parsePlan(raw string) (*plan.Plan, error) {
	doc := llmjson.Extract(raw)
	if doc == "" {
		return nil, llmjson.ErrNoJSON
	}
	return plan.Parse([]byte(doc))
}
