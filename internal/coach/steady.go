package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/empyre-fit/empyre/internal/llmjson"
	"github.com/empyre-fit/empyre/internal/metrics"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/profile"
	"github.com/empyre-fit/empyre/internal/storage"
)

const (
	kindTweak = "tweak"
	kindLog   = "log"
)

// Activity log types.
const (
	LogWorkout     = "workout"
	LogMeasurement = "measurement"
	LogGoal        = "goal"
)

// IsLogType reports whether t is a known activity log type.
func IsLogType(t string) bool {
	switch t {
	case LogWorkout, LogMeasurement, LogGoal:
		return true
	}
	return false
}

type steadyAction struct {
	Kind       string          `json:"kind"`
	Text       string          `json:"text"`
	PlanUpdate json.RawMessage `json:"plan_update"`
	LogType    string          `json:"log_type"`
	LogData    json.RawMessage `json:"log_data"`
}

// handleSteady classifies message as a plan tweak or an activity log.
// Tweaks are merged into the plan and re-validated before acceptance; logs
// leave the plan alone and are returned for recording after the save.
func (c *Coach) handleSteady(ctx context.Context, p *profile.Profile, message string) (*outcome, error) {
	if strings.TrimSpace(message) == "" {
		return &outcome{resp: &Response{Type: TypePlan, Plan: p.Plan, Text: "Here is your current plan."}}, nil
	}

	raw, err := c.llm.Chat(ctx, c.model, steadyMessages(p, message), steadySchema)
	if err != nil {
		return nil, fmt.Errorf("classifying message: %w", err)
	}
	var act steadyAction
	if err := llmjson.Decode(raw, &act); err != nil {
		return nil, &GenerationParseError{What: "steady-state action", Snippet: llmjson.Snippet(raw, 200), Err: err}
	}

	switch strings.ToLower(strings.TrimSpace(act.Kind)) {
	case kindTweak:
		return c.applyTweak(p, message, act)
	case kindLog:
		return c.recordLog(p, message, act)
	default:
		return nil, &GenerationParseError{
			What:    "steady-state action",
			Snippet: llmjson.Snippet(raw, 200),
			Err:     fmt.Errorf("unknown kind %q", act.Kind),
		}
	}
}

func (c *Coach) applyTweak(p *profile.Profile, message string, act steadyAction) (*outcome, error) {
	delta := act.PlanUpdate
	if !isJSONObject(delta) {
		return nil, &GenerationParseError{What: "plan update", Snippet: llmjson.Snippet(string(delta), 200), Err: errors.New("plan_update is not an object")}
	}

	updated, err := p.Plan.Apply(delta)
	if err != nil {
		return nil, &GenerationParseError{What: "plan update", Snippet: llmjson.Snippet(string(delta), 200), Err: err}
	}
	if err := c.generator.Validator().Validate(updated, c.generator.Baseline(p)); err != nil {
		var gv *plan.GuardrailViolationError
		if errors.As(err, &gv) {
			for _, v := range gv.Violations {
				metrics.RecordGuardrailViolation(v.Rule)
			}
		}
		return nil, err
	}

	p.Plan = updated
	p.PlanUpdates = append(p.PlanUpdates, profile.PlanUpdate{
		ID:          uuid.New().String(),
		RequestedAt: c.now().UTC(),
		Request:     message,
		Delta:       delta,
	})

	text := act.Text
	if text == "" {
		text = "Your plan has been updated."
	}
	return &outcome{
		resp:    &Response{Type: TypeConfirmation, Text: text, Plan: updated, PlanUpdate: delta},
		newPlan: true,
	}, nil
}

// recordLog keeps the model's structured log data when it is readable and
// always stores the user's own words under "note".
func (c *Coach) recordLog(p *profile.Profile, message string, act steadyAction) (*outcome, error) {
	logType := strings.ToLower(strings.TrimSpace(act.LogType))
	if !IsLogType(logType) {
		logType = LogWorkout
	}

	data := map[string]any{}
	if isJSONObject(act.LogData) {
		if err := json.Unmarshal(act.LogData, &data); err != nil {
			slog.Warn("activity data unreadable, logging message only",
				"user_id", p.UserID, "log_type", logType, "error", err)
			data = map[string]any{}
		}
	}
	if _, ok := data["note"]; !ok {
		data["note"] = message
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding activity data: %w", err)
	}

	text := act.Text
	if text == "" {
		text = fmt.Sprintf("Logged your %s. Keep marching, legionary!", logType)
	}
	return &outcome{
		resp: &Response{Type: TypeConfirmation, Text: text},
		activity: &storage.ProgressLog{
			ID:        uuid.New().String(),
			UserID:    p.UserID,
			LogType:   logType,
			LogData:   string(encoded),
			CreatedAt: c.now().UTC(),
		},
	}, nil
}

func isJSONObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "{") || s == "{}" {
		return false
	}
	return json.Valid(raw)
}
