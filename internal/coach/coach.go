// Package coach runs the conversation: it resolves pending answers, derives
// the stage from the profile and executes that stage's action.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/llmjson"
	"github.com/empyre-fit/empyre/internal/metrics"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/profile"
	"github.com/empyre-fit/empyre/internal/storage"
)

// Response types.
const (
	TypeQuestion     = "question"
	TypeDecision     = "decision"
	TypePlan         = "plan"
	TypeConfirmation = "confirmation"
)

// ErrMissingUser is returned for a turn without a user id.
var ErrMissingUser = errors.New("user_id is required")

// Response is what one turn returns to the user.
type Response struct {
	Type       string          `json:"type"`
	Field      string          `json:"field,omitempty"`
	Text       string          `json:"text,omitempty"`
	Plan       *plan.Plan      `json:"plan,omitempty"`
	PlanUpdate json.RawMessage `json:"plan_update,omitempty"`
}

// TurnRequest is one incoming message with an optional manual patch.
type TurnRequest struct {
	UserID  string
	Message string
	Patch   map[string]any
}

// ProfileRepo loads and saves profiles under a per-user lock.
// Implemented by profile.Manager.
type ProfileRepo interface {
	Lock(ctx context.Context, userID string) (func(), error)
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	Save(ctx context.Context, p *profile.Profile, newPlan bool) error
}

// ActivityRecorder appends activity logged during steady state.
// Implemented by storage.Store.
type ActivityRecorder interface {
	AppendProgressLog(ctx context.Context, l storage.ProgressLog) error
}

// Config tunes the coach.
type Config struct {
	Model           string
	MinAuxFields    int
	MaxPlanAttempts int
	ActivityFactor  float64
}

// Coach is the turn-level entry point.
type Coach struct {
	profiles  ProfileRepo
	activity  ActivityRecorder
	llm       Chatter
	model     string
	extractor *FieldExtractor
	generator *PlanGenerator
	minAux    int
	now       func() time.Time
}

// New creates a Coach. activity may be nil, in which case logged activity
// is acknowledged but not recorded.
func New(profiles ProfileRepo, activity ActivityRecorder, llm Chatter, cfg Config) *Coach {
	minAux := cfg.MinAuxFields
	if minAux <= 0 {
		minAux = profile.DefaultMinAuxFields
	}
	return &Coach{
		profiles:  profiles,
		activity:  activity,
		llm:       llm,
		model:     cfg.Model,
		extractor: NewFieldExtractor(llm, cfg.Model),
		generator: NewPlanGenerator(llm, cfg.Model, plan.NewValidator(), cfg.MaxPlanAttempts, cfg.ActivityFactor),
		minAux:    minAux,
		now:       time.Now,
	}
}

// outcome is a stage action's result before persistence.
type outcome struct {
	resp     *Response
	newPlan  bool
	activity *storage.ProgressLog
}

// Turn processes one message for one user. The patch is merged and any
// pending answer resolved before the stage is evaluated, so a single turn
// can answer a question and advance. Nothing is persisted unless the whole
// turn succeeds.
func (c *Coach) Turn(ctx context.Context, req TurnRequest) (resp *Response, err error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUser
	}

	start := time.Now()
	var stage Stage
	defer func() {
		metrics.RecordTurn(string(stage), turnStatus(err), time.Since(start))
	}()

	unlock, err := c.profiles.Lock(ctx, req.UserID)
	if err != nil {
		return nil, engine.NewTransientError(fmt.Errorf("waiting for user lock: %w", err))
	}
	defer unlock()

	p, err := c.profiles.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := p.ApplyPatch(req.Patch); err != nil {
		return nil, fmt.Errorf("applying patch: %w", err)
	}
	if err := c.resolvePending(ctx, p, req.Message); err != nil {
		return nil, err
	}

	stage = Evaluate(p, c.minAux)
	out, err := c.act(ctx, &stage, p, req.Message)
	if err != nil {
		return nil, err
	}

	if err := c.profiles.Save(ctx, p, out.newPlan); err != nil {
		return nil, err
	}
	if out.activity != nil && c.activity != nil {
		if err := c.activity.AppendProgressLog(ctx, *out.activity); err != nil {
			return nil, fmt.Errorf("recording activity: %w: %w", profile.ErrStoreUnavailable, err)
		}
	}

	slog.Debug("turn complete", "user_id", req.UserID, "stage", stage, "type", out.resp.Type, "field", out.resp.Field)
	return out.resp, nil
}

// State returns the user's profile and the stage it is in without
// running a turn.
func (c *Coach) State(ctx context.Context, userID string) (*profile.Profile, Stage, error) {
	p, err := c.profiles.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return p, Evaluate(p, c.minAux), nil
}

// Patch merges patch into the user's profile under the per-user lock
// without running a turn. Nothing is saved if the patch is rejected.
func (c *Coach) Patch(ctx context.Context, userID string, patch map[string]any) (*profile.Profile, Stage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, "", ErrMissingUser
	}
	unlock, err := c.profiles.Lock(ctx, userID)
	if err != nil {
		return nil, "", engine.NewTransientError(fmt.Errorf("waiting for user lock: %w", err))
	}
	defer unlock()

	p, err := c.profiles.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if err := p.ApplyPatch(patch); err != nil {
		return nil, "", fmt.Errorf("applying patch: %w", err)
	}
	if err := c.profiles.Save(ctx, p, false); err != nil {
		return nil, "", err
	}
	return p, Evaluate(p, c.minAux), nil
}

// resolvePending assigns message as the answer to the pending question.
// An answer that cannot be extracted leaves the question pending.
func (c *Coach) resolvePending(ctx context.Context, p *profile.Profile, message string) error {
	field := p.PendingQuestion
	if field == "" || strings.TrimSpace(message) == "" {
		return nil
	}
	if p.Has(field) {
		p.PendingQuestion = ""
		return nil
	}

	if field == profile.FieldAuxOptIn {
		return p.SetField(field, strconv.FormatBool(IsAffirmative(message)))
	}

	value, ok, err := c.extractor.Extract(ctx, field, message)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("no answer extracted", "user_id", p.UserID, "field", field)
		return nil
	}
	if err := p.SetField(field, value); err != nil {
		if errors.Is(err, profile.ErrInvalidValue) {
			slog.Info("extracted value rejected", "user_id", p.UserID, "field", field, "value", value, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// act executes the action for *stage. The auxiliary stage hands over to
// plan generation when no further field can be proposed, updating *stage.
func (c *Coach) act(ctx context.Context, stage *Stage, p *profile.Profile, message string) (*outcome, error) {
	switch *stage {
	case StageCoreCollection:
		field, _ := profile.MissingCoreField(p)
		level, _ := p.Value(profile.FieldKnowledgeLevel)
		p.PendingQuestion = field
		return &outcome{resp: &Response{Type: TypeQuestion, Field: field, Text: CoreQuestion(field, level)}}, nil

	case StageAuxOffer:
		p.PendingQuestion = profile.FieldAuxOptIn
		return &outcome{resp: &Response{Type: TypeDecision, Field: profile.FieldAuxOptIn, Text: c.auxOfferText(ctx, p)}}, nil

	case StageAuxCollection:
		if field, text, ok := c.nextAuxField(ctx, p); ok {
			p.PendingQuestion = field
			return &outcome{resp: &Response{Type: TypeQuestion, Field: field, Text: text}}, nil
		}
		slog.Info("no auxiliary field left to ask", "user_id", p.UserID, "answered", len(p.Auxiliary))
		*stage = StagePlanGeneration
		return c.act(ctx, stage, p, message)

	case StagePlanGeneration:
		pl, err := c.generator.Generate(ctx, p)
		if err != nil {
			return nil, err
		}
		p.Plan = pl
		p.PendingQuestion = ""
		return &outcome{
			resp:    &Response{Type: TypePlan, Plan: pl, Text: "Here's your personalized plan! Ave, legionary."},
			newPlan: true,
		}, nil

	case StageSteadyState:
		return c.handleSteady(ctx, p, message)
	}
	return nil, fmt.Errorf("unknown stage %q", *stage)
}

func (c *Coach) auxOfferText(ctx context.Context, p *profile.Profile) string {
	raw, err := c.llm.Chat(ctx, c.model, auxOfferMessages(p), textSchema)
	if err != nil {
		slog.Warn("aux offer phrasing failed, using template", "user_id", p.UserID, "error", err)
		return auxOfferFallback
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := llmjson.Decode(raw, &out); err != nil || strings.TrimSpace(out.Text) == "" {
		slog.Warn("aux offer phrasing unusable, using template", "user_id", p.UserID, "error", err)
		return auxOfferFallback
	}
	return strings.TrimSpace(out.Text)
}

// auxFallback is asked, in order, when the model cannot propose a usable
// field.
var auxFallback = []struct{ field, text string }{
	{profile.AuxWeightKg, "What is your current body weight (kg or lb)?"},
	{profile.AuxHeightCm, "How tall are you (cm, or feet and inches)?"},
	{profile.AuxAgeYears, "How old are you?"},
	{profile.AuxSex, "What is your sex? It helps estimate your energy needs."},
	{"injuries", "Do you have any injuries or physical limitations I should plan around?"},
	{profile.AuxActivityLevel, "Outside training, how active is your day: sedentary, lightly active, active or very active?"},
	{"dietary_restrictions", "Do you follow any dietary restrictions or have food allergies?"},
	{"food_preferences", "Which foods do you enjoy and want to see in your meals?"},
	{"supplements", "Do you take any supplements?"},
	{"sleep_hours", "How many hours do you usually sleep per night?"},
	{"stress_level", "How would you rate your stress level: low, moderate or high?"},
	{"anatomy_focus", "Is there a body part you want to focus on?"},
}

// nextAuxField picks the next auxiliary field to ask about. The model
// chooses first; a name that is invalid, reserved or already answered falls
// back to the fixed list.
func (c *Coach) nextAuxField(ctx context.Context, p *profile.Profile) (field, text string, ok bool) {
	raw, err := c.llm.Chat(ctx, c.model, auxFieldMessages(p), auxFieldSchema)
	if err == nil {
		var out struct {
			Field string `json:"field"`
			Text  string `json:"text"`
		}
		if derr := llmjson.Decode(raw, &out); derr == nil {
			name := profile.NormalizeFieldName(out.Field)
			if usableAuxField(p, name) && strings.TrimSpace(out.Text) != "" {
				return name, strings.TrimSpace(out.Text), true
			}
			slog.Info("model proposed unusable aux field", "user_id", p.UserID, "field", out.Field)
		} else {
			slog.Warn("aux field proposal unparseable", "user_id", p.UserID, "error", derr)
		}
	} else {
		slog.Warn("aux field proposal failed, using fallback list", "user_id", p.UserID, "error", err)
	}

	for _, f := range auxFallback {
		if usableAuxField(p, f.field) {
			return f.field, f.text, true
		}
	}
	return "", "", false
}

func usableAuxField(p *profile.Profile, name string) bool {
	return name != "" &&
		!profile.IsReserved(name) &&
		!profile.IsCoreField(name) &&
		name != profile.FieldAuxOptIn &&
		!p.Has(name)
}

// affirmativeTokens are matched as case-insensitive substrings of the
// answer to the auxiliary offer. This is a heuristic, not language
// understanding: "not sure" counts as yes and "nah" as no.
var affirmativeTokens = []string{"yes", "yeah", "yep", "sure", "ok", "okay", "absolutely", "definitely", "let's"}

// IsAffirmative reports whether message accepts the auxiliary offer.
func IsAffirmative(message string) bool {
	lower := strings.ToLower(message)
	for _, t := range affirmativeTokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func turnStatus(err error) string {
	var gv *plan.GuardrailViolationError
	var pe *GenerationParseError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &gv):
		return "guardrail"
	case errors.As(err, &pe):
		return "parse_error"
	case engine.IsTransient(err), errors.Is(err, profile.ErrStoreUnavailable):
		return "retryable"
	default:
		return "error"
	}
}
