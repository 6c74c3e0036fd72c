package profile

import (
	"encoding/json"
	"time"

	"github.com/empyre-fit/empyre/internal/plan"
)

// Core field names, in the order they are collected.
const (
	FieldInitialGoal         = "initial_goal"
	FieldKnowledgeLevel      = "knowledge_level"
	FieldExperienceYears     = "experience_years"
	FieldTrainingDaysPerWeek = "training_days_per_week"
	FieldSessionLengthMin    = "session_length_min"
	FieldEquipmentAccess     = "equipment_access"
)

// FieldAuxOptIn is the pending-question marker for the auxiliary offer.
const FieldAuxOptIn = "auxiliary_opt_in"

// CoreFields lists the core fields in collection order.
var CoreFields = []string{
	FieldInitialGoal,
	FieldKnowledgeLevel,
	FieldExperienceYears,
	FieldTrainingDaysPerWeek,
	FieldSessionLengthMin,
	FieldEquipmentAccess,
}

// Profile is everything the coach knows about one user. Core fields are
// typed and nil until answered; auxiliary fields are an open mapping whose
// names are chosen during the conversation.
type Profile struct {
	UserID string `json:"user_id"`

	InitialGoal         *string  `json:"initial_goal,omitempty"`
	KnowledgeLevel      *string  `json:"knowledge_level,omitempty"`
	ExperienceYears     *float64 `json:"experience_years,omitempty"`
	TrainingDaysPerWeek *int     `json:"training_days_per_week,omitempty"`
	SessionLengthMin    *int     `json:"session_length_min,omitempty"`
	EquipmentAccess     *string  `json:"equipment_access,omitempty"`

	// AuxiliaryOptIn is nil until the user answers the auxiliary offer and
	// never returns to nil afterwards.
	AuxiliaryOptIn *bool             `json:"auxiliary_opt_in,omitempty"`
	Auxiliary      map[string]string `json:"auxiliary,omitempty"`

	PendingQuestion string `json:"pending_question,omitempty"`

	Plan        *plan.Plan   `json:"plan,omitempty"`
	PlanUpdates []PlanUpdate `json:"plan_updates,omitempty"`
}

// PlanUpdate records an accepted steady-state tweak. Entries are append-only.
type PlanUpdate struct {
	ID          string          `json:"id"`
	RequestedAt time.Time       `json:"requested_at"`
	Request     string          `json:"request"`
	Delta       json.RawMessage `json:"delta"`
}

// New returns an empty profile for userID.
func New(userID string) *Profile {
	return &Profile{UserID: userID}
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.InitialGoal = clonePtr(p.InitialGoal)
	c.KnowledgeLevel = clonePtr(p.KnowledgeLevel)
	c.ExperienceYears = clonePtr(p.ExperienceYears)
	c.TrainingDaysPerWeek = clonePtr(p.TrainingDaysPerWeek)
	c.SessionLengthMin = clonePtr(p.SessionLengthMin)
	c.EquipmentAccess = clonePtr(p.EquipmentAccess)
	c.AuxiliaryOptIn = clonePtr(p.AuxiliaryOptIn)
	if p.Auxiliary != nil {
		c.Auxiliary = make(map[string]string, len(p.Auxiliary))
		for k, v := range p.Auxiliary {
			c.Auxiliary[k] = v
		}
	}
	c.Plan = p.Plan.Clone()
	if p.PlanUpdates != nil {
		c.PlanUpdates = make([]PlanUpdate, len(p.PlanUpdates))
		for i, u := range p.PlanUpdates {
			u.Delta = append(json.RawMessage(nil), u.Delta...)
			c.PlanUpdates[i] = u
		}
	}
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func ptr[T any](v T) *T { return &v }
