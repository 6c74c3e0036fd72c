package coach

import "github.com/empyre-fit/empyre/internal/profile"

// Stage is the conversation state derived from a profile. It is never
// stored; Evaluate recomputes it on every turn.
type Stage string

const (
	StageCoreCollection Stage = "core_collection"
	StageAuxOffer       Stage = "aux_offer"
	StageAuxCollection  Stage = "aux_collection"
	StagePlanGeneration Stage = "plan_generation"
	StageSteadyState    Stage = "steady_state"
)

// Evaluate returns the active stage for p. minAuxFields is the auxiliary
// answer count that completes the optional stage.
func Evaluate(p *profile.Profile, minAuxFields int) Stage {
	switch {
	case !profile.IsCoreComplete(p):
		return StageCoreCollection
	case p.AuxiliaryOptIn == nil:
		return StageAuxOffer
	case *p.AuxiliaryOptIn && !profile.IsAuxComplete(p, minAuxFields):
		return StageAuxCollection
	case !profile.HasPlan(p):
		return StagePlanGeneration
	default:
		return StageSteadyState
	}
}
