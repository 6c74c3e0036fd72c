package profile

// DefaultMinAuxFields is the number of auxiliary answers that completes the
// auxiliary stage for a user who opted in.
const DefaultMinAuxFields = 2

// IsCoreComplete reports whether all six core fields are present.
func IsCoreComplete(p *Profile) bool {
	_, missing := MissingCoreField(p)
	return !missing
}

// MissingCoreField returns the first unanswered core field in collection order.
func MissingCoreField(p *Profile) (string, bool) {
	for _, f := range CoreFields {
		if !p.Has(f) {
			return f, true
		}
	}
	return "", false
}

// IsAuxComplete reports whether the auxiliary stage is finished. Opting out
// completes it vacuously; opting in requires at least minFields answers.
// An unanswered offer is never complete.
func IsAuxComplete(p *Profile, minFields int) bool {
	if p.AuxiliaryOptIn == nil {
		return false
	}
	if !*p.AuxiliaryOptIn {
		return true
	}
	if minFields <= 0 {
		minFields = DefaultMinAuxFields
	}
	return len(p.Auxiliary) >= minFields
}

// HasPlan reports whether an accepted plan is present.
func HasPlan(p *Profile) bool {
	return p.Plan != nil
}
