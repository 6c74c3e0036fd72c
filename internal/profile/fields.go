package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrReservedField is returned when a patch or extraction targets a
	// field the conversation manages itself.
	ErrReservedField = errors.New("reserved profile field")
	// ErrInvalidValue is returned when a value cannot be parsed for its field.
	ErrInvalidValue = errors.New("invalid profile field value")
)

var reservedFields = map[string]bool{
	"user_id":          true,
	"pending_question": true,
	"plan":             true,
	"plan_updates":     true,
	"auxiliary":        true,
}

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// IsReserved reports whether name is managed by the conversation and may
// not be written through a patch or chosen as an auxiliary field.
func IsReserved(name string) bool {
	return reservedFields[name]
}

// IsCoreField reports whether name is one of the six core fields.
func IsCoreField(name string) bool {
	for _, f := range CoreFields {
		if f == name {
			return true
		}
	}
	return false
}

// NormalizeFieldName lowercases name and converts spaces and dashes to
// underscores. It returns "" when the result is not a valid snake_case name.
func NormalizeFieldName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	if !fieldNamePattern.MatchString(name) {
		return ""
	}
	return name
}

// Has reports whether field has a value on the profile.
func (p *Profile) Has(field string) bool {
	switch field {
	case FieldInitialGoal:
		return p.InitialGoal != nil
	case FieldKnowledgeLevel:
		return p.KnowledgeLevel != nil
	case FieldExperienceYears:
		return p.ExperienceYears != nil
	case FieldTrainingDaysPerWeek:
		return p.TrainingDaysPerWeek != nil
	case FieldSessionLengthMin:
		return p.SessionLengthMin != nil
	case FieldEquipmentAccess:
		return p.EquipmentAccess != nil
	case FieldAuxOptIn:
		return p.AuxiliaryOptIn != nil
	}
	_, ok := p.Auxiliary[field]
	return ok
}

// Value returns field's value rendered as text.
func (p *Profile) Value(field string) (string, bool) {
	switch field {
	case FieldInitialGoal:
		return deref(p.InitialGoal)
	case FieldKnowledgeLevel:
		return deref(p.KnowledgeLevel)
	case FieldEquipmentAccess:
		return deref(p.EquipmentAccess)
	case FieldExperienceYears:
		if p.ExperienceYears == nil {
			return "", false
		}
		return strconv.FormatFloat(*p.ExperienceYears, 'f', -1, 64), true
	case FieldTrainingDaysPerWeek:
		if p.TrainingDaysPerWeek == nil {
			return "", false
		}
		return strconv.Itoa(*p.TrainingDaysPerWeek), true
	case FieldSessionLengthMin:
		if p.SessionLengthMin == nil {
			return "", false
		}
		return strconv.Itoa(*p.SessionLengthMin), true
	case FieldAuxOptIn:
		if p.AuxiliaryOptIn == nil {
			return "", false
		}
		return strconv.FormatBool(*p.AuxiliaryOptIn), true
	}
	v, ok := p.Auxiliary[field]
	return v, ok
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

// SetField parses value for field and assigns it. Core numeric fields are
// range-checked; any other non-reserved name is stored as an auxiliary field.
func (p *Profile) SetField(field, value string) error {
	if IsReserved(field) {
		return fmt.Errorf("%w: %s", ErrReservedField, field)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidValue, field)
	}

	switch field {
	case FieldInitialGoal:
		p.InitialGoal = ptr(value)
	case FieldKnowledgeLevel:
		p.KnowledgeLevel = ptr(strings.ToLower(value))
	case FieldEquipmentAccess:
		p.EquipmentAccess = ptr(value)
	case FieldExperienceYears:
		f, err := parseNumber(value)
		if err != nil || f < 0 || f > 80 {
			return fmt.Errorf("%w: %s must be a number of years between 0 and 80, got %q", ErrInvalidValue, field, value)
		}
		p.ExperienceYears = ptr(f)
	case FieldTrainingDaysPerWeek:
		n, err := parseInt(value)
		if err != nil || n < 1 || n > 7 {
			return fmt.Errorf("%w: %s must be between 1 and 7, got %q", ErrInvalidValue, field, value)
		}
		p.TrainingDaysPerWeek = ptr(n)
	case FieldSessionLengthMin:
		n, err := parseInt(value)
		if err != nil || n < 10 || n > 240 {
			return fmt.Errorf("%w: %s must be between 10 and 240 minutes, got %q", ErrInvalidValue, field, value)
		}
		p.SessionLengthMin = ptr(n)
	case FieldAuxOptIn:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false, got %q", ErrInvalidValue, field, value)
		}
		p.AuxiliaryOptIn = ptr(b)
	default:
		name := NormalizeFieldName(field)
		if name == "" || name != field {
			return fmt.Errorf("%w: field name %q is not snake_case", ErrInvalidValue, field)
		}
		if p.Auxiliary == nil {
			p.Auxiliary = make(map[string]string)
		}
		p.Auxiliary[field] = value
	}

	if p.PendingQuestion == field {
		p.PendingQuestion = ""
	}
	return nil
}

// clearField removes field's value. The auxiliary opt-in cannot be cleared.
func (p *Profile) clearField(field string) error {
	switch field {
	case FieldInitialGoal:
		p.InitialGoal = nil
	case FieldKnowledgeLevel:
		p.KnowledgeLevel = nil
	case FieldExperienceYears:
		p.ExperienceYears = nil
	case FieldTrainingDaysPerWeek:
		p.TrainingDaysPerWeek = nil
	case FieldSessionLengthMin:
		p.SessionLengthMin = nil
	case FieldEquipmentAccess:
		p.EquipmentAccess = nil
	case FieldAuxOptIn:
		return fmt.Errorf("%w: %s cannot be unset once answered", ErrInvalidValue, field)
	default:
		delete(p.Auxiliary, field)
	}
	return nil
}

// ApplyPatch merges patch into p with last-write-wins semantics. A null
// value clears the field. The patch is applied atomically: on error p is
// left unchanged.
func (p *Profile) ApplyPatch(patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := p.Clone()
	for _, key := range keys {
		field := NormalizeFieldName(key)
		if field == "" {
			return fmt.Errorf("%w: field name %q is not snake_case", ErrInvalidValue, key)
		}
		if IsReserved(field) {
			return fmt.Errorf("%w: %s", ErrReservedField, field)
		}

		raw := patch[key]
		if raw == nil {
			if err := next.clearField(field); err != nil {
				return err
			}
			continue
		}
		value, err := patchValueString(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err)
		}
		if err := next.SetField(field, value); err != nil {
			return err
		}
	}

	// A pending question whose field the patch answered is no longer pending.
	if next.PendingQuestion != "" && next.Has(next.PendingQuestion) {
		next.PendingQuestion = ""
	}
	*p = *next
	return nil
}

func patchValueString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case json.Number:
		return t.String(), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

var numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// parseNumber reads the first number in s ("3.5 years" -> 3.5).
func parseNumber(s string) (float64, error) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
}

func parseInt(s string) (int, error) {
	f, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	return int(f), nil
}
