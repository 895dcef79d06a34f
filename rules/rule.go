// Package rules holds the declarative automation rules and the matcher
// that turns change events into action intents. Rules are
// configuration: the engine only ever reads them.
package rules

import (
	"strconv"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/errors"
	"github.com/teranos/trellis/event"
)

// Op is a condition operator over a record's current field values and
// the event's touched-field set.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpEmpty    Op = "empty"
	OpNotEmpty Op = "not_empty"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	// OpChanged matches when the field is in the event's touched set,
	// regardless of its current value.
	OpChanged Op = "changed"
)

// Condition is one predicate; a rule's conditions AND together.
type Condition struct {
	Field string `yaml:"field"`
	Op    Op     `yaml:"op"`
	Value string `yaml:"value,omitempty"`
}

// Rule declares which events it reacts to and what action results.
type Rule struct {
	ID       string    `yaml:"id"`
	TableID  string    `yaml:"table_id"`
	Trigger  event.Type `yaml:"trigger"`
	// FieldScope limits the rule to events touching these fields.
	// Empty means all fields.
	FieldScope []string    `yaml:"field_scope,omitempty"`
	Conditions []Condition `yaml:"conditions,omitempty"`
	// Priority orders evaluation; lower fires first. Execution stays
	// independent per rule either way.
	Priority int         `yaml:"priority,omitempty"`
	Action   action.Spec `yaml:"action"`
	Disabled bool        `yaml:"disabled,omitempty"`
}

// Validate checks a rule for structural problems at load time so a bad
// rule file is rejected as a whole instead of misfiring at runtime.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.NewInvalidRequestError("rule missing id")
	}
	if r.TableID == "" {
		return errors.NewInvalidRequestError("rule %s missing table_id", r.ID)
	}
	switch r.Trigger {
	case event.TypeRecordChanged, event.TypeFieldChanged:
	default:
		return errors.NewInvalidRequestError("rule %s has unknown trigger %q", r.ID, r.Trigger)
	}
	switch r.Action.Type {
	case action.SpecNotify, action.SpecRecordWrite, action.SpecScheduleFollowup:
	default:
		return errors.NewInvalidRequestError("rule %s has unknown action type %q", r.ID, r.Action.Type)
	}
	for _, cond := range r.Conditions {
		if cond.Field == "" {
			return errors.NewInvalidRequestError("rule %s has condition without field", r.ID)
		}
		switch cond.Op {
		case OpEq, OpNeq, OpContains, OpEmpty, OpNotEmpty, OpGt, OpLt, OpChanged:
		default:
			return errors.NewInvalidRequestError("rule %s has unknown condition op %q", r.ID, cond.Op)
		}
		if cond.Op == OpGt || cond.Op == OpLt {
			if _, err := strconv.ParseFloat(cond.Value, 64); err != nil {
				return errors.NewInvalidRequestError("rule %s condition on %s needs numeric value, got %q", r.ID, cond.Field, cond.Value)
			}
		}
	}
	return nil
}

// ReferencesField reports whether the rule's field scope or any
// condition names the given field. The schema watcher uses this to
// decide whether a schema change affects active rules.
func (r Rule) ReferencesField(field string) bool {
	for _, scoped := range r.FieldScope {
		if scoped == field {
			return true
		}
	}
	for _, cond := range r.Conditions {
		if cond.Field == field {
			return true
		}
	}
	return false
}
