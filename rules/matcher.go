package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/event"
)

// Provider supplies the current rule set. The loader implements it;
// tests can use a StaticProvider.
type Provider interface {
	Rules() []Rule
}

// StaticProvider wraps a fixed rule slice.
type StaticProvider []Rule

func (p StaticProvider) Rules() []Rule {
	return p
}

// Matcher evaluates change events against the active rule set.
type Matcher struct {
	provider Provider
}

// NewMatcher creates a matcher reading rules through the provider.
func NewMatcher(provider Provider) *Matcher {
	return &Matcher{provider: provider}
}

// Match returns one ActionIntent per matching rule, in priority order.
// fields holds the record's current values so conditions can express
// both "did this change" and "is the record currently in state X".
// Unrecognized event kinds match nothing; that is a forward-compatible
// no-op, not an error.
func (m *Matcher) Match(evt event.ChangeEvent, fields map[string]string) []action.Intent {
	matched := make([]Rule, 0, 4)
	for _, rule := range m.provider.Rules() {
		if rule.Disabled {
			continue
		}
		if rule.TableID != evt.TableID || rule.Trigger != evt.Type {
			continue
		}
		if !scopeIntersects(rule.FieldScope, evt) {
			continue
		}
		if !conditionsHold(rule.Conditions, evt, fields) {
			continue
		}
		matched = append(matched, rule)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	intents := make([]action.Intent, 0, len(matched))
	for _, rule := range matched {
		intents = append(intents, action.Intent{
			RuleID: rule.ID,
			Spec:   rule.Action,
			Context: map[string]string{
				"table_id":  evt.TableID,
				"record_id": evt.RecordID,
				"event":     string(evt.Type),
				"origin":    string(evt.Origin),
			},
		})
	}
	return intents
}

// scopeIntersects reports whether the rule's field scope overlaps the
// event's touched set. An empty scope means all fields.
func scopeIntersects(scope []string, evt event.ChangeEvent) bool {
	if len(scope) == 0 {
		return true
	}
	for _, field := range scope {
		if evt.Touched(field) {
			return true
		}
	}
	return false
}

func conditionsHold(conditions []Condition, evt event.ChangeEvent, fields map[string]string) bool {
	for _, cond := range conditions {
		if !evaluate(cond, evt, fields) {
			return false
		}
	}
	return true
}

func evaluate(cond Condition, evt event.ChangeEvent, fields map[string]string) bool {
	value, present := fields[cond.Field]

	switch cond.Op {
	case OpChanged:
		return evt.Touched(cond.Field)
	case OpEq:
		return present && value == cond.Value
	case OpNeq:
		return !present || value != cond.Value
	case OpContains:
		return present && strings.Contains(value, cond.Value)
	case OpEmpty:
		return !present || value == ""
	case OpNotEmpty:
		return present && value != ""
	case OpGt, OpLt:
		if !present {
			return false
		}
		current, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		threshold, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false
		}
		if cond.Op == OpGt {
			return current > threshold
		}
		return current < threshold
	default:
		return false
	}
}
