package protocol

import "fmt"

// Predicate decides whether a single sign satisfies an aim.
type Predicate func(Sign) bool

// Target is an evaluable aim: a named predicate over the sign kinds it
// recognises. Signs of any other kind never disqualify it.
type Target struct {
	name  string
	kinds map[SignKind]struct{}
	pred  Predicate
}

// NewTarget builds a target from a predicate. When kinds is empty the
// predicate is applied to every sign and must itself be total.
func NewTarget(name string, pred Predicate, kinds ...SignKind) Target {
	t := Target{name: name, pred: pred}
	if len(kinds) > 0 {
		t.kinds = make(map[SignKind]struct{}, len(kinds))
		for _, k := range kinds {
			t.kinds[k] = struct{}{}
		}
	}
	return t
}

func (t Target) Name() string { return t.name }

func (t Target) String() string { return t.name }

// Recognises reports whether the target's predicate is defined for kind.
func (t Target) Recognises(kind SignKind) bool {
	if t.kinds == nil {
		return true
	}
	_, ok := t.kinds[kind]
	return ok
}

// Apply evaluates the target against one sign.
func (t Target) Apply(s Sign) bool {
	if t.pred == nil || !t.Recognises(s.Kind()) {
		return true
	}
	return t.pred(s)
}

// Met reports whether every sign satisfies the target. An empty collection
// is met.
func (t Target) Met(signs []Sign) bool {
	for _, s := range signs {
		if !t.Apply(s) {
			return false
		}
	}
	return true
}

// ConditionMode selects how a condition is checked against a sign collection.
type ConditionMode int

const (
	// PerSign requires Apply(sign) == expected for every sign.
	PerSign ConditionMode = iota
	// Exists requires at least one recognised sign with Apply(sign) == expected.
	Exists
	// Absent requires that no recognised sign has Apply(sign) == true.
	Absent
)

func (m ConditionMode) String() string {
	switch m {
	case Exists:
		return "has"
	case Absent:
		return "has-not"
	}
	return "per-sign"
}

// Condition is a precondition: a target together with the outcome it is
// expected to produce.
type Condition struct {
	Target   Target
	Expected bool
	Mode     ConditionMode
}

// NewCondition builds a per-sign condition.
func NewCondition(t Target, expected bool) Condition {
	return Condition{Target: t, Expected: expected}
}

// Is holds when the target is satisfied by every sign.
func Is(t Target) Condition { return NewCondition(t, true) }

// IsNot holds when the target is contradicted by every sign it recognises.
func IsNot(t Target) Condition { return NewCondition(t, false) }

// Has holds when some sign the target recognises satisfies it.
func Has(t Target) Condition { return Condition{Target: t, Expected: true, Mode: Exists} }

// HasNot holds when no sign the target recognises satisfies it, including
// when there are no such signs at all.
func HasNot(t Target) Condition { return Condition{Target: t, Expected: true, Mode: Absent} }

// Holds evaluates the condition against a single sign. Signs the target
// does not recognise hold whatever the expected outcome.
func (c Condition) Holds(s Sign) bool {
	if !c.Target.Recognises(s.Kind()) {
		return true
	}
	return c.Target.Apply(s) == c.Expected
}

// Met evaluates the condition against a sign collection.
func (c Condition) Met(signs []Sign) bool {
	switch c.Mode {
	case Exists:
		for _, s := range signs {
			if c.Target.Recognises(s.Kind()) && c.Holds(s) {
				return true
			}
		}
		return false
	case Absent:
		for _, s := range signs {
			if c.Target.Recognises(s.Kind()) && c.Target.Apply(s) {
				return false
			}
		}
		return true
	}
	for _, s := range signs {
		if !c.Holds(s) {
			return false
		}
	}
	return true
}

func (c Condition) String() string {
	switch c.Mode {
	case Exists:
		return fmt.Sprintf("has(%s)", c.Target.name)
	case Absent:
		return fmt.Sprintf("hasNot(%s)", c.Target.name)
	}
	if c.Expected {
		return c.Target.name
	}
	return "not(" + c.Target.name + ")"
}

// ConditionsMet reports whether every condition is met; no conditions is met.
func ConditionsMet(conds []Condition, signs []Sign) bool {
	for _, c := range conds {
		if !c.Met(signs) {
			return false
		}
	}
	return true
}
