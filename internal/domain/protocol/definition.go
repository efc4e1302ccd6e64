package protocol

import (
	"errors"
	"fmt"
)

var ErrInvalidDefinition = errors.New("invalid protocol definition")

// PredicateDefinition is a declarative, single-comparison predicate over one
// sign kind. Integer kinds accept lt, le, gt, ge, eq and ne against Value;
// boolean kinds accept is and not.
type PredicateDefinition struct {
	Name  string   `mapstructure:"name" json:"name,omitempty"`
	Kind  SignKind `mapstructure:"kind" json:"kind"`
	Op    string   `mapstructure:"op" json:"op"`
	Value int      `mapstructure:"value" json:"value,omitempty"`
}

// ConditionDefinition adds polarity and evaluation mode to a predicate.
// Mode is empty for per-sign evaluation, or "has" / "has-not".
type ConditionDefinition struct {
	PredicateDefinition `mapstructure:",squash"`
	Negate              bool   `mapstructure:"negate" json:"negate,omitempty"`
	Mode                string `mapstructure:"mode" json:"mode,omitempty"`
}

type StepDefinition struct {
	Order      Order                 `mapstructure:"order" json:"order"`
	Target     PredicateDefinition   `mapstructure:"target" json:"target"`
	Conditions []ConditionDefinition `mapstructure:"conditions" json:"conditions,omitempty"`
}

type Definition struct {
	Name  string           `mapstructure:"name" json:"name"`
	Steps []StepDefinition `mapstructure:"steps" json:"steps"`
}

// Build turns the definition into a validated protocol.
func (d Definition) Build() (Protocol, error) {
	if d.Name == "" {
		return Protocol{}, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if len(d.Steps) == 0 {
		return Protocol{}, fmt.Errorf("%w: protocol %s has no steps", ErrInvalidDefinition, d.Name)
	}
	p := NewProtocol(d.Name)
	for i, sd := range d.Steps {
		target, err := sd.Target.Build()
		if err != nil {
			return Protocol{}, fmt.Errorf("protocol %s step %d target: %w", d.Name, i, err)
		}
		conds := make([]Condition, 0, len(sd.Conditions))
		for j, cd := range sd.Conditions {
			c, err := cd.Build()
			if err != nil {
				return Protocol{}, fmt.Errorf("protocol %s step %d condition %d: %w", d.Name, i, j, err)
			}
			conds = append(conds, c)
		}
		p = p.Append(NewStep(NewTreatment(target, sd.Order), conds...))
	}
	if err := p.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

func (cd ConditionDefinition) Build() (Condition, error) {
	t, err := cd.PredicateDefinition.Build()
	if err != nil {
		return Condition{}, err
	}
	switch cd.Mode {
	case "":
		return NewCondition(t, !cd.Negate), nil
	case "has":
		if cd.Negate {
			return HasNot(t), nil
		}
		return Has(t), nil
	case "has-not":
		if cd.Negate {
			return Has(t), nil
		}
		return HasNot(t), nil
	}
	return Condition{}, fmt.Errorf("%w: unknown condition mode %q", ErrInvalidDefinition, cd.Mode)
}

func (pd PredicateDefinition) Build() (Target, error) {
	if !pd.Kind.Valid() {
		return Target{}, fmt.Errorf("%w: unknown sign kind %q", ErrInvalidDefinition, pd.Kind)
	}
	name := pd.Name
	if pd.Kind.IsNumeric() {
		cmp, ok := intComparators[pd.Op]
		if !ok {
			return Target{}, fmt.Errorf("%w: operator %q not allowed for %s", ErrInvalidDefinition, pd.Op, pd.Kind)
		}
		if name == "" {
			name = fmt.Sprintf("%s %s %d", pd.Kind, pd.Op, pd.Value)
		}
		v := pd.Value
		return NewTarget(name, func(s Sign) bool {
			n, _ := s.Int()
			return cmp(n, v)
		}, pd.Kind), nil
	}

	var want bool
	switch pd.Op {
	case "is":
		want = true
	case "not":
	default:
		return Target{}, fmt.Errorf("%w: operator %q not allowed for %s", ErrInvalidDefinition, pd.Op, pd.Kind)
	}
	if name == "" {
		name = fmt.Sprintf("%s %s", pd.Kind, pd.Op)
	}
	return NewTarget(name, func(s Sign) bool {
		b, _ := s.Bool()
		return b == want
	}, pd.Kind), nil
}

var intComparators = map[string]func(a, b int) bool{
	"lt": func(a, b int) bool { return a < b },
	"le": func(a, b int) bool { return a <= b },
	"gt": func(a, b int) bool { return a > b },
	"ge": func(a, b int) bool { return a >= b },
	"eq": func(a, b int) bool { return a == b },
	"ne": func(a, b int) bool { return a != b },
}
