package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInconsistentTreatment = errors.New("order reused with a different target")
	ErrEmptyOrder            = errors.New("treatment order is empty")
)

// Step is one rung of a protocol: when all conditions hold, the treatment's
// target decides whether the treatment should be active.
type Step struct {
	Conditions []Condition
	Treatment  Treatment
}

func NewStep(t Treatment, conds ...Condition) Step {
	return Step{Conditions: append([]Condition(nil), conds...), Treatment: t}
}

// Protocol is an ordered escalation ladder. Earlier steps take precedence.
type Protocol struct {
	name  string
	steps []Step
}

func NewProtocol(name string, steps ...Step) Protocol {
	return Protocol{name: name, steps: append([]Step(nil), steps...)}
}

func (p Protocol) Name() string { return p.name }

func (p Protocol) Len() int { return len(p.steps) }

// Steps returns a copy of the protocol's steps in precedence order.
func (p Protocol) Steps() []Step { return append([]Step(nil), p.steps...) }

// Append returns a protocol extended with one more step at the lowest
// precedence. The receiver is left untouched.
func (p Protocol) Append(s Step) Protocol {
	steps := make([]Step, len(p.steps), len(p.steps)+1)
	copy(steps, p.steps)
	return Protocol{name: p.name, steps: append(steps, s)}
}

// Orders lists the orders the protocol may prescribe, in step order.
func (p Protocol) Orders() []Order {
	seen := make(map[Order]struct{}, len(p.steps))
	var out []Order
	for _, s := range p.steps {
		if _, ok := seen[s.Treatment.Order]; ok {
			continue
		}
		seen[s.Treatment.Order] = struct{}{}
		out = append(out, s.Treatment.Order)
	}
	return out
}

// Validate checks that every step names an order and that no order is
// paired with two different targets.
func (p Protocol) Validate() error {
	targets := make(map[Order]int, len(p.steps))
	for i, s := range p.steps {
		if s.Treatment.Order == "" {
			return fmt.Errorf("protocol %s step %d: %w", p.name, i, ErrEmptyOrder)
		}
		if j, ok := targets[s.Treatment.Order]; ok {
			if p.steps[j].Treatment.Target.Name() != s.Treatment.Target.Name() {
				return fmt.Errorf("protocol %s steps %d and %d (%s): %w",
					p.name, j, i, s.Treatment.Order, ErrInconsistentTreatment)
			}
			continue
		}
		targets[s.Treatment.Order] = i
	}
	return nil
}
