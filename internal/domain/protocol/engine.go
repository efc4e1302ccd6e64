package protocol

import "fmt"

// Action is what an evaluation step did to the treatment set.
type Action string

const (
	ActionAdd        Action = "add"
	ActionContinue   Action = "continue"
	ActionDeactivate Action = "deactivate"
)

// StepReport describes the outcome of one evaluated step.
type StepReport struct {
	Protocol      string
	Index         int
	Order         Order
	ConditionsMet bool
	TargetMet     bool
	Action        Action
}

// TraceLine renders the report in the diagnostic sink format.
func (r StepReport) TraceLine() string {
	return fmt.Sprintf("conditions met: %t, target met: %t for treatment %s",
		r.ConditionsMet, r.TargetMet, r.Order)
}

type options struct {
	trace func(string)
	steps func(StepReport)
}

// Option configures an evaluation.
type Option func(*options)

// WithTrace installs a sink that receives one human readable line per step.
func WithTrace(sink func(string)) Option {
	return func(o *options) { o.trace = sink }
}

// WithStepHook installs a callback that receives a structured report per step.
func WithStepHook(hook func(StepReport)) Option {
	return func(o *options) { o.steps = hook }
}

// Evaluate walks the protocol in precedence order and returns the updated
// treatment set. Only the first step whose conditions hold and whose target
// is unmet, and whose treatment is not yet active, adds a treatment; the
// scan stops there. Every step whose target is met or whose conditions no
// longer hold deactivates its treatment.
func Evaluate(p Protocol, signs []Sign, current PatientTreatment, opts ...Option) PatientTreatment {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	set := current
	for i, step := range p.steps {
		rep := StepReport{
			Protocol:      p.name,
			Index:         i,
			Order:         step.Treatment.Order,
			ConditionsMet: ConditionsMet(step.Conditions, signs),
			TargetMet:     step.Treatment.Target.Met(signs),
		}

		stop := false
		switch {
		case rep.ConditionsMet && !rep.TargetMet:
			if set.Contains(step.Treatment) {
				rep.Action = ActionContinue
			} else {
				set = set.Add(step.Treatment)
				rep.Action = ActionAdd
				stop = true
			}
		default:
			set = set.Remove(step.Treatment)
			rep.Action = ActionDeactivate
		}

		o.emit(rep)
		if stop {
			break
		}
	}
	return set
}

// EvaluateAll runs several protocols against the same signs, feeding the
// result of each into the next.
func EvaluateAll(protocols []Protocol, signs []Sign, current PatientTreatment, opts ...Option) PatientTreatment {
	set := current
	for _, p := range protocols {
		set = Evaluate(p, signs, set, opts...)
	}
	return set
}

func (o options) emit(rep StepReport) {
	if o.trace != nil {
		o.trace(rep.TraceLine())
	}
	if o.steps != nil {
		o.steps(rep)
	}
}
