package treatment

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/txengine/internal/domain/protocol"
)

// Record is one active treatment as stored in patient_treatment.
type Record struct {
	Patient     string    `json:"patient"`
	Order       string    `json:"order"`
	Target      string    `json:"target"`
	ActivatedAt time.Time `json:"activated_at"`
}

// EvaluateInput is a request to run protocols against a patient's signs.
type EvaluateInput struct {
	Patient   protocol.Patient
	Protocols []string
	Signs     []protocol.Sign
}

// Evaluation is the outcome of one Service.Evaluate call.
type Evaluation struct {
	ID          uuid.UUID            `json:"id"`
	Patient     protocol.Patient     `json:"patient"`
	Protocols   []string             `json:"protocols"`
	Signs       []protocol.Sign      `json:"signs"`
	Before      []protocol.Treatment `json:"before"`
	After       []protocol.Treatment `json:"after"`
	Added       []protocol.Order     `json:"added"`
	Removed     []protocol.Order     `json:"removed"`
	Trace       []string             `json:"trace"`
	EvaluatedAt time.Time            `json:"evaluated_at"`
}

// Changed reports whether the evaluation altered the treatment set.
func (e *Evaluation) Changed() bool {
	return len(e.Added) > 0 || len(e.Removed) > 0
}

// Current is a patient's active treatment set with activation times.
type Current struct {
	Patient    protocol.Patient `json:"patient"`
	Treatments []Record         `json:"treatments"`
}

// ProtocolView describes a catalog protocol for API clients.
type ProtocolView struct {
	Name  string     `json:"name"`
	Steps []StepView `json:"steps"`
}

type StepView struct {
	Order      protocol.Order `json:"order"`
	Target     string         `json:"target"`
	Conditions []string       `json:"conditions"`
}

func NewProtocolView(p protocol.Protocol) ProtocolView {
	v := ProtocolView{Name: p.Name(), Steps: make([]StepView, 0, p.Len())}
	for _, s := range p.Steps() {
		conds := make([]string, 0, len(s.Conditions))
		for _, c := range s.Conditions {
			conds = append(conds, c.String())
		}
		v.Steps = append(v.Steps, StepView{
			Order:      s.Treatment.Order,
			Target:     s.Treatment.Target.Name(),
			Conditions: conds,
		})
	}
	return v
}

// targetIndex maps every order in the catalog to the target its steps use,
// so stored rows can be turned back into evaluable treatments.
type targetIndex map[protocol.Order]protocol.Target

func newTargetIndex(c *protocol.Catalog) targetIndex {
	idx := targetIndex{}
	for _, name := range c.Names() {
		p, _ := c.Get(name)
		for _, s := range p.Steps() {
			if _, ok := idx[s.Treatment.Order]; !ok {
				idx[s.Treatment.Order] = s.Treatment.Target
			}
		}
	}
	return idx
}

// treatment rebuilds the treatment for a stored record. Orders no longer in
// the catalog keep their recorded target name with an always-met predicate;
// the engine only consults targets of the steps it walks.
func (idx targetIndex) treatment(r Record) protocol.Treatment {
	o := protocol.Order(r.Order)
	if t, ok := idx[o]; ok {
		return protocol.NewTreatment(t, o)
	}
	return protocol.NewTreatment(protocol.NewTarget(r.Target, nil), o)
}

func (idx targetIndex) patientTreatment(p protocol.Patient, records []Record) protocol.PatientTreatment {
	ts := make([]protocol.Treatment, 0, len(records))
	for _, r := range records {
		ts = append(ts, idx.treatment(r))
	}
	return protocol.NewPatientTreatment(p, ts...)
}

func recordsFor(pt protocol.PatientTreatment, orders []protocol.Order, at time.Time) []Record {
	out := make([]Record, 0, len(orders))
	for _, o := range orders {
		t, ok := pt.Get(o)
		if !ok {
			continue
		}
		out = append(out, Record{
			Patient:     pt.Patient().String(),
			Order:       o.String(),
			Target:      t.Target.Name(),
			ActivatedAt: at,
		})
	}
	return out
}
