package protocol

import (
	"sort"

	"github.com/goccy/go-json"
)

// Order labels a prescribable action. Orders compare by label.
type Order string

func (o Order) String() string { return string(o) }

// Treatment pairs an order with the target it aims to satisfy. Two
// treatments are the same treatment when their orders are equal.
type Treatment struct {
	Target Target
	Order  Order
}

func NewTreatment(t Target, o Order) Treatment {
	return Treatment{Target: t, Order: o}
}

// Same reports whether both treatments carry the same order.
func (t Treatment) Same(other Treatment) bool { return t.Order == other.Order }

func (t Treatment) String() string {
	return t.Order.String() + " for " + t.Target.Name()
}

func (t Treatment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Order  Order  `json:"order"`
		Target string `json:"target"`
	}{t.Order, t.Target.Name()})
}

// PatientTreatment is the set of treatments currently active for a patient.
// Values are never mutated in place: Add and Remove return new sets.
type PatientTreatment struct {
	patient Patient
	byOrder map[Order]Treatment
	seq     []Order
}

func NewPatientTreatment(p Patient, treatments ...Treatment) PatientTreatment {
	pt := PatientTreatment{patient: p}
	for _, t := range treatments {
		pt = pt.Add(t)
	}
	return pt
}

func (pt PatientTreatment) Patient() Patient { return pt.patient }

func (pt PatientTreatment) Len() int { return len(pt.seq) }

// Has reports whether a treatment with this order is active.
func (pt PatientTreatment) Has(o Order) bool {
	_, ok := pt.byOrder[o]
	return ok
}

// Contains reports whether a treatment with the same order is active.
func (pt PatientTreatment) Contains(t Treatment) bool { return pt.Has(t.Order) }

// Get returns the stored treatment for an order.
func (pt PatientTreatment) Get(o Order) (Treatment, bool) {
	t, ok := pt.byOrder[o]
	return t, ok
}

// Add returns a set that includes t. If a treatment with the same order is
// already present the receiver is returned unchanged, keeping the stored
// target.
func (pt PatientTreatment) Add(t Treatment) PatientTreatment {
	if pt.Has(t.Order) {
		return pt
	}
	next := pt.clone(len(pt.seq) + 1)
	next.byOrder[t.Order] = t
	next.seq = append(next.seq, t.Order)
	return next
}

// Remove returns a set without any treatment sharing t's order.
func (pt PatientTreatment) Remove(t Treatment) PatientTreatment {
	return pt.RemoveOrder(t.Order)
}

func (pt PatientTreatment) RemoveOrder(o Order) PatientTreatment {
	if !pt.Has(o) {
		return pt
	}
	next := pt.clone(len(pt.seq))
	delete(next.byOrder, o)
	next.seq = next.seq[:0]
	for _, existing := range pt.seq {
		if existing != o {
			next.seq = append(next.seq, existing)
		}
	}
	return next
}

// Treatments lists the active treatments in activation order.
func (pt PatientTreatment) Treatments() []Treatment {
	out := make([]Treatment, 0, len(pt.seq))
	for _, o := range pt.seq {
		out = append(out, pt.byOrder[o])
	}
	return out
}

// Orders lists the active orders in activation order.
func (pt PatientTreatment) Orders() []Order {
	return append([]Order(nil), pt.seq...)
}

// SortedOrders lists the active orders alphabetically.
func (pt PatientTreatment) SortedOrders() []Order {
	out := pt.Orders()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal compares the two sets by order only.
func (pt PatientTreatment) Equal(other PatientTreatment) bool {
	if pt.Len() != other.Len() {
		return false
	}
	for _, o := range pt.seq {
		if !other.Has(o) {
			return false
		}
	}
	return true
}

// Diff returns the orders present in next but not in pt, and those present
// in pt but not in next.
func (pt PatientTreatment) Diff(next PatientTreatment) (added, removed []Order) {
	for _, o := range next.seq {
		if !pt.Has(o) {
			added = append(added, o)
		}
	}
	for _, o := range pt.seq {
		if !next.Has(o) {
			removed = append(removed, o)
		}
	}
	return added, removed
}

func (pt PatientTreatment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Patient    Patient     `json:"patient"`
		Treatments []Treatment `json:"treatments"`
	}{pt.patient, pt.Treatments()})
}

func (pt PatientTreatment) clone(capacity int) PatientTreatment {
	next := PatientTreatment{
		patient: pt.patient,
		byOrder: make(map[Order]Treatment, capacity),
		seq:     make([]Order, len(pt.seq), capacity),
	}
	for o, t := range pt.byOrder {
		next.byOrder[o] = t
	}
	copy(next.seq, pt.seq)
	return next
}
