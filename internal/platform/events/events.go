// Package events defines the treatment-change notifications fanned out to
// websocket subscribers and the message broker.
package events

import (
	"context"
	"errors"
	"time"
)

const (
	TypeTreatmentAdded   = "treatment.added"
	TypeTreatmentRemoved = "treatment.removed"
)

// Event is one change to a patient's treatment set.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Topic        string    `json:"topic"`
	Patient      string    `json:"patient"`
	Order        string    `json:"order"`
	Target       string    `json:"target,omitempty"`
	EvaluationID string    `json:"evaluationId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PatientTopic is the topic carrying events for one patient.
func PatientTopic(patient string) string {
	return "patient/" + patient
}

// AllPatients receives every patient's events.
const AllPatients = "patient/*"

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout publishes to every member and joins their errors. A failing member
// does not stop the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
