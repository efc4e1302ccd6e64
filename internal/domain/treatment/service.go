package treatment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/txengine/internal/domain/protocol"
	"github.com/ehr/txengine/internal/platform/events"
	"github.com/ehr/txengine/internal/platform/lock"
)

var (
	ErrPatientRequired = errors.New("patient is required")
	ErrNoProtocols     = errors.New("at least one protocol is required")
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrNotFound        = errors.New("treatment not found")
)

type Service struct {
	repo      Repository
	catalog   *protocol.Catalog
	locker    lock.Locker
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, catalog *protocol.Catalog, locker lock.Locker, publisher events.Publisher, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:      repo,
		catalog:   catalog,
		locker:    locker,
		publisher: publisher,
		logger:    logger.With().Str("component", "treatment").Logger(),
		now:       time.Now,
	}
}

// resolve looks up the named protocols, preserving request order.
func (s *Service) resolve(names []string) ([]protocol.Protocol, error) {
	if len(names) == 0 {
		return nil, ErrNoProtocols
	}
	out := make([]protocol.Protocol, 0, len(names))
	for _, name := range names {
		p, ok := s.catalog.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
		}
		out = append(out, p)
	}
	return out, nil
}

func lockKey(p protocol.Patient) string { return "patient:" + p.String() }

// Evaluate runs the requested protocols, in order, against the signs and the
// patient's stored treatments, then stores the new set. Evaluations of the
// same patient are serialised through the locker.
func (s *Service) Evaluate(ctx context.Context, in EvaluateInput) (*Evaluation, error) {
	if in.Patient == "" {
		return nil, ErrPatientRequired
	}
	protocols, err := s.resolve(in.Protocols)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKey(in.Patient))
	if err != nil {
		return nil, fmt.Errorf("lock patient %s: %w", in.Patient, err)
	}
	defer unlock()

	ev := &Evaluation{
		ID:        uuid.New(),
		Patient:   in.Patient,
		Protocols: append([]string(nil), in.Protocols...),
		Signs:     append([]protocol.Sign{}, in.Signs...),
		Trace:     []string{},
	}
	log := s.logger.With().Str("patient", in.Patient.String()).Str("evaluation_id", ev.ID.String()).Logger()

	hook := protocol.WithStepHook(func(rep protocol.StepReport) {
		line := rep.TraceLine()
		ev.Trace = append(ev.Trace, line)
		log.Debug().
			Str("protocol", rep.Protocol).
			Int("step", rep.Index).
			Str("action", string(rep.Action)).
			Msg(line)
	})

	var before, after protocol.PatientTreatment
	idx := newTargetIndex(s.catalog)
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		records, err := s.repo.Load(ctx, in.Patient)
		if err != nil {
			return fmt.Errorf("load treatments: %w", err)
		}
		before = idx.patientTreatment(in.Patient, records)
		after = protocol.EvaluateAll(protocols, in.Signs, before, hook)

		ev.EvaluatedAt = s.now().UTC()
		ev.Added, ev.Removed = before.Diff(after)
		if !ev.Changed() {
			return nil
		}
		if err := s.repo.Save(ctx, in.Patient, recordsFor(after, ev.Added, ev.EvaluatedAt), ev.Removed); err != nil {
			return fmt.Errorf("save treatments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev.Before = before.Treatments()
	ev.After = after.Treatments()
	if ev.Added == nil {
		ev.Added = []protocol.Order{}
	}
	if ev.Removed == nil {
		ev.Removed = []protocol.Order{}
	}

	for _, o := range ev.Added {
		t, _ := after.Get(o)
		s.publish(ctx, events.TypeTreatmentAdded, in.Patient, t, ev)
	}
	for _, o := range ev.Removed {
		t, _ := before.Get(o)
		s.publish(ctx, events.TypeTreatmentRemoved, in.Patient, t, ev)
	}

	log.Info().
		Strs("protocols", ev.Protocols).
		Int("added", len(ev.Added)).
		Int("removed", len(ev.Removed)).
		Msg("treatments evaluated")
	return ev, nil
}

// publish notifies subscribers after the change is committed. Delivery
// failures are logged; the stored set is already authoritative.
func (s *Service) publish(ctx context.Context, typ string, p protocol.Patient, t protocol.Treatment, ev *Evaluation) {
	e := events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Topic:     events.PatientTopic(p.String()),
		Patient:   p.String(),
		Order:     t.Order.String(),
		Target:    t.Target.Name(),
		Timestamp: s.now().UTC(),
	}
	if ev != nil {
		e.EvaluationID = ev.ID.String()
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("patient", e.Patient).
			Str("order", e.Order).
			Str("type", e.Type).
			Msg("failed to publish treatment event")
	}
}

// Current returns the patient's active treatments. A patient with nothing
// stored has an empty set.
func (s *Service) Current(ctx context.Context, patient protocol.Patient) (*Current, error) {
	if patient == "" {
		return nil, ErrPatientRequired
	}
	records, err := s.repo.Load(ctx, patient)
	if err != nil {
		return nil, fmt.Errorf("load treatments: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return &Current{Patient: patient, Treatments: records}, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list treatments: %w", err)
	}
	if items == nil {
		items = []Record{}
	}
	return items, total, nil
}

// Discontinue removes one active order outside of protocol evaluation.
func (s *Service) Discontinue(ctx context.Context, patient protocol.Patient, order protocol.Order) error {
	if patient == "" {
		return ErrPatientRequired
	}

	unlock, err := s.locker.Lock(ctx, lockKey(patient))
	if err != nil {
		return fmt.Errorf("lock patient %s: %w", patient, err)
	}
	defer unlock()

	var removed Record
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		records, err := s.repo.Load(ctx, patient)
		if err != nil {
			return fmt.Errorf("load treatments: %w", err)
		}
		found := false
		for _, r := range records {
			if r.Order == order.String() {
				removed, found = r, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s for patient %s", ErrNotFound, order, patient)
		}
		ok, err := s.repo.Delete(ctx, patient, order)
		if err != nil {
			return fmt.Errorf("delete treatment: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s for patient %s", ErrNotFound, order, patient)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.TypeTreatmentRemoved, patient, newTargetIndex(s.catalog).treatment(removed), nil)
	s.logger.Info().Str("patient", patient.String()).Str("order", order.String()).Msg("treatment discontinued")
	return nil
}

// Protocols describes every catalog protocol, sorted by name.
func (s *Service) Protocols() []ProtocolView {
	names := s.catalog.Names()
	out := make([]ProtocolView, 0, len(names))
	for _, name := range names {
		p, _ := s.catalog.Get(name)
		out = append(out, NewProtocolView(p))
	}
	return out
}

func (s *Service) Protocol(name string) (ProtocolView, error) {
	p, ok := s.catalog.Get(name)
	if !ok {
		return ProtocolView{}, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return NewProtocolView(p), nil
}
