package treatment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/txengine/internal/domain/protocol"
	"github.com/ehr/txengine/internal/platform/events"
	"github.com/ehr/txengine/internal/platform/lock"
)

// ── Mocks ──

type mockRepo struct {
	mu      sync.Mutex
	data    map[protocol.Patient][]Record
	err     error
	txCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{data: make(map[protocol.Patient][]Record)}
}

func (m *mockRepo) Load(_ context.Context, p protocol.Patient) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]Record(nil), m.data[p]...), nil
}

func (m *mockRepo) Save(_ context.Context, p protocol.Patient, added []Record, removed []protocol.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	var kept []Record
	for _, r := range m.data[p] {
		drop := false
		for _, o := range removed {
			if r.Order == o.String() {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, r)
		}
	}
	m.data[p] = append(kept, added...)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, p protocol.Patient, o protocol.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for i, r := range m.data[p] {
		if r.Order == o.String() {
			m.data[p] = append(m.data[p][:i], m.data[p][i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var all []Record
	for _, recs := range m.data {
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Patient != all[j].Patient {
			return all[i].Patient < all[j].Patient
		}
		return all[i].Order < all[j].Order
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.txCalls++
	m.mu.Unlock()
	return fn(ctx)
}

func (m *mockRepo) orders(p protocol.Patient) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.data[p] {
		out = append(out, r.Order)
	}
	sort.Strings(out)
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type+":"+e.Order)
	}
	return out
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, protocol.DefaultCatalog(), lock.NewLocal(), pub, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, pub
}

const patient = protocol.Patient("patient-1")

func evaluate(t *testing.T, svc *Service, names []string, signs ...protocol.Sign) *Evaluation {
	t.Helper()
	ev, err := svc.Evaluate(context.Background(), EvaluateInput{Patient: patient, Protocols: names, Signs: signs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ev
}

func orderStrings(os []protocol.Order) string {
	s := make([]string, len(os))
	for i, o := range os {
		s[i] = o.String()
	}
	return strings.Join(s, ",")
}

// ── Evaluate ──

func TestService_EvaluateAddsFirstTreatment(t *testing.T) {
	svc, repo, pub := newTestService()

	ev := evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))

	if got := orderStrings(ev.Added); got != "paracetamol" {
		t.Errorf("added = %q, want paracetamol", got)
	}
	if len(ev.Removed) != 0 || len(ev.Before) != 0 || len(ev.After) != 1 {
		t.Errorf("unexpected evaluation %+v", ev)
	}
	if got := repo.orders(patient); len(got) != 1 || got[0] != "paracetamol" {
		t.Errorf("stored orders = %v", got)
	}
	if rec := repo.data[patient][0]; rec.Target != "noPain" || !rec.ActivatedAt.Equal(fixedNow) {
		t.Errorf("stored record = %+v", rec)
	}
	if got := pub.types(); len(got) != 1 || got[0] != "treatment.added:paracetamol" {
		t.Errorf("events = %v", got)
	}
	e := pub.events[0]
	if e.Topic != "patient/patient-1" || e.EvaluationID != ev.ID.String() || e.Target != "noPain" {
		t.Errorf("unexpected event %+v", e)
	}
	if len(ev.Trace) != 1 || !strings.Contains(ev.Trace[0], "for treatment paracetamol") {
		t.Errorf("trace = %v", ev.Trace)
	}
	if repo.txCalls != 1 {
		t.Errorf("expected one transaction, got %d", repo.txCalls)
	}
}

func TestService_EvaluateEscalatesThenSettles(t *testing.T) {
	svc, repo, pub := newTestService()

	evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))
	second := evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))
	if got := orderStrings(second.Added); got != "morphine" {
		t.Errorf("second evaluation added %q, want morphine", got)
	}

	third := evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))
	if third.Changed() {
		t.Errorf("expected fixed point, got added=%v removed=%v", third.Added, third.Removed)
	}
	if len(third.Trace) != 2 {
		t.Errorf("expected a trace line per step, got %v", third.Trace)
	}
	if got := repo.orders(patient); strings.Join(got, ",") != "morphine,paracetamol" {
		t.Errorf("stored orders = %v", got)
	}
	if len(pub.events) != 2 {
		t.Errorf("expected no events at the fixed point, got %v", pub.types())
	}
}

func TestService_EvaluateRemovesWhenTargetMet(t *testing.T) {
	svc, repo, pub := newTestService()
	evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))

	ev := evaluate(t, svc, []string{"pain"}, protocol.PainScore(0))
	if got := orderStrings(ev.Removed); got != "paracetamol" {
		t.Errorf("removed = %q", got)
	}
	if len(ev.After) != 0 {
		t.Errorf("expected empty set, got %v", ev.After)
	}
	if got := repo.orders(patient); len(got) != 0 {
		t.Errorf("stored orders = %v", got)
	}
	if got := pub.types(); got[len(got)-1] != "treatment.removed:paracetamol" {
		t.Errorf("events = %v", got)
	}
}

func TestService_EvaluateThreadsProtocolsInOrder(t *testing.T) {
	svc, repo, _ := newTestService()

	ev := evaluate(t, svc, []string{"pain", "blood-pressure"},
		protocol.PainScore(3), protocol.LiverFailure(true), protocol.BloodPressure(40))

	if got := orderStrings(ev.Added); got != "morphine,dopamine" {
		t.Errorf("added = %q, want morphine,dopamine", got)
	}
	if got := repo.orders(patient); strings.Join(got, ",") != "dopamine,morphine" {
		t.Errorf("stored orders = %v", got)
	}
}

func TestService_EvaluateKeepsOrdersOutsideCatalog(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.data[patient] = []Record{{Patient: "patient-1", Order: "aspirin", Target: "noFever", ActivatedAt: fixedNow}}

	ev := evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))

	if len(ev.Before) != 1 || ev.Before[0].Target.Name() != "noFever" {
		t.Errorf("before = %v", ev.Before)
	}
	if got := repo.orders(patient); strings.Join(got, ",") != "aspirin,paracetamol" {
		t.Errorf("stored orders = %v", got)
	}
}

func TestService_EvaluateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		in   EvaluateInput
		want error
	}{
		{"missing patient", EvaluateInput{Protocols: []string{"pain"}}, ErrPatientRequired},
		{"no protocols", EvaluateInput{Patient: patient}, ErrNoProtocols},
		{"unknown protocol", EvaluateInput{Patient: patient, Protocols: []string{"pain", "sepsis"}}, ErrUnknownProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Evaluate(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestService_EvaluateRepositoryError(t *testing.T) {
	svc, repo, pub := newTestService()
	repo.err = errors.New("connection refused")

	_, err := svc.Evaluate(context.Background(), EvaluateInput{Patient: patient, Protocols: []string{"pain"}})
	if err == nil || !strings.Contains(err.Error(), "load treatments") {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no events on failure, got %v", pub.types())
	}
}

func TestService_EvaluatePublishErrorIsNotFatal(t *testing.T) {
	svc, repo, pub := newTestService()
	pub.err = errors.New("broker down")

	if _, err := svc.Evaluate(context.Background(), EvaluateInput{
		Patient: patient, Protocols: []string{"pain"}, Signs: []protocol.Sign{protocol.PainScore(5)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.orders(patient); len(got) != 1 {
		t.Errorf("expected change to be stored, got %v", got)
	}
}

func TestService_EvaluateHonoursLockContext(t *testing.T) {
	repo := newMockRepo()
	locker := lock.NewLocal()
	svc := NewService(repo, protocol.DefaultCatalog(), locker, nil, zerolog.Nop())

	unlock, err := locker.Lock(context.Background(), lockKey(patient))
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Evaluate(ctx, EvaluateInput{Patient: patient, Protocols: []string{"pain"}}); err == nil {
		t.Error("expected error while the patient is locked")
	}
	if repo.txCalls != 0 {
		t.Error("expected no repository access without the lock")
	}
}

func TestService_ConcurrentEvaluationsAreSerialised(t *testing.T) {
	svc, repo, pub := newTestService()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Evaluate(context.Background(), EvaluateInput{
				Patient: patient, Protocols: []string{"pain"}, Signs: []protocol.Sign{protocol.PainScore(3)},
			})
		}()
	}
	wg.Wait()

	if got := repo.orders(patient); strings.Join(got, ",") != "morphine,paracetamol" {
		t.Errorf("stored orders = %v", got)
	}
	if len(pub.events) != 2 {
		t.Errorf("expected exactly two additions, got %v", pub.types())
	}
}

// ── Current / List / Discontinue ──

func TestService_CurrentEmpty(t *testing.T) {
	svc, _, _ := newTestService()
	cur, err := svc.Current(context.Background(), patient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cur.Treatments == nil || len(cur.Treatments) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", cur.Treatments)
	}
	if _, err := svc.Current(context.Background(), ""); !errors.Is(err, ErrPatientRequired) {
		t.Errorf("expected ErrPatientRequired, got %v", err)
	}
}

func TestService_List(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.data["a"] = []Record{{Patient: "a", Order: "morphine"}}
	repo.data["b"] = []Record{{Patient: "b", Order: "dopamine"}, {Patient: "b", Order: "paracetamol"}}

	items, total, err := svc.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 2 || items[0].Order != "dopamine" {
		t.Errorf("unexpected page: total=%d items=%+v", total, items)
	}
}

func TestService_Discontinue(t *testing.T) {
	svc, repo, pub := newTestService()
	evaluate(t, svc, []string{"pain"}, protocol.PainScore(3))

	if err := svc.Discontinue(context.Background(), patient, protocol.Paracetamol); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.orders(patient); len(got) != 0 {
		t.Errorf("stored orders = %v", got)
	}
	last := pub.events[len(pub.events)-1]
	if last.Type != events.TypeTreatmentRemoved || last.Target != "noPain" || last.EvaluationID != "" {
		t.Errorf("unexpected event %+v", last)
	}

	err := svc.Discontinue(context.Background(), patient, protocol.Paracetamol)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ── Protocols ──

func TestService_Protocols(t *testing.T) {
	svc, _, _ := newTestService()

	views := svc.Protocols()
	if len(views) != 2 || views[0].Name != "blood-pressure" || views[1].Name != "pain" {
		t.Fatalf("unexpected protocols %+v", views)
	}
	nor := views[0].Steps[1]
	if nor.Order != protocol.Noradrenaline || nor.Target != "bloodPressure>60" {
		t.Errorf("unexpected step %+v", nor)
	}
	if strings.Join(nor.Conditions, ",") != "hasCentralVenousLine,bloodPressure<160" {
		t.Errorf("conditions = %v", nor.Conditions)
	}

	if _, err := svc.Protocol("sepsis"); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("expected ErrUnknownProtocol, got %v", err)
	}
}
