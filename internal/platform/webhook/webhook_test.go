package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/txengine/internal/platform/events"
)

func testEvent() events.Event {
	return events.Event{
		ID:      "evt-1",
		Type:    events.TypeTreatmentAdded,
		Topic:   events.PatientTopic("p1"),
		Patient: "p1",
		Order:   "morphine",
		Target:  "noPain",
	}
}

func TestEventMatches(t *testing.T) {
	cases := []struct {
		pattern, typ string
		want         bool
	}{
		{"*", "treatment.added", true},
		{"treatment.added", "treatment.added", true},
		{"treatment.added", "treatment.removed", false},
		{"treatment.*", "treatment.removed", true},
		{"*.removed", "treatment.removed", true},
		{"*.removed", "treatment.added", false},
		{"protocol.*", "treatment.added", false},
	}
	for _, tc := range cases {
		if got := eventMatches(tc.pattern, tc.typ); got != tc.want {
			t.Errorf("eventMatches(%q, %q) = %t, want %t", tc.pattern, tc.typ, got, tc.want)
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"id":"evt-1"}`)
	sig := SignPayload(payload, "s3cret")
	if !VerifySignature(payload, "s3cret", sig) {
		t.Error("expected signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected signature with a different secret to fail")
	}
}

func TestNewSender_RejectsBadURLs(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/hook", "http://"} {
		if _, err := NewSender([]Endpoint{{URL: u}}, zerolog.Nop()); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestDeliver_SignsPayload(t *testing.T) {
	var gotSig, gotEvent string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewSender([]Endpoint{{URL: srv.URL, Secret: "k"}}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEvent != events.TypeTreatmentAdded {
		t.Errorf("event header = %q", gotEvent)
	}
	if !strings.HasPrefix(gotSig, "sha256=") || !VerifySignature(body, "k", strings.TrimPrefix(gotSig, "sha256=")) {
		t.Errorf("signature %q does not match body %s", gotSig, body)
	}
	if !strings.Contains(string(body), `"order":"morphine"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := NewSender([]Endpoint{{URL: srv.URL}}, zerolog.Nop(), WithRetryDelays(time.Millisecond, time.Millisecond))
	if err := s.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDeliver_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, _ := NewSender([]Endpoint{{URL: srv.URL}}, zerolog.Nop(), WithRetryDelays(time.Millisecond))
	if err := s.Deliver(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDeliver_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s, _ := NewSender([]Endpoint{{URL: srv.URL}}, zerolog.Nop(), WithRetryDelays(time.Millisecond))
	if err := s.Deliver(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDeliver_SkipsUnsubscribedEndpoints(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s, _ := NewSender([]Endpoint{{URL: srv.URL, Events: []string{"*.removed"}}}, zerolog.Nop())
	if err := s.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no delivery, got %d", calls.Load())
	}
}

func TestPublish_QueueFull(t *testing.T) {
	s, _ := NewSender(nil, zerolog.Nop(), WithQueueSize(1))
	if err := s.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Publish(context.Background(), testEvent()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestRun_DeliversQueuedEvents(t *testing.T) {
	delivered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered <- r.Header.Get("X-Webhook-Delivery")
	}))
	defer srv.Close()

	s, _ := NewSender([]Endpoint{{URL: srv.URL}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	if err := s.Publish(ctx, testEvent()); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-delivered:
		if id != "evt-1" {
			t.Errorf("delivery id = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
