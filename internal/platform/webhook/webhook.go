// Package webhook delivers treatment events to HTTP endpoints, signing each
// payload with HMAC-SHA256 and retrying transient failures.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ehr/txengine/internal/platform/events"
)

var ErrQueueFull = errors.New("webhook queue full")

// Endpoint is a delivery destination. Events holds type patterns such as
// "treatment.added", "treatment.*" or "*"; an empty list matches everything.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

func (ep Endpoint) matches(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, pat := range ep.Events {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// eventMatches supports exact types and a single leading or trailing
// wildcard segment ("*.removed", "treatment.*").
func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == "*" || pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}

// Option configures a Sender.
type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// WithRetryDelays sets the waits between attempts; one attempt is made per
// delay plus the first.
func WithRetryDelays(d ...time.Duration) Option {
	return func(s *Sender) { s.retryDelays = d }
}

func WithQueueSize(n int) Option {
	return func(s *Sender) { s.queue = make(chan events.Event, n) }
}

// Sender is an events.Publisher. Publish only enqueues; Run delivers.
type Sender struct {
	endpoints   []Endpoint
	client      *http.Client
	retryDelays []time.Duration
	queue       chan events.Event
	logger      zerolog.Logger
}

func NewSender(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) (*Sender, error) {
	for _, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return nil, fmt.Errorf("webhook endpoint: %w", err)
		}
	}
	s := &Sender{
		endpoints:   append([]Endpoint(nil), endpoints...),
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		queue:       make(chan events.Event, 256),
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Publish queues the event without waiting for delivery.
func (s *Sender) Publish(_ context.Context, event events.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.queue:
			if err := s.Deliver(ctx, e); err != nil {
				s.logger.Error().Err(err).
					Str("event_id", e.ID).
					Str("type", e.Type).
					Str("patient", e.Patient).
					Msg("webhook delivery failed")
			}
		}
	}
}

// Deliver sends the event to every matching endpoint and joins the errors
// of those that never accepted it.
func (s *Sender) Deliver(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var errs []error
	for _, ep := range s.endpoints {
		if !ep.matches(event.Type) {
			continue
		}
		if err := s.deliverWithRetry(ctx, ep, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) deliverWithRetry(ctx context.Context, ep Endpoint, event events.Event, payload []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		var retry bool
		retry, err = s.post(ctx, ep, event, payload, attempt+1)
		if err == nil || !retry || attempt >= len(s.retryDelays) {
			return err
		}
		s.logger.Warn().Err(err).Str("url", ep.URL).Int("attempt", attempt+1).Msg("retrying webhook")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelays[attempt]):
		}
	}
}

// post makes one attempt and reports whether a failure is worth retrying.
func (s *Sender) post(ctx context.Context, ep Endpoint, event events.Event, payload []byte, attempt int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Delivery", event.ID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprint(attempt))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, ep.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return false, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
}
