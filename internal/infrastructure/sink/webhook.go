package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/pkg/circuitbreaker"
)

// WebhookSink POSTs events as JSON to an external analytics endpoint.
//
// A circuit breaker guards the endpoint: after consecutive failures the sink
// fails fast instead of tying up pipeline workers on a down vendor. Events
// pushed while the circuit is open are dropped, which is acceptable because
// the event log keeps the authoritative copy.
type WebhookSink struct {
	name    string
	url     string
	secret  []byte
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	// Name identifies the sink in logs (e.g. "ga", "plausible").
	Name string

	// URL is the endpoint events are POSTed to.
	URL string

	// Secret, when non-empty, enables an HMAC-SHA256 signature of the body
	// in the X-Signature header so the receiver can verify origin.
	Secret string

	// Timeout bounds the whole HTTP exchange. The pipeline applies its own
	// per-dispatch deadline as well; the shorter wins.
	Timeout time.Duration

	// OnBreakerChange is notified on circuit state transitions.
	OnBreakerChange func(name string, from, to circuitbreaker.State)
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebhookSink{
		name:    cfg.Name,
		url:     cfg.URL,
		secret:  []byte(cfg.Secret),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.AnalyticsSinkBreaker(cfg.Name, cfg.OnBreakerChange),
	}
}

// Name implements analytics.Sink.
func (s *WebhookSink) Name() string {
	return s.name
}

// Push implements analytics.Sink.
func (s *WebhookSink) Push(ctx context.Context, event analytics.Event) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.post(ctx, event)
	})
}

func (s *WebhookSink) post(ctx context.Context, event analytics.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the circuit state for health reporting.
func (s *WebhookSink) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}
