package sink

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/pkg/circuitbreaker"
)

func webhookEvent() analytics.Event {
	return analytics.NewAssignmentEvent("exp", "control", "s1", assignment.SourceRandom)
}

func TestWebhookSink_PostsEvent(t *testing.T) {
	var received analytics.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{Name: "test", URL: srv.URL})
	require.NoError(t, s.Push(context.Background(), webhookEvent()))

	assert.Equal(t, "exp", received.ExperimentName)
	assert.Equal(t, "control", received.VariantName)
}

func TestWebhookSink_SignsBody(t *testing.T) {
	const secret = "hunter2"

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{Name: "test", URL: srv.URL, Secret: secret})
	require.NoError(t, s.Push(context.Background(), webhookEvent()))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestWebhookSink_NoSignatureWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{Name: "test", URL: srv.URL})
	require.NoError(t, s.Push(context.Background(), webhookEvent()))
	assert.Empty(t, gotSig)
}

func TestWebhookSink_ServerErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{Name: "test", URL: srv.URL})
	err := s.Push(context.Background(), webhookEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var transitions []circuitbreaker.State
	s := NewWebhookSink(WebhookConfig{
		Name: "test",
		URL:  srv.URL,
		OnBreakerChange: func(name string, from, to circuitbreaker.State) {
			transitions = append(transitions, to)
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.Error(t, s.Push(ctx, webhookEvent()))
	}
	assert.Equal(t, circuitbreaker.StateOpen, s.BreakerState())
	require.Len(t, transitions, 1)
	assert.Equal(t, circuitbreaker.StateOpen, transitions[0])

	// Open circuit fails fast without reaching the endpoint.
	err := s.Push(ctx, webhookEvent())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int64(3), hits.Load())
}

func TestWebhookSink_DefaultTimeout(t *testing.T) {
	s := NewWebhookSink(WebhookConfig{Name: "test", URL: "http://localhost:0"})
	assert.Equal(t, 5*time.Second, s.client.Timeout)
}
