package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/exphub/experiment-hub/internal/application/command"
	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/analytics"
	"github.com/exphub/experiment-hub/internal/domain/assignment"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/infrastructure/persistence/memory"
)

const testAdminKey = "test-admin-key"

// capturePublisher records published events.
type capturePublisher struct {
	log *memory.EventLog
}

func (p *capturePublisher) Publish(ctx context.Context, event analytics.Event) error {
	return p.log.Append(ctx, event)
}

type serverFixture struct {
	server   *Server
	registry *experiment.InMemoryRegistry
	store    *memory.AssignmentStore
	eventLog *memory.EventLog
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	registry := experiment.NewInMemoryRegistry()
	require.NoError(t, registry.Upsert(context.Background(), &experiment.Definition{
		Name:    "checkout_button",
		Enabled: true,
		Variants: []experiment.Variant{
			{Name: "control", Weight: 50},
			{Name: "treatment", Weight: 50},
		},
	}))

	store := memory.NewAssignmentStore()
	eventLog := memory.NewEventLog()
	publisher := &capturePublisher{log: eventLog}

	resolver := command.NewResolveVariantHandler(command.ResolveVariantConfig{
		Registry: registry,
		Store:    store,
		Bucketer: assignment.NewBucketer(assignment.NewLockedRNG(1)),
		Events:   publisher,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0 // keep tests independent of timing
	cfg.AdminKeyHashes = []string{string(hash)}

	server := NewServer(cfg, Dependencies{
		ResolveVariantHandler:   resolver,
		RecordConversionHandler: command.NewRecordConversionHandler(resolver, publisher, nil),
		ForceVariantHandler:     command.NewForceVariantHandler(registry, store, publisher, nil),
		ResetAssignmentsHandler: command.NewResetAssignmentsHandler(store, nil),
		UpsertExperimentHandler: command.NewUpsertExperimentHandler(registry, nil),
		SetEnabledHandler:       command.NewSetEnabledHandler(registry, nil),
		GetStatsHandler:         query.NewGetStatsHandler(registry, eventLog, nil, nil),
		ListExperimentsHandler:  query.NewListExperimentsHandler(registry),
		GetExperimentHandler:    query.NewGetExperimentHandler(registry),
	})

	return &serverFixture{server: server, registry: registry, store: store, eventLog: eventLog}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if admin {
		req.Header.Set("X-API-Key", testAdminKey)
	}

	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) JSONResponse {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is not an object: %s", rec.Body.String())
	return data
}

func TestServer_Resolve(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve",
		map[string]interface{}{"subject_id": "s1"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := dataField(t, rec)
	first := data["variant"].(string)
	assert.Contains(t, []string{"control", "treatment"}, first)
	assert.Equal(t, "random", data["source"])

	// Repeated resolution is sticky.
	rec = f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve",
		map[string]interface{}{"subject_id": "s1"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, dataField(t, rec)["variant"])
}

func TestServer_ResolveUnknownExperimentServesControl(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/no_such/resolve",
		map[string]interface{}{"subject_id": "s1"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "control", dataField(t, rec)["variant"])
}

func TestServer_ResolveValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve",
		map[string]interface{}{}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing subject is rejected")

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body is rejected")
}

func TestServer_Convert(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/convert",
		map[string]interface{}{"subject_id": "s1", "conversion_type": "purchase", "value": 9.99}, false)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	events, err := f.eventLog.ListByExperiment(context.Background(), "checkout_button")
	require.NoError(t, err)
	require.Len(t, events, 2, "exposure plus conversion")
	assert.Equal(t, analytics.KindConversion, events[1].Kind)
}

func TestServer_ListAndGetExperiments(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/experiments", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.EqualValues(t, 1, data["count"])

	rec = f.do(t, http.MethodGet, "/api/v1/experiments/checkout_button", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "checkout_button", dataField(t, rec)["name"])

	rec = f.do(t, http.MethodGet, "/api/v1/experiments/no_such", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	f := newServerFixture(t)

	// Generate some traffic first.
	for _, subj := range []string{"s1", "s2", "s3"} {
		rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve",
			map[string]interface{}{"subject_id": subj}, false)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/experiments/checkout_button/stats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	assert.EqualValues(t, 3, data["total_participants"])
}

func TestServer_AdminAuth(t *testing.T) {
	f := newServerFixture(t)
	forceBody := map[string]interface{}{"subject_id": "s1", "variant": "treatment"}

	t.Run("missing key rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/force", forceBody, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments/checkout_button/force", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("X-API-Key", "wrong")
		rec := httptest.NewRecorder()
		f.server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key accepted", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/force", forceBody, true)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("admin disabled without configured hashes", func(t *testing.T) {
		bare := newServerFixture(t)
		bare.server.config.AdminKeyHashes = nil
		rec := bare.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/force", forceBody, true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestServer_ForceVariant(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/force",
		map[string]interface{}{"subject_id": "s1", "variant": "treatment"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := f.store.Get(ctx, "checkout_button", "s1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", stored.VariantName)
	assert.Equal(t, assignment.SourceForced, stored.Source)

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/force",
		map[string]interface{}{"subject_id": "s1", "variant": "no_such"}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_ResetAssignments(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	for _, subj := range []string{"s1", "s2"} {
		rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/resolve",
			map[string]interface{}{"subject_id": subj}, false)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 2, f.store.Len("checkout_button"))

	rec := f.do(t, http.MethodDelete, "/api/v1/experiments/checkout_button/assignments?subject_id=s1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.store.Len("checkout_button"))

	rec = f.do(t, http.MethodDelete, "/api/v1/experiments/checkout_button/assignments", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.store.Len("checkout_button"))

	_, err := f.eventLog.ListByExperiment(ctx, "checkout_button")
	require.NoError(t, err, "historical events survive a reset")
}

func TestServer_UpsertExperiment(t *testing.T) {
	f := newServerFixture(t)

	body := map[string]interface{}{
		"enabled": true,
		"variants": []map[string]interface{}{
			{"name": "control", "weight": 70},
			{"name": "bold", "weight": 30},
		},
	}
	rec := f.do(t, http.MethodPut, "/api/v1/experiments/new_banner", body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	def, err := f.registry.Get(context.Background(), "new_banner")
	require.NoError(t, err)
	assert.Len(t, def.Variants, 2)

	// Invalid definitions are rejected.
	bad := map[string]interface{}{
		"enabled":  true,
		"variants": []map[string]interface{}{{"name": "only", "weight": -1}},
	}
	rec = f.do(t, http.MethodPut, "/api/v1/experiments/bad_one", bad, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_EnableDisable(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/disable", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	def, err := f.registry.Get(ctx, "checkout_button")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/checkout_button/enable", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	def, err = f.registry.Get(ctx, "checkout_button")
	require.NoError(t, err)
	assert.True(t, def.Enabled)
}

func TestServer_HealthEndpoints(t *testing.T) {
	f := newServerFixture(t)

	for _, path := range []string{"/health", "/healthz", "/ready", "/live"} {
		rec := f.do(t, http.MethodGet, path, nil, false)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := f.do(t, http.MethodGet, "/", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "experiment-hub", dataField(t, rec)["service"])
}

func TestServer_RequestIDPropagated(t *testing.T) {
	f := newServerFixture(t)

	t.Run("caller-supplied ID is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-request-id")
		rec := httptest.NewRecorder()
		f.server.Router().ServeHTTP(rec, req)

		assert.Equal(t, "my-request-id", rec.Header().Get("X-Request-ID"))
	})

	t.Run("generated ID is a UUID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		f.server.Router().ServeHTTP(rec, req)

		_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
		assert.NoError(t, err)
	})
}

func TestServer_RateLimit(t *testing.T) {
	f := newServerFixture(t)
	f.server.config.RateLimitPerMinute = 2
	f.server.rateLimiter = newRateLimiter(2, time.Minute)

	var lastCode int
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodGet, "/health", nil, false)
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
