package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/exphub/experiment-hub/internal/application/command"
	"github.com/exphub/experiment-hub/internal/application/query"
	"github.com/exphub/experiment-hub/internal/domain/experiment"
	"github.com/exphub/experiment-hub/internal/domain/shared"
	"github.com/exphub/experiment-hub/pkg/logger"
)

// maxBodyBytes caps request bodies; experiment definitions and resolution
// contexts are small.
const maxBodyBytes = 64 << 10

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Endpoint not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "experiment-hub",
		"version": "1.0.0",
		"status":  "operational",
		"uptime":  s.Uptime().String(),
		"endpoints": map[string]string{
			"health":      "/health",
			"experiments": "/api/v1/experiments",
			"resolve":     "/api/v1/experiments/{name}/resolve",
			"convert":     "/api/v1/experiments/{name}/convert",
			"stats":       "/api/v1/experiments/{name}/stats",
		},
	})
}

// handleHealth reports overall service health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Healthy: true, Ready: true}
	if s.deps.HealthChecker != nil {
		status = s.deps.HealthChecker.Check(r.Context())
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleReady reports readiness for Kubernetes probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Healthy: true, Ready: true}
	if s.deps.HealthChecker != nil {
		status = s.deps.HealthChecker.Check(r.Context())
	}

	if !status.Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive reports liveness for Kubernetes probes.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PRODUCT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type resolveRequest struct {
	SubjectID string                     `json:"subject_id"`
	Context   experiment.AudienceContext `json:"context"`
}

// handleResolve resolves the variant for a subject.
// POST /api/v1/experiments/{name}/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.ResolveVariantHandler.Handle(r.Context(), command.ResolveVariantCommand{
		ExperimentName: r.PathValue("name"),
		SubjectID:      req.SubjectID,
		Context:        req.Context,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type convertRequest struct {
	SubjectID      string                     `json:"subject_id"`
	ConversionType string                     `json:"conversion_type"`
	Value          *float64                   `json:"value,omitempty"`
	Context        experiment.AudienceContext `json:"context"`
}

// handleConvert records a conversion for a subject.
// POST /api/v1/experiments/{name}/convert
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.deps.RecordConversionHandler.Handle(r.Context(), command.RecordConversionCommand{
		ExperimentName: r.PathValue("name"),
		SubjectID:      req.SubjectID,
		ConversionType: req.ConversionType,
		Value:          req.Value,
		Context:        req.Context,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// handleListExperiments lists registered experiments.
// GET /api/v1/experiments?active=true
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	views, err := s.deps.ListExperimentsHandler.Handle(r.Context(), query.ListExperimentsQuery{
		ActiveOnly: getQueryParamBool(r, "active"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"experiments": views,
		"count":       len(views),
	})
}

// handleGetExperiment returns a single experiment.
// GET /api/v1/experiments/{name}
func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetExperimentHandler.Handle(r.Context(), query.GetExperimentQuery{
		ExperimentName: r.PathValue("name"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetStats returns the conversion report for an experiment.
// GET /api/v1/experiments/{name}/stats?stale=true
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stat, err := s.deps.GetStatsHandler.Handle(r.Context(), query.GetStatsQuery{
		ExperimentName: r.PathValue("name"),
		AllowStale:     getQueryParamBool(r, "stale"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stat)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleUpsertExperiment creates or replaces an experiment definition.
// PUT /api/v1/experiments/{name}
func (s *Server) handleUpsertExperiment(w http.ResponseWriter, r *http.Request) {
	var def experiment.Definition
	if !s.decodeBody(w, r, &def) {
		return
	}

	// The path is authoritative for the name.
	def.Name = r.PathValue("name")

	err := s.deps.UpsertExperimentHandler.Handle(r.Context(), command.UpsertExperimentCommand{
		Definition: def,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "upserted", "experiment": def.Name})
}

// handleSetEnabled toggles an experiment.
// POST /api/v1/experiments/{name}/enable | /disable
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		err := s.deps.SetEnabledHandler.Handle(r.Context(), command.SetEnabledCommand{
			ExperimentName: name,
			Enabled:        enabled,
		})
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"experiment": name,
			"enabled":    enabled,
		})
	}
}

type forceRequest struct {
	SubjectID   string `json:"subject_id"`
	VariantName string `json:"variant"`
}

// handleForceVariant pins a subject to a variant.
// POST /api/v1/experiments/{name}/force
func (s *Server) handleForceVariant(w http.ResponseWriter, r *http.Request) {
	var req forceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.deps.ForceVariantHandler.Handle(r.Context(), command.ForceVariantCommand{
		ExperimentName: r.PathValue("name"),
		SubjectID:      req.SubjectID,
		VariantName:    req.VariantName,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "forced",
		"subject": req.SubjectID,
		"variant": req.VariantName,
	})
}

// handleResetAssignments clears assignments for one subject or the whole
// experiment.
// DELETE /api/v1/experiments/{name}/assignments?subject_id=abc
func (s *Server) handleResetAssignments(w http.ResponseWriter, r *http.Request) {
	err := s.deps.ResetAssignmentsHandler.Handle(r.Context(), command.ResetAssignmentsCommand{
		ExperimentName: r.PathValue("name"),
		SubjectID:      r.URL.Query().Get("subject_id"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes the JSON request body into dst. On failure it writes the
// error response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// ErrUnknownVariant matches IsNotFound too; it must be mapped first.
	case errors.Is(err, shared.ErrUnknownVariant):
		writeJSONError(w, http.StatusUnprocessableEntity, "unknown_variant", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err) || shared.IsConfiguration(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsPersistenceUnavailable(err):
		writeJSONError(w, http.StatusServiceUnavailable, "store_unavailable", "Assignment store is unavailable")
	default:
		s.logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
