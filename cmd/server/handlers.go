package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/liamcoop/perfrules/internal/logger"
	"github.com/liamcoop/perfrules/rules"
	"github.com/liamcoop/perfrules/rulesets"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "healthy",
		Storage:        "memory",
		RuleSetsLoaded: s.manager.Loaded(),
	}

	if s.db != nil {
		resp.Storage = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Create rule set and dataset handler
func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasetRequest
	if !s.decode(w, r, &req) {
		return
	}

	compiled, err := s.manager.Create(r.Context(), req.Name, req.Rules, req.Derived)
	if err != nil {
		respondManagerError(w, "failed to save rule set", err)
		return
	}

	s.generate(w, r, compiled.RuleSet.ID, req.Samples, req.Noise, req.Seed)
}

// Regenerate dataset from a stored rule set handler
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.generate(w, r, chi.URLParam(r, "ruleSetId"), req.Samples, req.Noise, req.Seed)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, id string, samples *int, noise *float64, seed *uint64) {
	opts := rules.GenerateOptions{
		Samples: s.cfg.DefaultSamples,
		Noise:   s.cfg.DefaultNoise,
		Rand:    seededRand(seed),
	}
	if samples != nil {
		opts.Samples = *samples
	}
	if noise != nil {
		opts.Noise = *noise
	}

	ds, run, err := s.manager.Generate(r.Context(), id, opts)
	if err != nil {
		respondManagerError(w, "failed to generate dataset", err)
		return
	}

	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="dataset.csv"`)
		w.Header().Set("X-Rule-Set-Id", id)
		w.WriteHeader(http.StatusOK)
		if err := ds.WriteCSV(w); err != nil {
			logger.Error("failed to stream dataset", "ruleSetId", id, "error", err)
		}
		return
	}

	preview := ds.Records
	if len(preview) > s.cfg.PreviewRows {
		preview = preview[:s.cfg.PreviewRows]
	}

	resp := DatasetResponse{
		RuleSetID:    id,
		Message:      fmt.Sprintf("Dataset generado con %d registros", len(ds.Records)),
		Rows:         len(ds.Records),
		Distribution: ds.Distribution,
		Shares:       ds.Distribution.Shares(),
		Resampled:    ds.Resampled,
		Fallbacks:    ds.Fallbacks,
		Preview:      preview,
	}
	if run != nil {
		resp.RunID = run.ID
	}

	respondJSON(w, http.StatusOK, resp)
}

// List rule sets handler
func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rule sets", err)
		return
	}

	resp := RuleSetsListResponse{RuleSets: make([]RuleSetSummary, 0, len(list))}
	for _, rs := range list {
		summary := RuleSetSummary{
			ID:        rs.ID,
			Name:      rs.Name,
			Derived:   len(rs.Derived),
			CreatedAt: rs.CreatedAt,
		}
		if c, err := s.manager.Get(r.Context(), rs.ID); err == nil {
			summary.Attributes = c.Engine.Schema().Len()
		}
		resp.RuleSets = append(resp.RuleSets, summary)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get rule set handler
func (s *Server) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Get(r.Context(), chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondManagerError(w, "failed to get rule set", err)
		return
	}

	resp := RuleSetResponse{
		RuleSet:    c.RuleSet,
		Attributes: c.Engine.Schema().Names(),
	}
	for _, issue := range c.Engine.Schema().Issues() {
		resp.Issues = append(resp.Issues, RuleIssue{
			Attribute: issue.Attribute,
			Class:     issue.Class,
			Reason:    issue.Reason,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// Delete rule set handler
func (s *Server) handleDeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "ruleSetId")); err != nil {
		respondManagerError(w, "failed to delete rule set", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Classify records with a stored rule set handler
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	s.classify(w, r, chi.URLParam(r, "ruleSetId"))
}

// Classify records with the newest rule set handler
func (s *Server) handleClassifyLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.manager.Latest(r.Context())
	if err != nil {
		respondManagerError(w, "no rule set available", err)
		return
	}

	s.classify(w, r, latest.RuleSet.ID)
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request, id string) {
	var req ClassifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	var noise float64
	if req.Noise != nil {
		noise = *req.Noise
	}

	result, err := s.manager.Classify(r.Context(), id, req.Records, noise, seededRand(req.Seed))
	if err != nil {
		respondManagerError(w, "failed to classify records", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// List runs handler
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.manager.Runs(r.Context(), chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondManagerError(w, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*rules.Run{}
	}

	respondJSON(w, http.StatusOK, RunsListResponse{Runs: runs})
}

// decode reads and validates a JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, extractValidationErrors(err), nil)
		return false
	}
	return true
}

func extractValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		msgs := make([]string, 0, len(validationErrors))
		for _, ve := range validationErrors {
			msgs = append(msgs, fmt.Sprintf("%s - %s", ve.Field(), ve.Tag()))
		}
		return "validation error: " + strings.Join(msgs, ", ")
	}
	return "validation error: invalid request"
}

func seededRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return nil
	}
	return rules.NewRand(*seed)
}

func wantsCSV(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/csv") || r.URL.Query().Get("format") == "csv"
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	var docErr *rulesets.DocumentError
	if errors.As(err, &docErr) {
		response.Fields = docErr.Errors
	}
	respondJSON(w, status, response)
}

// respondManagerError maps manager errors onto HTTP statuses
func respondManagerError(w http.ResponseWriter, message string, err error) {
	var docErr *rulesets.DocumentError
	switch {
	case errors.Is(err, rules.ErrRuleSetNotFound):
		respondError(w, http.StatusNotFound, "rule set not found", err)
	case errors.As(err, &docErr),
		errors.Is(err, rules.ErrInvalidSampleCount),
		errors.Is(err, rules.ErrInvalidNoise):
		respondError(w, http.StatusBadRequest, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
