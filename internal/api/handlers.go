package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/ingest"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/scoring"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/go-chi/chi/v5"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// respondStoreError maps store errors onto status codes.
func respondStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	respondError(w, http.StatusInternalServerError, "failed to load "+what, err)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func summaryOptions(r *http.Request) scoring.Options {
	return scoring.Options{
		Now:  time.Now(),
		Days: queryInt(r, "days", scoring.DefaultDays),
		TopN: queryInt(r, "top", scoring.DefaultTopN),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"api": "ok", "store": "ok"}
	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = err.Error()
	}
	for name, check := range s.opts.Checks {
		checks[name] = "ok"
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
		}
	}

	status := "healthy"
	code := http.StatusOK
	for _, c := range checks {
		if c != "ok" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}

	respondJSON(w, code, map[string]interface{}{
		"status":     status,
		"version":    s.opts.Version,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"timestamp":  time.Now().UTC(),
		"checks":     checks,
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.store.ListInvestigations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list investigations", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"data": invs, "count": len(invs)})
}

func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	inv, err := s.store.CreateInvestigation(r.Context(), osint.Investigation{Name: req.Name, Description: req.Description})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create investigation", err)
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.store.GetInvestigation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "investigation", err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

func (s *Server) handleInvestigationSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := s.store.GetInvestigation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "investigation", err)
		return
	}
	targets, err := s.store.ListTargets(ctx, inv.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list targets", err)
		return
	}
	byTarget, err := s.store.ListInvestigationResults(ctx, inv.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list results", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"investigation": inv,
		"summary":       scoring.SummarizeInvestigation(targets, byTarget, summaryOptions(r)),
	})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context(), r.URL.Query().Get("investigation_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list targets", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"data": targets, "count": len(targets)})
}

type createTargetRequest struct {
	InvestigationID string   `json:"investigation_id"`
	Type            string   `json:"type"`
	Value           string   `json:"value"`
	Description     string   `json:"description"`
	Tools           []string `json:"tools"`
	Analyze         bool     `json:"analyze"`
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	t, err := osint.ParseTargetType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid target type", err)
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		respondError(w, http.StatusBadRequest, "value is required", nil)
		return
	}

	target, err := s.store.CreateTarget(r.Context(), osint.Target{
		InvestigationID: req.InvestigationID,
		Type:            t,
		Value:           req.Value,
		Description:     req.Description,
		Tools:           req.Tools,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "investigation not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create target", err)
		return
	}

	if req.Analyze {
		s.dispatchAsync(target)
		respondJSON(w, http.StatusAccepted, target)
		return
	}
	respondJSON(w, http.StatusCreated, target)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "target", err)
		return
	}
	respondJSON(w, http.StatusOK, target)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "target", err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.dispatcher.InFlight(target.ID) {
			respondError(w, http.StatusConflict, "analysis already in progress", nil)
			return
		}
		s.dispatchAsync(target)
		respondJSON(w, http.StatusAccepted, map[string]interface{}{"target_id": target.ID, "status": "queued"})
		return
	}

	out, err := s.dispatcher.Dispatch(r.Context(), target)
	switch {
	case errors.Is(err, dispatch.ErrDispatchInProgress):
		respondError(w, http.StatusConflict, "analysis already in progress", nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "analysis failed", err)
	default:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"target":      out.Target,
			"results":     withAssessments(out.Results),
			"failed":      out.Failed(),
			"duration_ms": out.Duration.Milliseconds(),
		})
	}
}

type resultView struct {
	osint.AnalysisResult
	Assessment osint.ThreatAssessment `json:"assessment"`
}

func withAssessments(results []osint.AnalysisResult) []resultView {
	out := make([]resultView, len(results))
	for i, r := range results {
		out[i] = resultView{AnalysisResult: r, Assessment: scoring.Assess(r)}
	}
	return out
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, err := s.store.GetTarget(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "target", err)
		return
	}

	q := r.URL.Query()
	f := store.ResultFilter{
		Source: q.Get("source"),
		Status: osint.ResultStatus(q.Get("status")),
		Limit:  queryInt(r, "limit", 0),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		f.Since = ts
	}

	results, err := s.store.ListResults(ctx, target.ID, f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list results", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"data": withAssessments(results), "count": len(results)})
}

func (s *Server) handleTargetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target, err := s.store.GetTarget(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, "target", err)
		return
	}
	results, err := s.store.ListResults(ctx, target.ID, store.ResultFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list results", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"target":  target,
		"summary": scoring.Summarize(results, summaryOptions(r)),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":    s.providers.Describe(),
		"skipped": s.providers.Skipped(),
	})
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.providers.HealthCheck(r.Context())
	out := make(map[string]string, len(checks))
	healthy := true
	for name, err := range checks {
		out[name] = "ok"
		if err != nil {
			out[name] = err.Error()
			healthy = false
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{"healthy": healthy, "providers": out})
}

type importLineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// handleImport accepts JSON, JSONL or CSV target lists.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Importer == nil {
		respondError(w, http.StatusNotImplemented, "import is not enabled", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		respondError(w, http.StatusBadRequest, "empty body", nil)
		return
	}

	ctx := r.Context()
	investigation := r.URL.Query().Get("investigation")
	var (
		created, duplicates int
		targetIDs           []string
		problems            []importLineError
	)
	handle := func(line int, rec ingest.Record, err error) {
		if err == nil {
			if rec.Investigation == "" {
				rec.Investigation = investigation
			}
			var target osint.Target
			var isNew bool
			target, isNew, err = s.opts.Importer.ImportRecord(ctx, rec)
			if err == nil {
				targetIDs = append(targetIDs, target.ID)
				if isNew {
					created++
				} else {
					duplicates++
				}
				return
			}
		}
		problems = append(problems, importLineError{Line: line, Error: err.Error()})
	}

	switch importFormat(r.Header.Get("Content-Type"), body) {
	case "csv":
		err = ingest.ReadCSV(bytes.NewReader(body), handle)
	case "jsonl":
		_, err = ingest.ReadJSONL(bytes.NewReader(body), handle)
	default:
		err = ingest.ReadJSON(body, handle)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid import payload", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imported":   created,
		"duplicates": duplicates,
		"target_ids": targetIDs,
		"errors":     problems,
	})
}

func importFormat(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"):
		return "csv"
	case strings.Contains(ct, "ndjson") || strings.Contains(ct, "jsonl"):
		return "jsonl"
	case strings.Contains(ct, "json"):
		return "json"
	}
	trim := bytes.TrimSpace(body)
	if trim[0] == '[' || (trim[0] == '{' && json.Valid(trim)) {
		return "json"
	}
	if trim[0] == '{' {
		return "jsonl"
	}
	return "csv"
}
