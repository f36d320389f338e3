package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 1000

// handleListRuns returns indexed runs, newest first. Supports the device,
// outcome and limit query parameters.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.indexStore.ListRuns(r.Context(), indexstore.RunFilter{
		Device:  r.URL.Query().Get("device"),
		Outcome: r.URL.Query().Get("outcome"),
		Limit:   limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs: " + err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

// handleGetRun returns a single indexed run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleListRunTests returns the test results of a run in first-seen order.
func (s *server) handleListRunTests(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	results, err := s.indexStore.ListTestResults(r.Context(), run.RunID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing test results: " + err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": run.RunID,
		"tests":  results,
	})
}

// handleGetRunReport serves the stored JSON report of a run.
func (s *server) handleGetRunReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	if run.ReportName == "" {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"run has no stored report"})

		return
	}

	data, err := s.reader.GetReport(r.Context(), run.ReportName)
	if err != nil {
		s.log.WithError(err).WithField("report", run.ReportName).
			Warn("Failed to read report")
		writeJSON(w, http.StatusBadGateway,
			errorResponse{"reading report failed"})

		return
	}

	if data == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"report not found"})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleTestHistory returns the most recent results of a test across runs.
func (s *server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"test name is required"})

		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	results, err := s.indexStore.ListTestHistory(r.Context(), name, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing test history: " + err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"test":    name,
		"results": results,
	})
}

// lookupRun resolves the {id} URL parameter. On failure it writes the
// error response and returns false.
func (s *server) lookupRun(
	w http.ResponseWriter, r *http.Request,
) (*indexstore.Run, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run id is required"})

		return nil, false
	}

	run, err := s.indexStore.GetRun(r.Context(), id)
	if errors.Is(err, indexstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"run not found"})

		return nil, false
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting run: " + err.Error()})

		return nil, false
	}

	return run, true
}

// parseLimit reads the optional limit query parameter.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"limit must be between 1 and 1000"})

		return 0, false
	}

	return limit, true
}
