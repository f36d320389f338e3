package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}

	// Report whether the index is reachable without failing the probe.
	if _, err := s.indexStore.ListRuns(r.Context(), indexstore.RunFilter{Limit: 1}); err != nil {
		resp["index"] = "unavailable"
	} else {
		resp["index"] = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}
