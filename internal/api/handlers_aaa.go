package api

import (
	"encoding/json"
	"net/http"
)

// handleAAAResults returns the most recent probe result per realm.
// GET /api/v1/aaa/results
func (s *Server) handleAAAResults(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		JSONError(w, http.StatusServiceUnavailable, "aaa_disabled", "AAA probing not available")
		return
	}
	JSONResponse(w, http.StatusOK, s.prober.Results())
}

// handleAAAProbe sends a blocking Access-Request for the given realm.
// POST /api/v1/aaa/probe
func (s *Server) handleAAAProbe(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		JSONError(w, http.StatusServiceUnavailable, "aaa_disabled", "AAA probing not available")
		return
	}
	var req struct {
		Realm string `json:"realm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	result := s.prober.Probe(r.Context(), req.Realm)
	JSONResponse(w, http.StatusOK, result)
}

// handleNetResolvers returns per-resolver health statistics.
// GET /api/v1/net/resolvers
func (s *Server) handleNetResolvers(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		JSONError(w, http.StatusServiceUnavailable, "netcheck_disabled", "resolver monitoring not available")
		return
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"healthy":   s.monitor.Healthy(),
		"resolvers": s.monitor.Stats(),
	})
}
