package api

import (
	"net/http"
	"strconv"
	"time"
)

// handleHealth is the unauthenticated health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleStatus returns a snapshot of the client and its subsystems.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"interface":   s.cfg.Daemon.Interface,
		"state":       string(s.client.State()),
		"version":     s.version,
		"config_path": s.configPath,
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"event_drops": s.bus.Drops(),
	}

	if l := s.client.Lease(); l != nil {
		resp["lease"] = l
	}
	if s.cache != nil {
		resp["anqp_entries"] = s.cache.Len()
	}
	if s.rogueDetector != nil {
		resp["rogue_servers"] = s.rogueDetector.ActiveCount()
	}
	if s.monitor != nil {
		resp["resolvers_healthy"] = s.monitor.Healthy()
	}
	if s.jrnl != nil {
		resp["journal_records"] = s.jrnl.Count()
	}

	JSONResponse(w, http.StatusOK, resp)
}

// handleGetLease returns the currently bound lease.
func (s *Server) handleGetLease(w http.ResponseWriter, r *http.Request) {
	l := s.client.Lease()
	if l == nil {
		JSONError(w, http.StatusNotFound, "no_lease", "no lease is currently bound")
		return
	}
	JSONResponse(w, http.StatusOK, l)
}

// handleLeaseHistory returns archived leases for the client interface,
// newest first.
func (s *Server) handleLeaseHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			JSONError(w, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.leaseStore.History(s.cfg.Daemon.Interface, limit)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(history)))
	JSONResponse(w, http.StatusOK, history)
}

// handleRenew asks the state machine to renew the bound lease.
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if s.client.Lease() == nil {
		JSONError(w, http.StatusConflict, "no_lease", "no lease is currently bound")
		return
	}
	s.client.Renew()
	s.logger.Info("lease renewal requested via API", "remote", r.RemoteAddr)
	JSONResponse(w, http.StatusAccepted, map[string]string{"status": "renew_requested"})
}

// handleRelease asks the state machine to release the bound lease and stop.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if s.client.Lease() == nil {
		JSONError(w, http.StatusConflict, "no_lease", "no lease is currently bound")
		return
	}
	s.client.Release()
	s.logger.Info("lease release requested via API", "remote", r.RemoteAddr)
	JSONResponse(w, http.StatusAccepted, map[string]string{"status": "release_requested"})
}

// handleRestart restarts lease acquisition from scratch.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.client.Stop()
	s.client.Start()
	s.logger.Info("client restart requested via API", "remote", r.RemoteAddr)
	JSONResponse(w, http.StatusAccepted, map[string]string{"status": "restart_requested"})
}
