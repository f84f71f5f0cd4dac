package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/athena-provd/athena-provd/internal/journal"
)

// handleJournalQuery returns provisioning journal records, newest first.
// Supports ?type=, ?from=, ?to= (RFC 3339), and ?limit=.
// GET /api/v1/journal
func (s *Server) handleJournalQuery(w http.ResponseWriter, r *http.Request) {
	if s.jrnl == nil {
		JSONError(w, http.StatusServiceUnavailable, "journal_disabled", "journal not available")
		return
	}

	params := journal.QueryParams{
		Type: r.URL.Query().Get("type"),
	}

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "bad_from", "from must be RFC 3339")
			return
		}
		params.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "bad_to", "to must be RFC 3339")
			return
		}
		params.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			JSONError(w, http.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		params.Limit = n
	}

	records, err := s.jrnl.Query(params)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(records)))
	JSONResponse(w, http.StatusOK, records)
}
