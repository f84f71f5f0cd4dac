package api

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/athena-provd/athena-provd/internal/anqp"
)

// networkRequest identifies a candidate network in API requests. The HESSID
// is given in MAC notation (aa:bb:cc:dd:ee:ff) or left empty when unset.
type networkRequest struct {
	SSID        string `json:"ssid"`
	BSSID       string `json:"bssid"`
	HESSID      string `json:"hessid,omitempty"`
	DomainID    int    `json:"domain_id"`
	StandardESS bool   `json:"standard_ess"`
}

func (nr *networkRequest) toNetwork() (anqp.Network, error) {
	n := anqp.Network{
		SSID:        nr.SSID,
		BSSID:       nr.BSSID,
		DomainID:    nr.DomainID,
		StandardESS: nr.StandardESS,
	}
	if nr.SSID == "" {
		return n, fmt.Errorf("ssid is required")
	}
	if nr.HESSID != "" {
		mac, err := net.ParseMAC(nr.HESSID)
		if err != nil || len(mac) != 6 {
			return n, fmt.Errorf("invalid hessid %q", nr.HESSID)
		}
		buf := make([]byte, 8)
		copy(buf[2:], mac)
		n.HESSID = binary.BigEndian.Uint64(buf)
	}
	return n, nil
}

func (s *Server) hs20Enabled(w http.ResponseWriter) bool {
	if s.evaluator == nil || s.cache == nil {
		JSONError(w, http.StatusServiceUnavailable, "hs20_disabled", "Hotspot 2.0 evaluation is not enabled")
		return false
	}
	return true
}

// handleANQPStats returns cache occupancy.
func (s *Server) handleANQPStats(w http.ResponseWriter, r *http.Request) {
	if !s.hs20Enabled(w) {
		return
	}
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"entries":     s.cache.Len(),
		"home_realms": s.cfg.HS20.HomeRealms,
	})
}

// handleANQPQuery reports whether an ANQP query should be sent for the
// network, installing a pending placeholder when it should.
func (s *Server) handleANQPQuery(w http.ResponseWriter, r *http.Request) {
	if !s.hs20Enabled(w) {
		return
	}

	var body networkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	network, err := body.toNetwork()
	if err != nil {
		JSONError(w, http.StatusBadRequest, "bad_network", err.Error())
		return
	}

	JSONResponse(w, http.StatusOK, map[string]bool{
		"query": s.evaluator.Query(network),
	})
}

// handleANQPResponse ingests a raw ANQP response. Elements are keyed by
// their decimal info ID with hex-encoded payloads.
func (s *Server) handleANQPResponse(w http.ResponseWriter, r *http.Request) {
	if !s.hs20Enabled(w) {
		return
	}

	var body struct {
		networkRequest
		Elements map[string]string `json:"elements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	network, err := body.toNetwork()
	if err != nil {
		JSONError(w, http.StatusBadRequest, "bad_network", err.Error())
		return
	}

	raw := make(map[anqp.ElementType][]byte, len(body.Elements))
	for id, payload := range body.Elements {
		n, err := strconv.Atoi(id)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "bad_element", fmt.Sprintf("invalid element ID %q", id))
			return
		}
		data, err := hex.DecodeString(payload)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "bad_element", fmt.Sprintf("element %s payload is not hex", id))
			return
		}
		raw[anqp.ElementType(n)] = data
	}

	if err := s.evaluator.HandleResponse(network, raw); err != nil {
		JSONError(w, http.StatusUnprocessableEntity, "parse_failed", err.Error())
		return
	}

	JSONResponse(w, http.StatusOK, map[string]string{"status": "cached"})
}

// handleANQPEvaluate ranks a cached network against the home realms.
func (s *Server) handleANQPEvaluate(w http.ResponseWriter, r *http.Request) {
	if !s.hs20Enabled(w) {
		return
	}

	var body networkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		JSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	network, err := body.toNetwork()
	if err != nil {
		JSONError(w, http.StatusBadRequest, "bad_network", err.Error())
		return
	}

	result, ok := s.evaluator.Evaluate(network)
	if !ok {
		JSONError(w, http.StatusNotFound, "not_cached", "no resolved cache entry for network")
		return
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"ssid":      body.SSID,
		"bssid":     body.BSSID,
		"rank":      int(result.Rank),
		"realm":     result.Realm,
		"realms":    result.Realms,
		"qualified": result.Qualified,
	})
}

// handleANQPFlush empties the cache.
func (s *Server) handleANQPFlush(w http.ResponseWriter, r *http.Request) {
	if !s.hs20Enabled(w) {
		return
	}
	s.cache.Clear()
	s.logger.Info("ANQP cache flushed via API", "remote", r.RemoteAddr)
	JSONResponse(w, http.StatusOK, map[string]string{"status": "flushed"})
}
