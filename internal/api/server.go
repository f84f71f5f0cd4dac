// Package api provides the HTTP API server, router, auth, and SSE event streaming.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athena-provd/athena-provd/internal/aaa"
	"github.com/athena-provd/athena-provd/internal/anqp"
	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/dhcp"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/hs20"
	"github.com/athena-provd/athena-provd/internal/journal"
	"github.com/athena-provd/athena-provd/internal/lease"
	"github.com/athena-provd/athena-provd/internal/netcheck"
	"github.com/athena-provd/athena-provd/internal/rogue"
)

// Server is the HTTP API server for athena-provd.
type Server struct {
	cfg           *config.Config
	configPath    string
	client        *dhcp.Client
	leaseStore    *lease.Store
	cache         *anqp.Cache
	evaluator     *hs20.Evaluator
	rogueDetector *rogue.Detector
	jrnl          *journal.Journal
	prober        *aaa.Prober
	monitor       *netcheck.Monitor
	bus           *events.Bus
	logger        *slog.Logger
	httpServer    *http.Server
	auth          *AuthMiddleware
	sseHub        *SSEHub
	startTime     time.Time
	version       string
}

// NewServer creates a new API server.
func NewServer(
	cfg *config.Config,
	client *dhcp.Client,
	store *lease.Store,
	bus *events.Bus,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		cfg:        cfg,
		client:     client,
		leaseStore: store,
		bus:        bus,
		logger:     logger,
		startTime:  time.Now(),
		version:    "dev",
	}

	for _, opt := range opts {
		opt(s)
	}

	s.auth = NewAuthMiddleware(cfg.API, logger)
	s.sseHub = NewSSEHub(bus, logger)

	return s
}

// ServerOption configures optional Server fields.
type ServerOption func(*Server)

// WithConfigPath sets the config file path reported by status.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// WithVersion sets the server version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithANQP sets the ANQP cache and Hotspot 2.0 evaluator.
func WithANQP(cache *anqp.Cache, ev *hs20.Evaluator) ServerOption {
	return func(s *Server) {
		s.cache = cache
		s.evaluator = ev
	}
}

// WithRogueDetector sets the rogue DHCP server detector.
func WithRogueDetector(rd *rogue.Detector) ServerOption {
	return func(s *Server) { s.rogueDetector = rd }
}

// WithJournal sets the provisioning journal.
func WithJournal(j *journal.Journal) ServerOption {
	return func(s *Server) { s.jrnl = j }
}

// WithAAAProber sets the RADIUS reachability prober.
func WithAAAProber(p *aaa.Prober) ServerOption {
	return func(s *Server) { s.prober = p }
}

// WithNetMonitor sets the resolver health monitor.
func WithNetMonitor(m *netcheck.Monitor) ServerOption {
	return func(s *Server) { s.monitor = m }
}

// Listen binds the API server to its configured address and prepares routes.
// Call this synchronously to catch port conflicts before starting background serve.
func (s *Server) Listen() (net.Listener, error) {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := newMetricsMiddleware(mux)

	s.httpServer = &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout — SSE streams need to stay open
	}

	ln, err := net.Listen("tcp", s.cfg.API.Listen)
	if err != nil {
		return nil, fmt.Errorf("binding API server to %s: %w", s.cfg.API.Listen, err)
	}

	go s.sseHub.Run()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return ln, nil
}

// Serve accepts connections on the listener. Blocks until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

// Start is a convenience that calls Listen + Serve. Blocks until shutdown.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.sseHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Prometheus metrics (no auth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Health check (no auth)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Auth (no auth required — these handle their own auth)
	mux.HandleFunc("POST /api/v1/auth/login", s.auth.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", s.auth.handleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", s.auth.handleMe)

	// Client status and lease
	mux.HandleFunc("GET /api/v1/status", s.auth.RequireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/v1/lease", s.auth.RequireAuth(s.handleGetLease))
	mux.HandleFunc("GET /api/v1/lease/history", s.auth.RequireAuth(s.handleLeaseHistory))

	// Client commands
	mux.HandleFunc("POST /api/v1/client/renew", s.auth.RequireAuth(s.handleRenew))
	mux.HandleFunc("POST /api/v1/client/release", s.auth.RequireAuth(s.handleRelease))
	mux.HandleFunc("POST /api/v1/client/restart", s.auth.RequireAuth(s.handleRestart))

	// Hotspot 2.0 / ANQP
	mux.HandleFunc("GET /api/v1/anqp/stats", s.auth.RequireAuth(s.handleANQPStats))
	mux.HandleFunc("POST /api/v1/anqp/query", s.auth.RequireAuth(s.handleANQPQuery))
	mux.HandleFunc("POST /api/v1/anqp/response", s.auth.RequireAuth(s.handleANQPResponse))
	mux.HandleFunc("POST /api/v1/anqp/evaluate", s.auth.RequireAuth(s.handleANQPEvaluate))
	mux.HandleFunc("POST /api/v1/anqp/flush", s.auth.RequireAuth(s.handleANQPFlush))

	// Rogue DHCP server detection
	mux.HandleFunc("GET /api/v1/rogue", s.auth.RequireAuth(s.handleRogueList))
	mux.HandleFunc("GET /api/v1/rogue/stats", s.auth.RequireAuth(s.handleRogueStats))
	mux.HandleFunc("POST /api/v1/rogue/acknowledge", s.auth.RequireAuth(s.handleRogueAcknowledge))
	mux.HandleFunc("POST /api/v1/rogue/remove", s.auth.RequireAuth(s.handleRogueRemove))
	mux.HandleFunc("POST /api/v1/rogue/scan", s.auth.RequireAuth(s.handleRogueScan))

	// Provisioning journal
	mux.HandleFunc("GET /api/v1/journal", s.auth.RequireAuth(s.handleJournalQuery))

	// AAA reachability
	mux.HandleFunc("GET /api/v1/aaa/results", s.auth.RequireAuth(s.handleAAAResults))
	mux.HandleFunc("POST /api/v1/aaa/probe", s.auth.RequireAuth(s.handleAAAProbe))

	// Resolver health
	mux.HandleFunc("GET /api/v1/net/resolvers", s.auth.RequireAuth(s.handleNetResolvers))

	// Events
	mux.HandleFunc("GET /api/v1/events/stream", s.auth.RequireAuth(s.handleSSE))
}

// UpdateConfig updates the runtime config pointer (called on live config reload).
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfg = cfg
	s.auth.UpdateUsers(cfg.API.Auth.Users)
}

// JSONResponse writes a JSON response with the given status code.
func JSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
