// Package netcheck monitors the resolvers handed out with the lease and
// raises events when they stop answering.
package netcheck

import (
	"log/slog"
	"math"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

// ResolverStats holds latency and reliability stats for one resolver.
type ResolverStats struct {
	Address     string  `json:"address"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	MinLatency  float64 `json:"min_latency_ms"`
	MaxLatency  float64 `json:"max_latency_ms"`
	LastLatency float64 `json:"last_latency_ms"`
	Successes   int64   `json:"successes"`
	Failures    int64   `json:"failures"`
	Reliability float64 `json:"reliability_pct"`
	LastCheck   string  `json:"last_check"`
	Healthy     bool    `json:"healthy"`
	Extra       bool    `json:"extra,omitempty"`
}

// MonitorConfig holds configuration for the resolver monitor.
type MonitorConfig struct {
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
	ExtraServers     []string
}

// Monitor probes the lease's DNS servers (plus any configured extras)
// with a recursive ". NS" query and tracks per-resolver latency and
// health. A resolver goes unhealthy after FailureThreshold consecutive
// failures and recovers on the next success; both transitions publish
// events.
//
// The probe loop runs for the life of the daemon. SetServers swaps the
// lease-derived set in and out as leases come and go; with no servers
// the loop idles.
type Monitor struct {
	mu      sync.RWMutex
	servers map[string]*resolverState
	order   []string // addresses sorted healthy-first, then by latency

	iface     string
	extras    []string
	bus       *events.Bus
	logger    *slog.Logger
	done      chan struct{}
	interval  time.Duration
	timeout   time.Duration
	threshold int

	// EWMA smoothing factor (0-1, higher = more weight on recent samples)
	alpha float64
}

type resolverState struct {
	address     string
	avgLatency  float64 // EWMA in ms
	minLatency  float64
	maxLatency  float64
	lastLatency float64
	successes   int64
	failures    int64
	lastCheck   time.Time
	healthy     bool
	extra       bool
	// consecutive failures for health marking
	consecutiveFail int
}

// NewMonitor creates a resolver monitor for the given interface.
func NewMonitor(iface string, bus *events.Bus, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}

	extras := make([]string, 0, len(cfg.ExtraServers))
	for _, addr := range cfg.ExtraServers {
		extras = append(extras, withDefaultPort(addr))
	}

	m := &Monitor{
		servers:   make(map[string]*resolverState),
		iface:     iface,
		extras:    extras,
		bus:       bus,
		logger:    logger,
		done:      make(chan struct{}),
		interval:  cfg.Interval,
		timeout:   cfg.ProbeTimeout,
		threshold: cfg.FailureThreshold,
		alpha:     0.3,
	}

	for _, addr := range extras {
		m.addServer(addr, true)
	}

	return m
}

// Start begins the periodic probe loop.
func (m *Monitor) Start() {
	go m.probeLoop()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	close(m.done)
}

// SetServers replaces the lease-derived resolver set. Configured extras
// are always kept. State for resolvers present in both the old and new
// sets is preserved; dropped resolvers lose their metric series.
func (m *Monitor) SetServers(servers []net.IP) {
	keep := make(map[string]bool, len(servers)+len(m.extras))
	for _, ip := range servers {
		if ip == nil {
			continue
		}
		keep[withDefaultPort(ip.String())] = true
	}
	for _, addr := range m.extras {
		keep[addr] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for addr := range m.servers {
		if !keep[addr] {
			delete(m.servers, addr)
			metrics.ResolverLatencySeconds.DeleteLabelValues(addr)
			metrics.ResolverHealthy.DeleteLabelValues(addr)
		}
	}
	for addr := range keep {
		if _, ok := m.servers[addr]; !ok {
			m.addServerLocked(addr, !isLeaseServer(addr, servers))
		}
	}

	m.order = m.order[:0]
	for addr := range m.servers {
		m.order = append(m.order, addr)
	}
	m.reorder()
}

func isLeaseServer(addr string, servers []net.IP) bool {
	for _, ip := range servers {
		if ip != nil && withDefaultPort(ip.String()) == addr {
			return true
		}
	}
	return false
}

func (m *Monitor) addServer(addr string, extra bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addServerLocked(addr, extra)
	m.order = append(m.order, addr)
}

// addServerLocked inserts a fresh resolver state. Caller must hold mu.
func (m *Monitor) addServerLocked(addr string, extra bool) {
	m.servers[addr] = &resolverState{
		address:    addr,
		avgLatency: 50, // initial estimate 50ms
		minLatency: math.MaxFloat64,
		healthy:    true,
		extra:      extra,
	}
	metrics.ResolverHealthy.WithLabelValues(addr).Set(1)
}

// Healthy reports whether at least one tracked resolver is healthy.
// True when nothing is tracked yet (no lease, no verdict).
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.servers) == 0 {
		return true
	}
	for _, s := range m.servers {
		if s.healthy {
			return true
		}
	}
	return false
}

// Stats returns stats for all tracked resolvers, healthy first.
func (m *Monitor) Stats() []ResolverStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ResolverStats, 0, len(m.servers))
	for _, addr := range m.order {
		s := m.servers[addr]
		total := s.successes + s.failures
		reliability := 100.0
		if total > 0 {
			reliability = float64(s.successes) / float64(total) * 100
		}
		minLat := s.minLatency
		if minLat == math.MaxFloat64 {
			minLat = 0
		}
		lastCheck := ""
		if !s.lastCheck.IsZero() {
			lastCheck = s.lastCheck.Format(time.RFC3339)
		}
		result = append(result, ResolverStats{
			Address:     s.address,
			AvgLatency:  math.Round(s.avgLatency*100) / 100,
			MinLatency:  math.Round(minLat*100) / 100,
			MaxLatency:  math.Round(s.maxLatency*100) / 100,
			LastLatency: math.Round(s.lastLatency*100) / 100,
			Successes:   s.successes,
			Failures:    s.failures,
			Reliability: math.Round(reliability*100) / 100,
			LastCheck:   lastCheck,
			Healthy:     s.healthy,
			Extra:       s.extra,
		})
	}
	return result
}

// recordSuccess folds a successful probe into the resolver's stats and
// publishes a recovery event if the resolver was unhealthy.
func (m *Monitor) recordSuccess(addr string, latency time.Duration) {
	m.mu.Lock()

	s, ok := m.servers[addr]
	if !ok {
		m.mu.Unlock()
		return
	}

	ms := float64(latency.Microseconds()) / 1000.0
	s.successes++
	s.lastLatency = ms
	s.lastCheck = time.Now()
	s.consecutiveFail = 0
	recovered := !s.healthy
	s.healthy = true

	// EWMA update
	s.avgLatency = m.alpha*ms + (1-m.alpha)*s.avgLatency

	if ms < s.minLatency {
		s.minLatency = ms
	}
	if ms > s.maxLatency {
		s.maxLatency = ms
	}

	metrics.ResolverLatencySeconds.WithLabelValues(addr).Set(s.avgLatency / 1000)
	metrics.ResolverHealthy.WithLabelValues(addr).Set(1)

	m.reorder()
	m.mu.Unlock()

	if recovered {
		m.logger.Info("resolver recovered", "resolver", addr, "latency_ms", ms)
		m.bus.Publish(events.Event{
			Type: events.EventNetRecovered,
			Net: &events.NetData{
				Interface: m.iface,
				Resolver:  addr,
				Healthy:   true,
				RTTMillis: latency.Milliseconds(),
			},
		})
	}
}

// recordFailure folds a failed probe into the resolver's stats and
// publishes a degradation event when the failure threshold is crossed.
func (m *Monitor) recordFailure(addr string) {
	m.mu.Lock()

	s, ok := m.servers[addr]
	if !ok {
		m.mu.Unlock()
		return
	}

	s.failures++
	s.lastCheck = time.Now()
	s.consecutiveFail++
	strikes := s.consecutiveFail

	degraded := s.healthy && s.consecutiveFail >= m.threshold
	if degraded {
		s.healthy = false
		metrics.ResolverHealthy.WithLabelValues(addr).Set(0)
	}

	m.reorder()
	m.mu.Unlock()

	if degraded {
		m.logger.Warn("resolver degraded",
			"resolver", addr,
			"consecutive_failures", strikes)
		m.bus.Publish(events.Event{
			Type: events.EventNetDegraded,
			Net: &events.NetData{
				Interface: m.iface,
				Resolver:  addr,
				Healthy:   false,
			},
		})
	}
}

// reorder sorts the order slice: healthy first, then by avg latency.
// Caller must hold mu.
func (m *Monitor) reorder() {
	sort.SliceStable(m.order, func(i, j int) bool {
		si := m.servers[m.order[i]]
		sj := m.servers[m.order[j]]

		if si.healthy != sj.healthy {
			return si.healthy
		}
		return si.avgLatency < sj.avgLatency
	})
}

// probeLoop periodically probes all tracked resolvers.
func (m *Monitor) probeLoop() {
	m.probeAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.done:
			return
		}
	}
}

// probeAll sends a test query to each resolver and records results.
func (m *Monitor) probeAll() {
	m.mu.RLock()
	addrs := make([]string, len(m.order))
	copy(addrs, m.order)
	m.mu.RUnlock()

	if len(addrs) == 0 {
		return
	}

	client := &dns.Client{Timeout: m.timeout}

	msg := new(dns.Msg)
	msg.SetQuestion(".", dns.TypeNS)
	msg.RecursionDesired = true

	for _, addr := range addrs {
		start := time.Now()
		_, _, err := client.Exchange(msg, addr)
		elapsed := time.Since(start)

		if err != nil {
			metrics.ResolverProbes.WithLabelValues("error").Inc()
			m.recordFailure(addr)
			m.logger.Debug("resolver probe failed", "resolver", addr, "error", err)
		} else {
			metrics.ResolverProbes.WithLabelValues("ok").Inc()
			m.recordSuccess(addr, elapsed)
			m.logger.Debug("resolver probe ok",
				"resolver", addr,
				"latency_ms", float64(elapsed.Microseconds())/1000)
		}
	}
}

func withDefaultPort(addr string) string {
	if !strings.Contains(addr, ":") {
		return addr + ":53"
	}
	return addr
}
