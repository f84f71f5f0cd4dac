package ddns

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/hostname"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

// Manager registers the device's own lease in DNS and keeps the records
// current across renewals. It subscribes to the event bus and processes
// lease events asynchronously; a DNS update never blocks the lease state
// machine.
type Manager struct {
	mu      sync.RWMutex // guards cfg across SIGHUP reloads
	cfg     config.DDNSConfig
	updater DNSUpdater
	bus     *events.Bus
	logger  *slog.Logger
	ch      chan events.Event
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a DDNS manager. Returns nil when DDNS is disabled.
func NewManager(cfg config.DDNSConfig, bus *events.Bus, logger *slog.Logger) *Manager {
	if !cfg.Enabled {
		return nil
	}

	return &Manager{
		cfg: cfg,
		updater: NewRFC2136Client(
			cfg.Server,
			cfg.TSIGName,
			cfg.TSIGAlgorithm,
			cfg.TSIGSecret,
			10*time.Second,
			logger,
		),
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the event bus and begins processing DNS updates.
func (m *Manager) Start() {
	m.ch = m.bus.Subscribe(500)

	m.logger.Info("DDNS manager started",
		"zone", m.cfg.Zone,
		"reverse_zone", m.cfg.ReverseZone,
		"server", m.cfg.Server)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case evt, ok := <-m.ch:
				if !ok {
					return
				}
				m.handleEvent(evt)
			case <-m.done:
				return
			}
		}
	}()
}

// Stop shuts down the DDNS manager and waits for in-flight updates.
func (m *Manager) Stop() {
	close(m.done)
	if m.ch != nil {
		m.bus.Unsubscribe(m.ch)
	}
	m.wg.Wait()
	m.logger.Info("DDNS manager stopped")
}

// UpdateConfig swaps in new zone/retry settings (for hot-reload).
// The update target server and TSIG credentials keep their initial values.
func (m *Manager) UpdateConfig(cfg config.DDNSConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

func (m *Manager) config() config.DDNSConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// handleEvent dispatches async DNS updates for lease lifecycle events.
func (m *Manager) handleEvent(evt events.Event) {
	if evt.Lease == nil {
		return
	}

	cfg := m.config()

	switch evt.Type {
	case events.EventLeaseAcquired:
		m.async(func() { m.register(cfg, evt) })
	case events.EventLeaseRenewed:
		if cfg.UpdateOnRenew {
			m.async(func() { m.register(cfg, evt) })
		}
	case events.EventLeaseReleased, events.EventLeaseExpired:
		if cfg.RemoveOnRelease {
			m.async(func() { m.unregister(cfg, evt) })
		}
	}
}

func (m *Manager) async(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// register creates the forward (A) and reverse (PTR) records for the lease.
func (m *Manager) register(cfg config.DDNSConfig, evt events.Event) {
	l := evt.Lease
	if l.IP == nil {
		return
	}

	fqdn := m.fqdn(cfg, l)
	if fqdn == "" {
		m.logger.Debug("skipping DDNS update, no usable name", "ip", l.IP.String())
		return
	}

	ttl := uint32(cfg.TTL)

	start := time.Now()
	err := m.withRetry(cfg, "AddA", fqdn, func() error {
		return m.updater.AddA(cfg.Zone, fqdn, l.IP, ttl)
	})
	observe("add_a", start, err)

	if cfg.ReverseZone != "" {
		ptrName := ReverseIPName(l.IP)
		ptrStart := time.Now()
		err := m.withRetry(cfg, "AddPTR", ptrName, func() error {
			return m.updater.AddPTR(cfg.ReverseZone, ptrName, fqdn, ttl)
		})
		observe("add_ptr", ptrStart, err)
	}
}

// unregister removes the forward and reverse records for the lease.
// Removals are best-effort: a single attempt, failures logged.
func (m *Manager) unregister(cfg config.DDNSConfig, evt events.Event) {
	l := evt.Lease
	if l.IP == nil {
		return
	}

	fqdn := m.fqdn(cfg, l)
	if fqdn == "" {
		return
	}

	start := time.Now()
	err := m.updater.RemoveA(cfg.Zone, fqdn)
	if err != nil {
		m.logger.Warn("failed to remove A record (best-effort)",
			"fqdn", fqdn, "error", err)
	}
	observe("remove_a", start, err)

	if cfg.ReverseZone != "" {
		ptrName := ReverseIPName(l.IP)
		ptrStart := time.Now()
		err := m.updater.RemovePTR(cfg.ReverseZone, ptrName)
		if err != nil {
			m.logger.Warn("failed to remove PTR record (best-effort)",
				"ptr", ptrName, "error", err)
		}
		observe("remove_ptr", ptrStart, err)
	}
}

// fqdn constructs the name to register: sanitized hostname + forward zone.
// A lease without a usable hostname gets a MAC-derived label.
func (m *Manager) fqdn(cfg config.DDNSConfig, l *events.LeaseData) string {
	host, _ := hostname.Sanitise(l.Hostname, l.MAC)

	domain := strings.TrimSuffix(cfg.Zone, ".")
	if domain == "" {
		return ""
	}
	return host + "." + domain + "."
}

// withRetry retries an update with doubling backoff and returns the last
// error when all attempts fail.
func (m *Manager) withRetry(cfg config.DDNSConfig, op, name string, fn func() error) error {
	backoff := config.DurationOr(cfg.RetryBackoff, config.DefaultDDNSRetryBackoff)
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff * time.Duration(1<<uint(attempt-1))):
			case <-m.done:
				return err
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		m.logger.Warn("DDNS operation failed, retrying",
			"op", op, "name", name, "attempt", attempt+1,
			"max_retries", retries, "error", err)
	}
	m.logger.Error("DDNS operation failed after all retries",
		"op", op, "name", name, "error", err)
	return err
}

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.DDNSUpdates.WithLabelValues(op, result).Inc()
	metrics.DDNSDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// NewManagerForTest creates a manager with an injected updater and no
// retry delay.
func NewManagerForTest(cfg config.DDNSConfig, bus *events.Bus, logger *slog.Logger, updater DNSUpdater) *Manager {
	cfg.RetryBackoff = "1ms"
	return &Manager{
		cfg:     cfg,
		updater: updater,
		bus:     bus,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

var _ DNSUpdater = (*RFC2136Client)(nil)
