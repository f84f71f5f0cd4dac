// Package conflict provides duplicate-address detection via ARP and ICMP probing.
package conflict

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

// Probe method labels used in metrics and events.
const (
	MethodARP  = "arp"
	MethodICMP = "icmp"
)

// arpProber is the probe surface of ARPProber.
type arpProber interface {
	Available() bool
	Probe(ctx context.Context, ip net.IP) (bool, net.HardwareAddr, error)
}

// icmpProber is the probe surface of ICMPProber.
type icmpProber interface {
	Available() bool
	Probe(ctx context.Context, ip net.IP) (bool, error)
}

// Checker probes offered addresses for duplicate use before the client
// commits to them. ARP is the primary method; ICMP is the fallback when
// ARP probing is unavailable or errors out. Results are advisory: the
// lease state machine never blocks on a check, and probe errors degrade
// to "clear".
type Checker struct {
	iface        string
	arp          arpProber
	icmp         icmpProber
	cache        *ProbeCache
	bus          *events.Bus
	logger       *slog.Logger
	probeTimeout time.Duration
	probeCount   int
}

// CheckerConfig holds configuration for the conflict checker.
type CheckerConfig struct {
	ProbeTimeout time.Duration
	ProbeCount   int
	ICMPFallback bool
	CacheTTL     time.Duration
}

// NewChecker creates a conflict checker for the given interface.
// Pass a nil icmpProber to disable the ICMP fallback.
func NewChecker(
	ifaceName string,
	arp arpProber,
	icmpProber icmpProber,
	bus *events.Bus,
	logger *slog.Logger,
	cfg CheckerConfig,
) *Checker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Second
	}

	return &Checker{
		iface:        ifaceName,
		arp:          arp,
		icmp:         icmpProber,
		cache:        NewProbeCache(cfg.CacheTTL),
		bus:          bus,
		logger:       logger,
		probeTimeout: cfg.ProbeTimeout,
		probeCount:   cfg.ProbeCount,
	}
}

// Result represents the outcome of a duplicate-address check.
type Result struct {
	IP           net.IP
	Conflict     bool
	Method       string // "arp" or "icmp"
	ResponderMAC string
	Duration     time.Duration
	Err          error
	CacheHit     bool
}

// Check probes a single offered address for duplicate use.
// ARP probes run up to ProbeCount times; any reply is a conflict, and a
// probe error switches to the ICMP fallback. Detected conflicts are
// cached, published on the bus, and counted.
func (c *Checker) Check(ctx context.Context, ip net.IP) Result {
	start := time.Now()

	// Recently probed?
	if c.cache.IsConflict(ip) {
		c.logger.Debug("conflict check cache hit (conflict)", "ip", ip.String())
		return Result{IP: ip, Conflict: true, CacheHit: true, Duration: time.Since(start)}
	}
	if c.cache.IsClear(ip) {
		c.logger.Debug("conflict check cache hit (clear)", "ip", ip.String())
		return Result{IP: ip, CacheHit: true, Duration: time.Since(start)}
	}

	var arpErr error
	if c.arp != nil && c.arp.Available() {
		for attempt := 1; attempt <= c.probeCount; attempt++ {
			probeStart := time.Now()
			probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
			conflict, mac, err := c.arp.Probe(probeCtx, ip)
			cancel()

			metrics.ConflictProbeDuration.WithLabelValues(MethodARP).Observe(time.Since(probeStart).Seconds())

			if err != nil {
				metrics.ConflictProbes.WithLabelValues(MethodARP, "error").Inc()
				c.logger.Error("ARP probe error",
					"ip", ip.String(),
					"attempt", attempt,
					"error", err)
				arpErr = err
				break
			}

			if conflict {
				metrics.ConflictProbes.WithLabelValues(MethodARP, "conflict").Inc()
				responder := ""
				if mac != nil {
					responder = mac.String()
				}
				return c.conflictFound(ip, MethodARP, responder, attempt, start)
			}

			metrics.ConflictProbes.WithLabelValues(MethodARP, "clear").Inc()
		}

		if arpErr == nil {
			c.cache.MarkClear(ip)
			c.logger.Debug("address clear after probe",
				"ip", ip.String(),
				"method", MethodARP,
				"probes", c.probeCount,
				"duration", time.Since(start).String())
			return Result{IP: ip, Method: MethodARP, Duration: time.Since(start)}
		}
	}

	if c.icmp != nil && c.icmp.Available() {
		probeStart := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		conflict, err := c.icmp.Probe(probeCtx, ip)
		cancel()

		metrics.ConflictProbeDuration.WithLabelValues(MethodICMP).Observe(time.Since(probeStart).Seconds())

		if err != nil {
			metrics.ConflictProbes.WithLabelValues(MethodICMP, "error").Inc()
			c.logger.Error("ICMP probe error",
				"ip", ip.String(),
				"error", err)
			return Result{IP: ip, Err: err, Duration: time.Since(start)}
		}

		if conflict {
			metrics.ConflictProbes.WithLabelValues(MethodICMP, "conflict").Inc()
			return c.conflictFound(ip, MethodICMP, "", 1, start)
		}

		metrics.ConflictProbes.WithLabelValues(MethodICMP, "clear").Inc()
		c.cache.MarkClear(ip)
		c.logger.Debug("address clear after probe",
			"ip", ip.String(),
			"method", MethodICMP,
			"duration", time.Since(start).String())
		return Result{IP: ip, Method: MethodICMP, Duration: time.Since(start)}
	}

	if arpErr != nil {
		return Result{IP: ip, Err: arpErr, Duration: time.Since(start)}
	}

	c.logger.Warn("no probe method available, assuming clear", "ip", ip.String())
	return Result{IP: ip, Duration: time.Since(start)}
}

// Invalidate drops any cached verdict for the address so the next check
// probes again. Called when a lease on the address is released or declined.
func (c *Checker) Invalidate(ip net.IP) {
	c.cache.Invalidate(ip)
}

func (c *Checker) conflictFound(ip net.IP, method, responderMAC string, probes int, start time.Time) Result {
	metrics.ConflictsDetected.Inc()
	c.cache.MarkConflict(ip)

	c.logger.Warn("address conflict detected",
		"ip", ip.String(),
		"method", method,
		"responder_mac", responderMAC,
		"interface", c.iface,
		"duration", time.Since(start).String())

	c.bus.Publish(events.Event{
		Type: events.EventConflictDetected,
		Conflict: &events.ConflictData{
			Interface:       c.iface,
			IP:              ip.String(),
			DetectionMethod: method,
			ResponderMAC:    responderMAC,
			ProbeCount:      probes,
		},
	})

	return Result{
		IP:           ip,
		Conflict:     true,
		Method:       method,
		ResponderMAC: responderMAC,
		Duration:     time.Since(start),
	}
}
