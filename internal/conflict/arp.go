package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/j-keck/arping"
)

// ARPProber sends ARP requests and listens for replies to detect addresses
// already defended on the local segment (RFC 826, probe semantics per
// RFC 5227). A reply means another host holds the address.
type ARPProber struct {
	iface     *net.Interface
	logger    *slog.Logger
	available bool
	mu        sync.Mutex
}

// NewARPProber creates a new ARP prober bound to the given interface.
// If the interface cannot be resolved, logs a LOUD warning and returns a
// prober that always reports "clear" (reduced safety).
func NewARPProber(ifaceName string, logger *slog.Logger) (*ARPProber, error) {
	p := &ARPProber{
		logger: logger,
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		logger.Error("FAILED TO RESOLVE INTERFACE — IP conflict detection via ARP is DISABLED",
			"interface", ifaceName,
			"error", err)
		p.available = false
		return p, nil
	}

	p.iface = iface
	p.available = true
	logger.Info("ARP prober initialized",
		"interface", ifaceName,
		"src_mac", iface.HardwareAddr.String())

	return p, nil
}

// Available returns true if the ARP prober resolved its interface.
func (p *ARPProber) Available() bool {
	return p != nil && p.available
}

// Probe sends an ARP request for the target IP and waits for a reply.
// Returns the responder's MAC if a reply is received (conflict detected),
// or a nil MAC on timeout (clear). Socket errors (missing CAP_NET_RAW,
// interface down) are returned so the caller can fall back to ICMP.
//
// arping keeps its timeout at package level, so probes serialize under
// the mutex.
func (p *ARPProber) Probe(ctx context.Context, targetIP net.IP) (bool, net.HardwareAddr, error) {
	if !p.available {
		return false, nil, nil // Degraded mode — assume clear
	}

	ip4 := targetIP.To4()
	if ip4 == nil {
		return false, nil, fmt.Errorf("ARP probe requires an IPv4 address, got %s", targetIP)
	}

	timeout := 500 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	arping.SetTimeout(timeout)

	mac, _, err := arping.PingOverIface(ip4, *p.iface)
	switch {
	case err == nil:
		p.logger.Debug("ARP probe reply received (conflict)",
			"target_ip", ip4.String(),
			"responder", mac.String(),
			"duration", time.Since(start).String())
		return true, mac, nil
	case err == arping.ErrTimeout:
		p.logger.Debug("ARP probe timeout (clear)",
			"target_ip", ip4.String(),
			"duration", time.Since(start).String())
		return false, nil, nil
	default:
		return false, nil, fmt.Errorf("ARP probe for %s on %s: %w", ip4, p.iface.Name, err)
	}
}
