// Package netif applies leased addresses to network interfaces and
// announces ownership. Uses `ip addr` commands on Linux. Falls back to
// sudo if direct execution fails with permission errors.
package netif

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/j-keck/arping"

	"github.com/athena-provd/athena-provd/internal/lease"
)

// runCmd tries to run a command directly. If it fails with a permission
// error, it retries with sudo. This handles the case where CAP_NET_ADMIN
// is not set on the binary but the user has passwordless sudo configured.
func runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		outStr := strings.TrimSpace(string(out))
		if strings.Contains(outStr, "Operation not permitted") || strings.Contains(outStr, "EPERM") {
			// Retry with sudo
			sudoArgs := append([]string{name}, args...)
			return exec.CommandContext(ctx, "sudo", sudoArgs...).CombinedOutput()
		}
	}
	return out, err
}

// Manager puts leased addresses on and off interfaces. It satisfies the
// client's Configurator interface.
type Manager struct {
	logger   *slog.Logger
	announce bool
}

// NewManager creates an interface manager. announce controls whether a
// gratuitous ARP is sent after an address is applied.
func NewManager(announce bool, logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		announce: announce,
	}
}

// ApplyLease adds the leased address to its interface and announces it.
func (m *Manager) ApplyLease(l *lease.Lease) error {
	addr := fmt.Sprintf("%s/%d", l.Addr, l.PrefixLen)

	// Check if already present (e.g. leftover from a previous run)
	if isIPOnInterface(l.Addr, l.Interface) {
		m.logger.Info("address already present on interface, claiming",
			"addr", addr, "interface", l.Interface)
		m.announceAddr(l)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := runCmd(ctx, "ip", "addr", "add", addr, "dev", l.Interface)
	if err != nil {
		outStr := strings.TrimSpace(string(out))
		// "RTNETLINK answers: File exists" means it's already there
		if strings.Contains(outStr, "File exists") {
			m.announceAddr(l)
			return nil
		}
		return fmt.Errorf("ip addr add %s dev %s: %w (%s)", addr, l.Interface, err, outStr)
	}

	m.logger.Info("address configured", "addr", addr, "interface", l.Interface)
	m.announceAddr(l)
	return nil
}

// RemoveLease removes the leased address from its interface.
func (m *Manager) RemoveLease(l *lease.Lease) error {
	addr := fmt.Sprintf("%s/%d", l.Addr, l.PrefixLen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := runCmd(ctx, "ip", "addr", "del", addr, "dev", l.Interface)
	if err != nil {
		outStr := strings.TrimSpace(string(out))
		if strings.Contains(outStr, "Cannot assign") || strings.Contains(outStr, "ADDRNOTAVAIL") {
			return nil
		}
		return fmt.Errorf("ip addr del %s dev %s: %w (%s)", addr, l.Interface, err, outStr)
	}

	m.logger.Info("address removed", "addr", addr, "interface", l.Interface)
	return nil
}

// announceAddr sends a gratuitous ARP so neighbours update their caches.
func (m *Manager) announceAddr(l *lease.Lease) {
	if !m.announce {
		return
	}

	if err := arping.GratuitousArpOverIfaceByName(l.Addr.To4(), l.Interface); err != nil {
		m.logger.Debug("gratuitous ARP failed (non-fatal)",
			"addr", l.Addr.String(), "interface", l.Interface, "error", err)

		// Fallback
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		runCmd(ctx, "ip", "neigh", "change", l.Addr.String(), "dev", l.Interface, "nud", "reachable")
		return
	}

	m.logger.Info("gratuitous ARP sent", "addr", l.Addr.String(), "interface", l.Interface)
}

// isIPOnInterface checks if an IP is assigned to a specific interface.
func isIPOnInterface(ip net.IP, ifaceName string) bool {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
			return true
		}
	}
	return false
}
