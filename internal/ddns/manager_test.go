package ddns

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/events"
)

// mockUpdater records DNS update calls for testing.
type mockUpdater struct {
	mu         sync.Mutex
	aAdded     []string
	aRemoved   []string
	ptrAdded   []string
	ptrRemoved []string
	failNext   int
}

func (m *mockUpdater) AddA(zone, fqdn string, ip net.IP, ttl uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("mock AddA failure")
	}
	m.aAdded = append(m.aAdded, fqdn)
	return nil
}

func (m *mockUpdater) RemoveA(zone, fqdn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aRemoved = append(m.aRemoved, fqdn)
	return nil
}

func (m *mockUpdater) AddPTR(zone, reverseIP, fqdn string, ttl uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ptrAdded = append(m.ptrAdded, reverseIP)
	return nil
}

func (m *mockUpdater) RemovePTR(zone, reverseIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ptrRemoved = append(m.ptrRemoved, reverseIP)
	return nil
}

func (m *mockUpdater) counts() (aAdd, aRem, ptrAdd, ptrRem int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.aAdded), len(m.aRemoved), len(m.ptrAdded), len(m.ptrRemoved)
}

func testDDNSConfig() config.DDNSConfig {
	return config.DDNSConfig{
		Enabled:         true,
		Zone:            "example.com.",
		ReverseZone:     "1.168.192.in-addr.arpa.",
		Server:          "10.0.0.53:53",
		TTL:             300,
		RemoveOnRelease: true,
		Retries:         2,
	}
}

func newTestDDNSManager(t *testing.T, cfg config.DDNSConfig) (*Manager, *mockUpdater) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := events.NewBus(100, logger)
	go bus.Start()
	t.Cleanup(bus.Stop)

	upd := &mockUpdater{}
	return NewManagerForTest(cfg, bus, logger, upd), upd
}

func leaseEvent(typ events.EventType, host string) events.Event {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	return events.Event{
		Type: typ,
		Lease: &events.LeaseData{
			Interface: "eth0",
			IP:        net.IPv4(192, 168, 1, 100),
			MAC:       mac,
			Hostname:  host,
		},
	}
}

func TestManagerDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if mgr := NewManager(config.DDNSConfig{Enabled: false}, nil, logger); mgr != nil {
		t.Error("NewManager with ddns disabled should return nil")
	}
}

func TestManagerFQDN(t *testing.T) {
	mgr, _ := newTestDDNSManager(t, testDDNSConfig())
	mac, _ := net.ParseMAC("00:11:22:33:44:55")

	tests := []struct {
		name  string
		lease *events.LeaseData
		want  string
	}{
		{
			"hostname + zone",
			&events.LeaseData{Hostname: "myhost", MAC: mac},
			"myhost.example.com.",
		},
		{
			"hostname sanitized",
			&events.LeaseData{Hostname: "My Host!", MAC: mac},
			"myhost.example.com.",
		},
		{
			"denied hostname falls back to MAC",
			&events.LeaseData{Hostname: "localhost", MAC: mac},
			"dhcp-001122334455.example.com.",
		},
		{
			"empty hostname falls back to MAC",
			&events.LeaseData{MAC: mac},
			"dhcp-001122334455.example.com.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mgr.fqdn(mgr.config(), tt.lease)
			if got != tt.want {
				t.Errorf("fqdn = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManagerRegistersOnAcquire(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())

	mgr.handleEvent(leaseEvent(events.EventLeaseAcquired, "testhost"))
	mgr.wg.Wait()

	upd.mu.Lock()
	defer upd.mu.Unlock()
	if len(upd.aAdded) != 1 {
		t.Fatalf("A records added = %d, want 1", len(upd.aAdded))
	}
	if upd.aAdded[0] != "testhost.example.com." {
		t.Errorf("A record FQDN = %q, want testhost.example.com.", upd.aAdded[0])
	}
	if len(upd.ptrAdded) != 1 {
		t.Fatalf("PTR records added = %d, want 1", len(upd.ptrAdded))
	}
	if upd.ptrAdded[0] != "100.1.168.192.in-addr.arpa" {
		t.Errorf("PTR name = %q, want 100.1.168.192.in-addr.arpa", upd.ptrAdded[0])
	}
}

func TestManagerSkipsRenewByDefault(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())

	mgr.handleEvent(leaseEvent(events.EventLeaseRenewed, "testhost"))
	mgr.wg.Wait()

	if aAdd, _, _, _ := upd.counts(); aAdd != 0 {
		t.Errorf("A records on renew = %d, want 0 (update_on_renew off)", aAdd)
	}
}

func TestManagerUpdatesOnRenewWhenEnabled(t *testing.T) {
	cfg := testDDNSConfig()
	cfg.UpdateOnRenew = true
	mgr, upd := newTestDDNSManager(t, cfg)

	mgr.handleEvent(leaseEvent(events.EventLeaseRenewed, "testhost"))
	mgr.wg.Wait()

	if aAdd, _, _, _ := upd.counts(); aAdd != 1 {
		t.Errorf("A records on renew = %d, want 1 (update_on_renew on)", aAdd)
	}
}

func TestManagerRemovesOnRelease(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())

	mgr.handleEvent(leaseEvent(events.EventLeaseReleased, "testhost"))
	mgr.wg.Wait()

	_, aRem, _, ptrRem := upd.counts()
	if aRem != 1 {
		t.Errorf("A records removed = %d, want 1", aRem)
	}
	if ptrRem != 1 {
		t.Errorf("PTR records removed = %d, want 1", ptrRem)
	}
}

func TestManagerRemovesOnExpiry(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())

	mgr.handleEvent(leaseEvent(events.EventLeaseExpired, "testhost"))
	mgr.wg.Wait()

	if _, aRem, _, _ := upd.counts(); aRem != 1 {
		t.Errorf("A records removed = %d, want 1", aRem)
	}
}

func TestManagerKeepsRecordsWhenRemoveDisabled(t *testing.T) {
	cfg := testDDNSConfig()
	cfg.RemoveOnRelease = false
	mgr, upd := newTestDDNSManager(t, cfg)

	mgr.handleEvent(leaseEvent(events.EventLeaseReleased, "testhost"))
	mgr.wg.Wait()

	if _, aRem, _, _ := upd.counts(); aRem != 0 {
		t.Errorf("A records removed = %d, want 0 (remove_on_release off)", aRem)
	}
}

func TestManagerNoReverseZone(t *testing.T) {
	cfg := testDDNSConfig()
	cfg.ReverseZone = ""
	mgr, upd := newTestDDNSManager(t, cfg)

	mgr.handleEvent(leaseEvent(events.EventLeaseAcquired, "testhost"))
	mgr.wg.Wait()

	aAdd, _, ptrAdd, _ := upd.counts()
	if aAdd != 1 {
		t.Errorf("A records added = %d, want 1", aAdd)
	}
	if ptrAdd != 0 {
		t.Errorf("PTR records added = %d, want 0 without reverse zone", ptrAdd)
	}
}

func TestManagerRetriesTransientFailure(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())
	upd.failNext = 1

	mgr.handleEvent(leaseEvent(events.EventLeaseAcquired, "testhost"))
	mgr.wg.Wait()

	if aAdd, _, _, _ := upd.counts(); aAdd != 1 {
		t.Errorf("A records added = %d, want 1 after retry", aAdd)
	}
}

func TestManagerGivesUpAfterRetries(t *testing.T) {
	cfg := testDDNSConfig()
	cfg.Retries = 1
	mgr, upd := newTestDDNSManager(t, cfg)
	upd.failNext = 5

	mgr.handleEvent(leaseEvent(events.EventLeaseAcquired, "testhost"))
	mgr.wg.Wait()

	if aAdd, _, _, _ := upd.counts(); aAdd != 0 {
		t.Errorf("A records added = %d, want 0 when retries exhausted", aAdd)
	}
}

func TestManagerIgnoresEventsWithoutLease(t *testing.T) {
	mgr, upd := newTestDDNSManager(t, testDDNSConfig())

	mgr.handleEvent(events.Event{Type: events.EventLeaseAcquired})
	mgr.wg.Wait()

	if aAdd, _, _, _ := upd.counts(); aAdd != 0 {
		t.Errorf("A records added = %d, want 0 for event without lease", aAdd)
	}
}
