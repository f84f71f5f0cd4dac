package syslog

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFormatLeaseEvent(t *testing.T) {
	evt := events.Event{
		Type:      events.EventLeaseAcquired,
		Timestamp: time.Now(),
		Lease: &events.LeaseData{
			Interface: "eth0",
			IP:        net.ParseIP("10.0.0.50"),
			Server:    net.ParseIP("10.0.0.1"),
			MAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01},
			Hostname:  "edge-1",
		},
	}

	msg := FormatMessage(evt)
	if !strings.Contains(msg, "event=lease.acquired") {
		t.Errorf("missing event type in %q", msg)
	}
	if !strings.Contains(msg, "interface=eth0") {
		t.Errorf("missing interface in %q", msg)
	}
	if !strings.Contains(msg, "ip=10.0.0.50") {
		t.Errorf("missing IP in %q", msg)
	}
	if !strings.Contains(msg, "server=10.0.0.1") {
		t.Errorf("missing server in %q", msg)
	}
	if !strings.Contains(msg, "mac=aa:bb:cc:dd:ee:01") {
		t.Errorf("missing MAC in %q", msg)
	}
	if !strings.Contains(msg, "hostname=edge-1") {
		t.Errorf("missing hostname in %q", msg)
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	evt := events.Event{
		Type:      events.EventStateChange,
		Timestamp: time.Now(),
		State: &events.StateData{
			Interface: "eth0",
			Old:       "selecting",
			New:       "requesting",
		},
	}

	msg := FormatMessage(evt)
	if !strings.Contains(msg, "old_state=selecting") {
		t.Errorf("missing old state in %q", msg)
	}
	if !strings.Contains(msg, "new_state=requesting") {
		t.Errorf("missing new state in %q", msg)
	}
}

func TestFormatConflictEvent(t *testing.T) {
	evt := events.Event{
		Type:      events.EventConflictDetected,
		Timestamp: time.Now(),
		Conflict: &events.ConflictData{
			IP:              "10.0.0.100",
			DetectionMethod: "arp",
			ResponderMAC:    "de:ad:be:ef:00:01",
		},
	}

	msg := FormatMessage(evt)
	if !strings.Contains(msg, "ip=10.0.0.100") {
		t.Errorf("missing conflict IP in %q", msg)
	}
	if !strings.Contains(msg, "method=arp") {
		t.Errorf("missing method in %q", msg)
	}
	if !strings.Contains(msg, "responder_mac=de:ad:be:ef:00:01") {
		t.Errorf("missing responder MAC in %q", msg)
	}
}

func TestFormatRogueEvent(t *testing.T) {
	evt := events.Event{
		Type:      events.EventRogueDetected,
		Timestamp: time.Now(),
		Rogue: &events.RogueData{
			ServerIP:  "10.0.0.254",
			OfferedIP: "10.0.0.66",
		},
	}

	msg := FormatMessage(evt)
	if !strings.Contains(msg, "rogue_server=10.0.0.254") {
		t.Errorf("missing rogue server in %q", msg)
	}
	if !strings.Contains(msg, "offered_ip=10.0.0.66") {
		t.Errorf("missing offered IP in %q", msg)
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		evtType  events.EventType
		severity int
	}{
		{events.EventLeaseAcquired, SeverityNotice},
		{events.EventLeaseRenewed, SeverityInfo},
		{events.EventLeaseFailed, SeverityError},
		{events.EventLeaseExpired, SeverityError},
		{events.EventConflictDetected, SeverityWarning},
		{events.EventRogueDetected, SeverityWarning},
		{events.EventNetDegraded, SeverityWarning},
		{events.EventNetRecovered, SeverityNotice},
		{events.EventANQPUpdated, SeverityInfo},
	}

	for _, tc := range tests {
		got := eventSeverity(tc.evtType)
		if got != tc.severity {
			t.Errorf("eventSeverity(%s) = %d, want %d", tc.evtType, got, tc.severity)
		}
	}
}

func TestForwarderUDP(t *testing.T) {
	// Start a UDP listener to receive syslog messages
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	bus := events.NewBus(100, testLogger())
	go bus.Start()
	defer bus.Stop()

	cfg := config.SyslogConfig{
		Enabled:  true,
		Address:  conn.LocalAddr().String(),
		Protocol: "udp",
		Facility: 16,
		AppName:  "provd-test",
	}

	fwd := NewForwarder(cfg, bus, testLogger())
	if err := fwd.Start(); err != nil {
		t.Fatal(err)
	}
	defer fwd.Stop()

	bus.Publish(events.Event{
		Type:      events.EventLeaseAcquired,
		Timestamp: time.Now(),
		Lease: &events.LeaseData{
			Interface: "eth0",
			IP:        net.ParseIP("10.0.0.50"),
			MAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x01},
		},
	})

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no syslog message received: %v", err)
	}

	msg := string(buf[:n])
	if !strings.HasPrefix(msg, "<133>1 ") {
		t.Errorf("unexpected priority header: %q", msg)
	}
	if !strings.Contains(msg, "event=lease.acquired") {
		t.Errorf("syslog message missing event: %q", msg)
	}
	if !strings.Contains(msg, "ip=10.0.0.50") {
		t.Errorf("syslog message missing IP: %q", msg)
	}
	if !strings.Contains(msg, "provd-test") {
		t.Errorf("syslog message missing app name: %q", msg)
	}
}

func TestForwarderJSONFormat(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	bus := events.NewBus(100, testLogger())
	go bus.Start()
	defer bus.Stop()

	cfg := config.SyslogConfig{
		Enabled:  true,
		Address:  conn.LocalAddr().String(),
		Protocol: "udp",
		Format:   FormatJSON,
		Facility: 16,
		AppName:  "provd-test",
	}

	fwd := NewForwarder(cfg, bus, testLogger())
	if err := fwd.Start(); err != nil {
		t.Fatal(err)
	}
	defer fwd.Stop()

	bus.Publish(events.Event{
		Type:      events.EventStateChange,
		Timestamp: time.Now(),
		State:     &events.StateData{Interface: "eth0", Old: "init", New: "selecting"},
	})

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("no syslog message received: %v", err)
	}

	msg := string(buf[:n])
	if !strings.Contains(msg, `"type":"state.change"`) {
		t.Errorf("JSON message missing type: %q", msg)
	}
	if !strings.Contains(msg, `"new":"selecting"`) {
		t.Errorf("JSON message missing state: %q", msg)
	}
}

func TestForwarderNoAddress(t *testing.T) {
	bus := events.NewBus(100, testLogger())
	go bus.Start()
	defer bus.Stop()

	fwd := NewForwarder(config.SyslogConfig{Enabled: true}, bus, testLogger())
	if err := fwd.Start(); err == nil {
		t.Error("expected error with empty address")
		fwd.Stop()
	}
}
