package dhcp

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/athena-provd/athena-provd/internal/lease"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

var testMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentPacket struct {
	pkt *Packet
	dst net.IP // nil for broadcast
}

// fakeTransport records everything the client sends. ReadLoop returns
// immediately; tests inject replies through the step functions instead.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []sentPacket
	closed bool
}

func (f *fakeTransport) Broadcast(b []byte) error {
	pkt, err := DecodePacket(b)
	if err != nil {
		return fmt.Errorf("fake transport: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{pkt: pkt})
	return nil
}

func (f *fakeTransport) Unicast(b []byte, dst net.IP) error {
	pkt, err := DecodePacket(b)
	if err != nil {
		return fmt.Errorf("fake transport: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{pkt: pkt, dst: dst})
	return nil
}

func (f *fakeTransport) ReadLoop(deliver func(*Packet)) {}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentPacket{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConfigurator struct {
	mu      sync.Mutex
	applied []*lease.Lease
	removed []*lease.Lease
}

func (f *fakeConfigurator) ApplyLease(l *lease.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, l)
	return nil
}

func (f *fakeConfigurator) RemoveLease(l *lease.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, l)
	return nil
}

// newTestClient builds a client with hour-scale timeouts so no real alarm
// can fire during a test; timer paths are exercised by calling handleTimer
// with the armed generation directly.
func newTestClient(t *testing.T) (*Client, *fakeTransport, *fakeConfigurator) {
	t.Helper()
	ft := &fakeTransport{}
	fc := &fakeConfigurator{}
	c := NewClient(ClientConfig{
		Interface:      "eth0",
		HWAddr:         testMAC,
		Hostname:       "edge01",
		InitialTimeout: time.Hour,
		MaxTimeout:     4 * time.Hour,
		OverallTimeout: 8 * time.Hour,
	}, nil, testLogger())
	c.dial = func() (transport, error) { return ft, nil }
	c.SetConfigurator(fc)
	t.Cleanup(c.sched.CancelAll)
	return c, ft, fc
}

func offerPacket(xid uint32, mac net.HardwareAddr, addr, server net.IP) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootReply,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    6,
		XID:     xid,
		YIAddr:  addr,
		CHAddr:  mac,
		Options: make(Options),
	}
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeOffer)})
	p.Options.SetIP(dhcpv4.OptionServerIdentifier, server)
	return p
}

func ackPacket(xid uint32, mac net.HardwareAddr, addr, server net.IP, leaseSecs uint32) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootReply,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    6,
		XID:     xid,
		YIAddr:  addr,
		CHAddr:  mac,
		Options: make(Options),
	}
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeAck)})
	p.Options.SetIP(dhcpv4.OptionServerIdentifier, server)
	p.Options.SetUint32(dhcpv4.OptionIPLeaseTime, leaseSecs)
	p.Options.SetIP(dhcpv4.OptionSubnetMask, net.IPv4(255, 255, 255, 0))
	p.Options.SetIP(dhcpv4.OptionRouter, net.IPv4(192, 168, 1, 1))
	return p
}

func nakPacket(xid uint32, mac net.HardwareAddr) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootReply,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    6,
		XID:     xid,
		CHAddr:  mac,
		Options: make(Options),
	}
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeNak)})
	p.Options.SetString(dhcpv4.OptionMessage, "address pool changed")
	return p
}

// bind drives the client through a full acquisition and returns the
// offered address and server used.
func bind(t *testing.T, c *Client, leaseSecs uint32) (net.IP, net.IP) {
	t.Helper()
	offered := net.IPv4(192, 168, 1, 50)
	server := net.IPv4(192, 168, 1, 1)

	c.step(event{kind: evStart})
	if c.State() != StateInit {
		t.Fatalf("state after start = %s, want INIT", c.State())
	}
	c.step(event{kind: evPacket, pkt: offerPacket(c.tx.XID, testMAC, offered, server)})
	if c.State() != StateRequesting {
		t.Fatalf("state after offer = %s, want REQUESTING", c.State())
	}
	c.step(event{kind: evPacket, pkt: ackPacket(c.tx.XID, testMAC, offered, server, leaseSecs)})
	if c.State() != StateBound {
		t.Fatalf("state after ack = %s, want BOUND", c.State())
	}
	return offered, server
}

func TestClientAcquisition(t *testing.T) {
	c, ft, fc := newTestClient(t)

	var acquired *lease.Lease
	c.OnLeaseAcquired(func(l *lease.Lease) { acquired = l })

	before := time.Now()
	offered, server := bind(t, c, 3600)

	// First packet out must be a broadcast DISCOVER, then the REQUEST.
	if ft.sentCount() != 2 {
		t.Fatalf("sent packets = %d, want 2", ft.sentCount())
	}
	if mt := ft.last().pkt.MessageType(); mt != dhcpv4.MessageTypeRequest {
		t.Errorf("second packet type = %s, want DHCPREQUEST", mt)
	}

	l := c.Lease()
	if l == nil {
		t.Fatal("Lease() = nil after ack")
	}
	if !l.Addr.Equal(offered) {
		t.Errorf("lease addr = %s, want %s", l.Addr, offered)
	}
	if !l.Server.Equal(server) {
		t.Errorf("lease server = %s, want %s", l.Server, server)
	}
	wantExpiry := before.Add(3600 * time.Second)
	if l.Expiry.Before(wantExpiry.Add(-2*time.Second)) || l.Expiry.After(wantExpiry.Add(2*time.Second)) {
		t.Errorf("lease expiry = %s, want ≈ %s", l.Expiry, wantExpiry)
	}
	if l.PrefixLen != 24 {
		t.Errorf("prefix len = %d, want 24", l.PrefixLen)
	}

	if acquired == nil {
		t.Fatal("OnLeaseAcquired not called")
	}
	if !acquired.Addr.Equal(offered) {
		t.Errorf("reported lease addr = %s, want %s", acquired.Addr, offered)
	}

	fc.mu.Lock()
	appliedCount := len(fc.applied)
	fc.mu.Unlock()
	if appliedCount != 1 {
		t.Errorf("applied leases = %d, want 1", appliedCount)
	}

	// Renewal alarm must be pending at roughly the lease midpoint.
	if _, ok := c.armed[timerRenew]; !ok {
		t.Error("renewal alarm not armed after bind")
	}
}

func TestClientIgnoresWrongXID(t *testing.T) {
	c, ft, _ := newTestClient(t)

	c.step(event{kind: evStart})
	sentBefore := ft.sentCount()

	wrong := c.tx.XID + 1
	c.step(event{kind: evPacket, pkt: offerPacket(wrong, testMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1))})

	if c.State() != StateInit {
		t.Errorf("state after wrong-xid offer = %s, want INIT", c.State())
	}
	if c.offer != nil {
		t.Error("offer stored despite wrong xid")
	}
	if ft.sentCount() != sentBefore {
		t.Errorf("packets sent after wrong-xid offer = %d, want %d", ft.sentCount(), sentBefore)
	}
}

func TestClientIgnoresWrongCHAddr(t *testing.T) {
	c, _, _ := newTestClient(t)

	c.step(event{kind: evStart})
	otherMAC := net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	c.step(event{kind: evPacket, pkt: offerPacket(c.tx.XID, otherMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1))})

	if c.State() != StateInit {
		t.Errorf("state after wrong-chaddr offer = %s, want INIT", c.State())
	}
	if c.offer != nil {
		t.Error("offer stored despite wrong chaddr")
	}
}

func TestClientRequestNakReturnsToInit(t *testing.T) {
	c, ft, _ := newTestClient(t)

	c.step(event{kind: evStart})
	firstXID := c.tx.XID
	c.step(event{kind: evPacket, pkt: offerPacket(firstXID, testMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1))})

	c.step(event{kind: evPacket, pkt: nakPacket(c.tx.XID, testMAC)})

	if c.State() != StateInit {
		t.Errorf("state after nak = %s, want INIT", c.State())
	}
	if c.offer != nil {
		t.Error("offer not cleared after nak")
	}
	if c.tx.XID == firstXID {
		t.Error("transaction not refreshed on re-entering INIT")
	}
	// Re-entering INIT broadcasts a fresh DISCOVER.
	if mt := ft.last().pkt.MessageType(); mt != dhcpv4.MessageTypeDiscover {
		t.Errorf("last packet type = %s, want DHCPDISCOVER", mt)
	}
}

func TestClientUnusableAckIgnored(t *testing.T) {
	c, _, _ := newTestClient(t)

	c.step(event{kind: evStart})
	c.step(event{kind: evPacket, pkt: offerPacket(c.tx.XID, testMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1))})

	// ACK without a lease time is unusable and must not bind.
	bad := ackPacket(c.tx.XID, testMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1), 3600)
	bad.Options.Delete(dhcpv4.OptionIPLeaseTime)
	c.step(event{kind: evPacket, pkt: bad})

	if c.State() != StateRequesting {
		t.Errorf("state after unusable ack = %s, want REQUESTING", c.State())
	}
	if c.Lease() != nil {
		t.Error("lease stored from unusable ack")
	}
}

func TestClientRetransmitBacksOff(t *testing.T) {
	c, ft, _ := newTestClient(t)

	c.step(event{kind: evStart})
	if ft.sentCount() != 1 {
		t.Fatalf("initial discover count = %d, want 1", ft.sentCount())
	}

	for i := 0; i < 3; i++ {
		gen, ok := c.armed[timerRetransmit]
		if !ok {
			t.Fatalf("retransmit alarm not armed before fire %d", i+1)
		}
		c.handleTimer(timerRetransmit, gen)
	}

	if ft.sentCount() != 4 {
		t.Errorf("discover count after 3 retransmits = %d, want 4", ft.sentCount())
	}
	// The backoff attempt counter advances once per send.
	if c.boff.n != 4 {
		t.Errorf("backoff attempt = %d, want 4", c.boff.n)
	}
}

func TestClientStaleTimerIgnored(t *testing.T) {
	c, ft, _ := newTestClient(t)

	c.step(event{kind: evStart})
	gen := c.armed[timerRetransmit]
	sentBefore := ft.sentCount()

	c.handleTimer(timerRetransmit, gen+99)

	if ft.sentCount() != sentBefore {
		t.Errorf("stale timer fire caused a send: %d packets, want %d", ft.sentCount(), sentBefore)
	}
}

func TestClientInitTimeoutStops(t *testing.T) {
	c, ft, _ := newTestClient(t)

	failed := false
	c.OnLeaseFailed(func() { failed = true })

	c.step(event{kind: evStart})
	c.handleTimer(timerOverall, c.armed[timerOverall])

	if c.State() != StateStopped {
		t.Errorf("state after init timeout = %s, want STOPPED", c.State())
	}
	if !failed {
		t.Error("OnLeaseFailed not called on init timeout")
	}
	if !ft.isClosed() {
		t.Error("socket not closed on stop")
	}
}

func TestClientRequestTimeoutReturnsToInit(t *testing.T) {
	c, _, _ := newTestClient(t)

	failed := false
	c.OnLeaseFailed(func() { failed = true })

	c.step(event{kind: evStart})
	c.step(event{kind: evPacket, pkt: offerPacket(c.tx.XID, testMAC, net.IPv4(192, 168, 1, 50), net.IPv4(192, 168, 1, 1))})

	c.handleTimer(timerOverall, c.armed[timerOverall])

	if c.State() != StateInit {
		t.Errorf("state after request timeout = %s, want INIT", c.State())
	}
	if !failed {
		t.Error("OnLeaseFailed not called on request timeout")
	}
}

func TestClientRenewalFlow(t *testing.T) {
	c, ft, _ := newTestClient(t)

	var renewed *lease.Lease
	c.OnLeaseAcquired(func(l *lease.Lease) { renewed = l })

	offered, server := bind(t, c, 3600)
	boundXID := uint32(0)
	if c.tx != nil {
		boundXID = c.tx.XID
	}

	c.handleTimer(timerRenew, c.armed[timerRenew])
	if c.State() != StateRenewing {
		t.Fatalf("state after renew alarm = %s, want RENEWING", c.State())
	}
	if c.tx.XID == boundXID {
		t.Error("renewal did not get a fresh transaction")
	}

	// Renewal REQUEST is unicast to the leasing server with ciaddr set and
	// no requested-IP/server-identifier options.
	sp := ft.last()
	if sp.dst == nil || !sp.dst.Equal(server) {
		t.Fatalf("renewal dst = %v, want %s", sp.dst, server)
	}
	if !sp.pkt.CIAddr.Equal(offered) {
		t.Errorf("renewal ciaddr = %s, want %s", sp.pkt.CIAddr, offered)
	}
	if sp.pkt.Options.Has(dhcpv4.OptionRequestedIP) {
		t.Error("renewal request carries option 50")
	}
	if sp.pkt.Options.Has(dhcpv4.OptionServerIdentifier) {
		t.Error("renewal request carries option 54")
	}

	c.step(event{kind: evPacket, pkt: ackPacket(c.tx.XID, testMAC, offered, server, 7200)})
	if c.State() != StateBound {
		t.Fatalf("state after renewal ack = %s, want BOUND", c.State())
	}

	l := c.Lease()
	if l.Renewals != 1 {
		t.Errorf("renewals = %d, want 1", l.Renewals)
	}
	wantExpiry := time.Now().Add(7200 * time.Second)
	if l.Expiry.Before(wantExpiry.Add(-5*time.Second)) || l.Expiry.After(wantExpiry.Add(5*time.Second)) {
		t.Errorf("refreshed expiry = %s, want ≈ %s", l.Expiry, wantExpiry)
	}
	if renewed == nil {
		t.Error("OnLeaseAcquired not called for renewal")
	}
}

func TestClientRenewalNakRestarts(t *testing.T) {
	c, _, _ := newTestClient(t)

	bind(t, c, 3600)
	c.handleTimer(timerRenew, c.armed[timerRenew])
	c.step(event{kind: evPacket, pkt: nakPacket(c.tx.XID, testMAC)})

	if c.State() != StateInit {
		t.Errorf("state after renewal nak = %s, want INIT", c.State())
	}
	if c.Lease() != nil {
		t.Error("lease not cleared after renewal nak")
	}
}

func TestClientRenewCommandHonoursHook(t *testing.T) {
	c, _, _ := newTestClient(t)

	hookRan := make(chan func(), 1)
	c.RegisterPreRenewalHook(func(complete func()) { hookRan <- complete })

	bind(t, c, 3600)
	c.step(event{kind: evRenew})

	if c.State() != StateWaitBeforeRenewal {
		t.Fatalf("state after renew with hook = %s, want WAIT_BEFORE_RENEWAL", c.State())
	}

	select {
	case <-hookRan:
	case <-time.After(time.Second):
		t.Fatal("pre-renewal hook not invoked")
	}

	c.step(event{kind: evHookDone})
	if c.State() != StateRenewing {
		t.Errorf("state after hook completion = %s, want RENEWING", c.State())
	}
}

func TestClientPreStartHook(t *testing.T) {
	c, ft, _ := newTestClient(t)

	invoked := make(chan func(), 1)
	c.RegisterPreStartHook(func(complete func()) { invoked <- complete })

	c.step(event{kind: evStart})
	if c.State() != StateWaitBeforeStart {
		t.Fatalf("state after start with hook = %s, want WAIT_BEFORE_START", c.State())
	}
	if ft.sentCount() != 0 {
		t.Errorf("packets sent before hook completion = %d, want 0", ft.sentCount())
	}

	select {
	case <-invoked:
	case <-time.After(time.Second):
		t.Fatal("pre-start hook not invoked")
	}

	c.step(event{kind: evHookDone})
	if c.State() != StateInit {
		t.Errorf("state after hook completion = %s, want INIT", c.State())
	}
	if ft.sentCount() != 1 {
		t.Errorf("discover count after hook completion = %d, want 1", ft.sentCount())
	}
}

func TestClientStopClearsState(t *testing.T) {
	c, ft, _ := newTestClient(t)

	bind(t, c, 3600)
	c.step(event{kind: evStop})

	if c.State() != StateStopped {
		t.Errorf("state after stop = %s, want STOPPED", c.State())
	}
	if c.Lease() != nil {
		t.Error("lease survives stop")
	}
	if !ft.isClosed() {
		t.Error("socket not closed on stop")
	}
	if len(c.armed) != 0 {
		t.Errorf("alarms still armed after stop: %v", c.armed)
	}
}

func TestClientRelease(t *testing.T) {
	c, ft, fc := newTestClient(t)

	offered, server := bind(t, c, 3600)
	c.step(event{kind: evRelease})

	if c.State() != StateStopped {
		t.Errorf("state after release = %s, want STOPPED", c.State())
	}

	sp := ft.last()
	if mt := sp.pkt.MessageType(); mt != dhcpv4.MessageTypeRelease {
		t.Fatalf("last packet type = %s, want DHCPRELEASE", mt)
	}
	if sp.dst == nil || !sp.dst.Equal(server) {
		t.Errorf("release dst = %v, want %s", sp.dst, server)
	}
	if !sp.pkt.CIAddr.Equal(offered) {
		t.Errorf("release ciaddr = %s, want %s", sp.pkt.CIAddr, offered)
	}

	fc.mu.Lock()
	removedCount := len(fc.removed)
	fc.mu.Unlock()
	if removedCount != 1 {
		t.Errorf("removed leases = %d, want 1", removedCount)
	}
}

func TestClientDecline(t *testing.T) {
	c, ft, fc := newTestClient(t)

	offered, _ := bind(t, c, 3600)
	c.step(event{kind: evDecline, reason: "arp probe answered"})

	if c.State() != StateInit {
		t.Errorf("state after decline = %s, want INIT", c.State())
	}
	if c.Lease() != nil {
		t.Error("lease survives decline")
	}

	// DECLINE broadcast goes out before the fresh DISCOVER.
	ft.mu.Lock()
	var decline *Packet
	for _, sp := range ft.sent {
		if sp.pkt.MessageType() == dhcpv4.MessageTypeDecline {
			decline = sp.pkt
		}
	}
	ft.mu.Unlock()
	if decline == nil {
		t.Fatal("no DHCPDECLINE sent")
	}
	if got := decline.Options.GetIP(dhcpv4.OptionRequestedIP); !got.Equal(offered) {
		t.Errorf("decline option 50 = %s, want %s", got, offered)
	}

	fc.mu.Lock()
	removedCount := len(fc.removed)
	fc.mu.Unlock()
	if removedCount != 1 {
		t.Errorf("removed leases = %d, want 1", removedCount)
	}
}

func TestClientTransportFailureStops(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.dial = func() (transport, error) { return nil, fmt.Errorf("no such interface") }

	failed := false
	c.OnLeaseFailed(func() { failed = true })

	c.step(event{kind: evStart})

	if c.State() != StateStopped {
		t.Errorf("state after dial failure = %s, want STOPPED", c.State())
	}
	if !failed {
		t.Error("OnLeaseFailed not called on dial failure")
	}
}

func TestClientStateChangeCallback(t *testing.T) {
	c, _, _ := newTestClient(t)

	var transitions []State
	c.OnStateChange(func(old, next State) { transitions = append(transitions, next) })

	bind(t, c, 3600)

	want := []State{StateInit, StateRequesting, StateBound}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], s)
		}
	}
}

func TestClientStartShutdown(t *testing.T) {
	c, _, _ := newTestClient(t)

	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateInit {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want INIT before deadline", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Shutdown()
	if c.State() != StateStopped {
		t.Errorf("state after shutdown = %s, want STOPPED", c.State())
	}
}
