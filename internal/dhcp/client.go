package dhcp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/lease"
	"github.com/athena-provd/athena-provd/internal/metrics"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// State is a client lifecycle state.
type State string

const (
	StateStopped           State = "STOPPED"
	StateWaitBeforeStart   State = "WAIT_BEFORE_START"
	StateInit              State = "INIT"
	StateSelecting         State = "SELECTING"
	StateRequesting        State = "REQUESTING"
	StateBound             State = "BOUND"
	StateWaitBeforeRenewal State = "WAIT_BEFORE_RENEWAL"
	StateRenewing          State = "RENEWING"

	// Declared for completeness of the RFC 2131 lifecycle; no transition
	// targets them. Offers are handled directly in INIT, and expired
	// leases are re-acquired from scratch rather than rebound.
	StateRebinding  State = "REBINDING"
	StateInitReboot State = "INIT_REBOOT"
	StateRebooting  State = "REBOOTING"
)

// Transaction identifies one DISCOVER/REQUEST exchange. The xid is fixed
// for the lifetime of the exchange and compared against every reply.
type Transaction struct {
	XID   uint32
	Start time.Time
}

// newTransaction generates a random transaction ID.
func newTransaction() *Transaction {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		binary.BigEndian.PutUint32(b[:], uint32(time.Now().UnixNano()))
	}
	return &Transaction{XID: binary.BigEndian.Uint32(b[:]), Start: time.Now()}
}

// Offer is the candidate assignment proposed by a server in response to a
// DISCOVER. It is held only between the offer arriving and the REQUEST
// being acknowledged or refused.
type Offer struct {
	Addr   net.IP
	Server net.IP
}

// Configurator applies and removes the leased address on the interface.
type Configurator interface {
	ApplyLease(l *lease.Lease) error
	RemoveLease(l *lease.Lease) error
}

// ClientConfig carries the resolved runtime parameters for one interface.
type ClientConfig struct {
	Interface      string
	HWAddr         net.HardwareAddr
	Hostname       string
	ClientID       []byte
	RequestedIP    net.IP        // prior address hinted in DISCOVER (option 50)
	InitialTimeout time.Duration // first retransmission delay
	MaxTimeout     time.Duration // retransmission delay cap
	OverallTimeout time.Duration // per-attempt deadline; 0 disables
}

type eventKind int

const (
	evStart eventKind = iota + 1
	evStop
	evShutdown
	evRenew
	evRelease
	evDecline
	evHookDone
	evPacket
	evTimer
)

type event struct {
	kind   eventKind
	pkt    *Packet
	token  timerToken
	gen    uint64
	reason string
}

// Client is the DHCPv4 lease state machine for a single interface. All
// state lives on one event-processing goroutine; packets, timer fires, and
// external commands are funnelled through a single channel, so no state
// transition ever races another.
type Client struct {
	cfg    ClientConfig
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.RWMutex // guards state, lease, and registered callbacks
	state State
	lease *lease.Lease

	tx    *Transaction
	offer *Offer
	conn  transport
	dial  func() (transport, error)

	evts  chan event
	done  chan struct{}
	sched *scheduler
	armed map[timerToken]uint64
	boff  *backoff

	configurator Configurator

	onStateChange func(old, next State)
	onLease       func(*lease.Lease)
	onFailure     func()
	onOffer       func(addr, server net.IP)
	onPacket      func(*Packet)

	preStartHook   func(complete func())
	preRenewalHook func(complete func())

	startOnce    sync.Once
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewClient creates a client for one interface. The event loop starts on
// the first call to Start.
func NewClient(cfg ClientConfig, bus *events.Bus, logger *slog.Logger) *Client {
	if cfg.InitialTimeout <= 0 {
		cfg.InitialTimeout = 2 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 64 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		state:  StateStopped,
		evts:   make(chan event, 64),
		done:   make(chan struct{}),
		armed:  make(map[timerToken]uint64),
		boff:   newBackoff(cfg.InitialTimeout, cfg.MaxTimeout),
	}
	c.dial = func() (transport, error) { return newConn(logger) }
	c.sched = newScheduler(c.deliverTimer)
	return c
}

// SetConfigurator installs the interface configuration sink. Must be set
// before Start.
func (c *Client) SetConfigurator(cfg Configurator) {
	c.configurator = cfg
}

// OnStateChange sets a callback for state transitions.
func (c *Client) OnStateChange(fn func(old, next State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnLeaseAcquired sets the success callback. It receives a copy of the
// lease on every acquisition and renewal.
func (c *Client) OnLeaseAcquired(fn func(*lease.Lease)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLease = fn
}

// OnLeaseFailed sets the failure callback, fired once per failed attempt.
func (c *Client) OnLeaseFailed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = fn
}

// OnOffer sets an advisory callback fired when an offer is taken, before
// the REQUEST goes out. Used to kick off duplicate-address probing; it
// must not block.
func (c *Client) OnOffer(fn func(addr, server net.IP)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOffer = fn
}

// OnPacket sets an advisory tap fired for every decoded server reply in
// any state, ahead of transaction filtering. Rogue-server observation
// hangs off this; the tap must not block.
func (c *Client) OnPacket(fn func(*Packet)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket = fn
}

// RegisterPreStartHook installs a hook run between Start and the first
// DISCOVER. The hook must eventually call complete.
func (c *Client) RegisterPreStartHook(fn func(complete func())) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preStartHook = fn
}

// RegisterPreRenewalHook installs a hook run when renewal comes due,
// before the renewal REQUEST. The hook must eventually call complete.
func (c *Client) RegisterPreRenewalHook(fn func(complete func())) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preRenewalHook = fn
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Lease returns a copy of the current lease, or nil when none is held.
func (c *Client) Lease() *lease.Lease {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lease == nil {
		return nil
	}
	return c.lease.Clone()
}

// Start launches the event loop (first call only) and begins acquisition.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
	c.send(event{kind: evStart})
}

// Stop halts lease activity and returns to STOPPED. The client can be
// started again afterwards.
func (c *Client) Stop() {
	c.send(event{kind: evStop})
}

// Renew forces a renewal now instead of waiting for the renewal alarm.
func (c *Client) Renew() {
	c.send(event{kind: evRenew})
}

// Release sends a RELEASE for the current lease, removes the address, and
// stops the client.
func (c *Client) Release() {
	c.send(event{kind: evRelease})
}

// Decline sends a DECLINE for the current lease (the address was found in
// use by another host) and restarts acquisition.
func (c *Client) Decline(reason string) {
	c.send(event{kind: evDecline, reason: reason})
}

// Shutdown stops the client and terminates the event loop. The client is
// unusable afterwards.
func (c *Client) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.send(event{kind: evShutdown})
	})
	c.wg.Wait()
}

// send enqueues a command. Drops it if the loop has already exited.
func (c *Client) send(ev event) {
	select {
	case c.evts <- ev:
	case <-c.done:
	}
}

// deliverTimer feeds a timer fire into the event stream. Fires must not be
// lost, so this blocks until the loop consumes or exits.
func (c *Client) deliverTimer(token timerToken, gen uint64) {
	select {
	case c.evts <- event{kind: evTimer, token: token, gen: gen}:
	case <-c.done:
	}
}

// deliverPacket feeds a decoded packet into the event stream. Packets are
// droppable; a full queue sheds load rather than blocking the receiver.
func (c *Client) deliverPacket(pkt *Packet) {
	select {
	case c.evts <- event{kind: evPacket, pkt: pkt}:
	case <-c.done:
	default:
		metrics.EventQueueDrops.Inc()
		c.logger.Debug("event queue full, dropping packet",
			"interface", c.cfg.Interface, "xid", pkt.XID)
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	defer close(c.done)
	for ev := range c.evts {
		if ev.kind == evShutdown {
			c.toStopped("shutdown")
			return
		}
		c.step(ev)
	}
}

// step dispatches one event. It runs exclusively on the event loop
// goroutine; all transition logic lives beneath it.
func (c *Client) step(ev event) {
	switch ev.kind {
	case evStart:
		c.handleStart()
	case evStop:
		if c.state != StateStopped {
			c.toStopped("stop requested")
		}
	case evRenew:
		c.handleRenew("renewal requested")
	case evRelease:
		c.handleRelease()
	case evDecline:
		c.handleDecline(ev.reason)
	case evHookDone:
		c.handleHookDone()
	case evTimer:
		c.handleTimer(ev.token, ev.gen)
	case evPacket:
		c.handlePacket(ev.pkt)
	}
}

func (c *Client) handleStart() {
	if c.state != StateStopped {
		c.logger.Debug("start ignored", "interface", c.cfg.Interface, "state", string(c.state))
		return
	}
	c.mu.RLock()
	hook := c.preStartHook
	c.mu.RUnlock()
	if hook != nil {
		c.setState(StateWaitBeforeStart, "start requested")
		c.runHook(hook)
		return
	}
	c.enterInit("start requested")
}

func (c *Client) handleHookDone() {
	switch c.state {
	case StateWaitBeforeStart:
		c.enterInit("pre-start hook complete")
	case StateWaitBeforeRenewal:
		c.enterRenewing("pre-renewal hook complete")
	default:
		// Hook completed after the state moved on; nothing to do.
	}
}

func (c *Client) handleRenew(reason string) {
	if c.state != StateBound {
		c.logger.Debug("renew ignored", "interface", c.cfg.Interface, "state", string(c.state))
		return
	}
	c.disarm(timerRenew)
	c.mu.RLock()
	hook := c.preRenewalHook
	c.mu.RUnlock()
	if hook != nil {
		c.setState(StateWaitBeforeRenewal, reason)
		c.runHook(hook)
		return
	}
	c.enterRenewing(reason)
}

func (c *Client) handleRelease() {
	l := c.lease
	if l == nil {
		c.toStopped("release requested without lease")
		return
	}
	if c.conn != nil {
		pkt := NewRelease(newTransaction().XID, c.params(), l.Addr, l.Server)
		c.sendUnicast(pkt, l.Server)
	}
	c.logger.Info("lease released", "interface", c.cfg.Interface,
		"addr", l.Addr.String(), "server", l.Server.String())
	c.removeAddress(l)
	c.publish(events.Event{
		Type:  events.EventLeaseReleased,
		Lease: leaseEventData(l),
	})
	c.toStopped("lease released")
}

func (c *Client) handleDecline(reason string) {
	l := c.lease
	if c.state != StateBound || l == nil {
		c.logger.Debug("decline ignored", "interface", c.cfg.Interface, "state", string(c.state))
		return
	}
	if reason == "" {
		reason = "address in use"
	}
	if c.conn != nil {
		pkt := NewDecline(newTransaction().XID, c.params(), l.Addr, l.Server, reason)
		c.sendBroadcast(pkt)
	}
	c.logger.Warn("lease declined", "interface", c.cfg.Interface,
		"addr", l.Addr.String(), "reason", reason)
	metrics.LeaseDeclines.Inc()
	c.removeAddress(l)
	c.setLease(nil)
	c.publish(events.Event{
		Type:   events.EventLeaseDeclined,
		Lease:  leaseEventData(l),
		Reason: reason,
	})
	c.disarm(timerExpiry)
	c.enterInit("address declined")
}

// enterInit opens the transport on first entry, creates a fresh
// transaction, and broadcasts the first DISCOVER. Offers are accepted
// directly in this state, first come first served.
func (c *Client) enterInit(reason string) {
	c.cancelExchangeTimers()
	c.offer = nil

	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			c.logger.Error("transport setup failed",
				"interface", c.cfg.Interface, "error", err)
			c.reportFailure("transport setup failed")
			c.toStopped("transport setup failed")
			return
		}
		c.conn = conn
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			conn.ReadLoop(c.deliverPacket)
		}()
	}

	c.tx = newTransaction()
	c.boff.Reset()
	c.setState(StateInit, reason)

	c.sendDiscover()
	c.arm(timerRetransmit, c.boff.Next())
	if c.cfg.OverallTimeout > 0 {
		c.arm(timerOverall, c.cfg.OverallTimeout)
	}
}

// enterRequesting broadcasts the REQUEST for the held offer. The deadline
// here is half the overall timeout: the server just answered, so a stalled
// REQUEST should fail fast and fall back to discovery.
func (c *Client) enterRequesting() {
	c.cancelExchangeTimers()
	c.boff.Reset()
	c.setState(StateRequesting, "offer received")

	c.sendRequestSelecting()
	c.arm(timerRetransmit, c.boff.Next())
	if c.cfg.OverallTimeout > 0 {
		c.arm(timerOverall, c.cfg.OverallTimeout/2)
	}
}

// enterBound applies the address, reports the lease, and schedules renewal
// at the midpoint between now and expiry.
func (c *Client) enterBound(l *lease.Lease, renewed bool) {
	c.cancelExchangeTimers()
	c.tx = nil
	c.offer = nil
	c.setLease(l)

	if c.configurator != nil {
		if err := c.configurator.ApplyLease(l); err != nil {
			c.logger.Warn("applying address failed",
				"interface", c.cfg.Interface, "addr", l.Addr.String(), "error", err)
		}
	}

	reason := "lease acquired"
	if renewed {
		reason = "lease renewed"
	}
	c.setState(StateBound, reason)
	c.logger.Info(reason,
		"interface", c.cfg.Interface,
		"addr", l.Addr.String(),
		"server", l.Server.String(),
		"expiry", l.Expiry.Format(time.RFC3339))

	c.reportLease(l, renewed)

	renewIn := time.Until(l.Expiry) / 2
	if renewIn < time.Second {
		renewIn = time.Second
	}
	c.arm(timerRenew, renewIn)
	c.arm(timerExpiry, time.Until(l.Expiry))
}

// enterRenewing unicasts a REQUEST straight to the leasing server with a
// fresh transaction.
func (c *Client) enterRenewing(reason string) {
	l := c.lease
	if l == nil {
		c.enterInit("renewal without lease")
		return
	}
	c.cancelExchangeTimers()
	c.tx = newTransaction()
	c.boff.Reset()
	c.setState(StateRenewing, reason)

	c.sendRequestRenewing()
	c.arm(timerRetransmit, c.boff.Next())
	if c.cfg.OverallTimeout > 0 {
		c.arm(timerOverall, c.cfg.OverallTimeout)
	}
}

// toStopped cancels every alarm, closes the socket (which unblocks the
// receive goroutine), and clears all exchange and lease state.
func (c *Client) toStopped(reason string) {
	c.sched.CancelAll()
	c.armed = make(map[timerToken]uint64)
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.tx = nil
	c.offer = nil
	c.setLease(nil)
	metrics.LeaseExpirySeconds.Set(0)
	c.setState(StateStopped, reason)
}

func (c *Client) handleTimer(token timerToken, gen uint64) {
	if c.armed[token] != gen {
		return // stale fire from a cancelled or replaced alarm
	}
	delete(c.armed, token)

	switch token {
	case timerRetransmit:
		c.handleRetransmit()
	case timerOverall:
		c.handleOverallTimeout()
	case timerRenew:
		c.handleRenew("renewal due")
	case timerExpiry:
		c.handleExpiry()
	}
}

func (c *Client) handleRetransmit() {
	switch c.state {
	case StateInit:
		c.sendDiscover()
	case StateRequesting:
		c.sendRequestSelecting()
	case StateRenewing:
		c.sendRequestRenewing()
	default:
		return
	}
	metrics.Retransmissions.WithLabelValues(string(c.state)).Inc()
	c.arm(timerRetransmit, c.boff.Next())
}

func (c *Client) handleOverallTimeout() {
	switch c.state {
	case StateInit:
		c.logger.Warn("no offer received before deadline",
			"interface", c.cfg.Interface, "timeout", c.cfg.OverallTimeout.String())
		c.reportFailure("no offer received")
		c.toStopped("acquisition timed out")
	case StateRequesting:
		c.logger.Warn("request unanswered before deadline",
			"interface", c.cfg.Interface, "addr", c.offer.Addr.String())
		c.reportFailure("request unanswered")
		c.enterInit("request timed out")
	case StateRenewing:
		c.logger.Warn("renewal unanswered before deadline",
			"interface", c.cfg.Interface, "server", c.lease.Server.String())
		c.reportFailure("renewal unanswered")
		c.setLease(nil)
		c.enterInit("renewal timed out")
	}
}

// handleExpiry fires at the lease's hard expiry. Normally renewal has long
// since replaced the lease and the generation check discards the fire; if
// it ever lands, the address is no longer ours to use.
func (c *Client) handleExpiry() {
	l := c.lease
	if l == nil || !l.IsExpired() {
		return
	}
	c.logger.Warn("lease expired", "interface", c.cfg.Interface, "addr", l.Addr.String())
	metrics.LeaseExpiries.Inc()
	c.removeAddress(l)
	c.setLease(nil)
	c.publish(events.Event{
		Type:  events.EventLeaseExpired,
		Lease: leaseEventData(l),
	})
	if c.state == StateBound || c.state == StateWaitBeforeRenewal || c.state == StateRenewing {
		c.enterInit("lease expired")
	}
}

// handlePacket runs the validity filter and then dispatches by state.
// Filter rejections are silent: wrong-transaction or wrong-hardware
// packets must leave observable state untouched.
func (c *Client) handlePacket(pkt *Packet) {
	c.mu.RLock()
	tap := c.onPacket
	c.mu.RUnlock()
	if tap != nil {
		tap(pkt)
	}

	switch c.state {
	case StateInit, StateRequesting, StateRenewing:
	default:
		return
	}

	if c.tx == nil || pkt.XID != c.tx.XID {
		metrics.PacketsFiltered.WithLabelValues("xid").Inc()
		return
	}
	if !bytes.Equal(pkt.CHAddr, c.cfg.HWAddr) {
		metrics.PacketsFiltered.WithLabelValues("chaddr").Inc()
		return
	}

	switch c.state {
	case StateInit:
		c.handleOffer(pkt)
	case StateRequesting:
		c.handleRequestReply(pkt)
	case StateRenewing:
		c.handleRenewReply(pkt)
	}
}

func (c *Client) handleOffer(pkt *Packet) {
	if pkt.MessageType() != dhcpv4.MessageTypeOffer {
		return
	}
	addr := pkt.YIAddr
	if addr == nil || addr.Equal(net.IPv4zero) {
		return
	}
	server := pkt.ServerIdentifier()
	if server == nil {
		c.logger.Debug("offer without server identifier ignored",
			"interface", c.cfg.Interface, "addr", addr.String())
		return
	}

	c.offer = &Offer{Addr: addr, Server: server}
	c.logger.Info("offer received", "interface", c.cfg.Interface,
		"addr", addr.String(), "server", server.String())

	c.mu.RLock()
	cb := c.onOffer
	c.mu.RUnlock()
	if cb != nil {
		cb(addr, server)
	}

	c.enterRequesting()
}

func (c *Client) handleRequestReply(pkt *Packet) {
	switch pkt.MessageType() {
	case dhcpv4.MessageTypeAck:
		l, err := c.leaseFromAck(pkt)
		if err != nil {
			c.logger.Warn("unusable ack ignored",
				"interface", c.cfg.Interface, "error", err)
			return
		}
		c.enterBound(l, false)
	case dhcpv4.MessageTypeNak:
		c.logger.Warn("request refused by server",
			"interface", c.cfg.Interface,
			"addr", c.offer.Addr.String(),
			"message", pkt.Message())
		metrics.Naks.Inc()
		c.offer = nil
		c.enterInit("request refused")
	}
}

func (c *Client) handleRenewReply(pkt *Packet) {
	switch pkt.MessageType() {
	case dhcpv4.MessageTypeAck:
		l, err := c.leaseFromAck(pkt)
		if err != nil {
			c.logger.Warn("unusable renewal ack ignored",
				"interface", c.cfg.Interface, "error", err)
			return
		}
		if l.Server == nil {
			l.Server = c.lease.Server
		}
		l.Renewals = c.lease.Renewals + 1
		c.enterBound(l, true)
	case dhcpv4.MessageTypeNak:
		c.logger.Warn("renewal refused by server",
			"interface", c.cfg.Interface,
			"addr", c.lease.Addr.String(),
			"message", pkt.Message())
		metrics.Naks.Inc()
		c.setLease(nil)
		c.disarm(timerExpiry)
		c.enterInit("renewal refused")
	}
}

// leaseFromAck builds a lease record from an ACK. An ACK without an
// address or lease time is unusable and treated like a decode failure.
func (c *Client) leaseFromAck(pkt *Packet) (*lease.Lease, error) {
	addr := pkt.YIAddr
	if addr == nil || addr.Equal(net.IPv4zero) {
		return nil, errors.New("ack carries no address")
	}
	dur, ok := pkt.LeaseTime()
	if !ok || dur <= 0 {
		return nil, errors.New("ack carries no lease time")
	}

	now := time.Now()
	l := &lease.Lease{
		Interface:   c.cfg.Interface,
		Addr:        addr,
		Server:      pkt.ServerIdentifier(),
		MAC:         c.cfg.HWAddr,
		Hostname:    c.cfg.Hostname,
		SubnetMask:  pkt.SubnetMask(),
		Routers:     pkt.Routers(),
		DNSServers:  pkt.DNSServers(),
		DomainName:  pkt.DomainName(),
		Routes:      pkt.ClasslessRoutes(),
		State:       dhcpv4.LeaseStateActive,
		Start:       now,
		Expiry:      now.Add(dur),
		LastUpdated: now,
	}
	if l.SubnetMask != nil {
		l.PrefixLen = dhcpv4.MaskToPrefixLen(l.SubnetMask)
	} else {
		l.PrefixLen = 24
	}
	return l, nil
}

func (c *Client) params() MessageParams {
	return MessageParams{
		HWAddr:   c.cfg.HWAddr,
		Hostname: c.cfg.Hostname,
		ClientID: c.cfg.ClientID,
	}
}

func (c *Client) sendDiscover() {
	c.sendBroadcast(NewDiscover(c.tx.XID, c.params(), c.cfg.RequestedIP))
}

func (c *Client) sendRequestSelecting() {
	c.sendBroadcast(NewRequestSelecting(c.tx.XID, c.params(), c.offer.Addr, c.offer.Server))
}

func (c *Client) sendRequestRenewing() {
	pkt := NewRequestRenewing(c.tx.XID, c.params(), c.lease.Addr)
	c.sendUnicast(pkt, c.lease.Server)
}

func (c *Client) sendBroadcast(pkt *Packet) {
	data, err := pkt.Encode()
	if err != nil {
		c.logger.Error("encoding packet failed",
			"interface", c.cfg.Interface, "type", pkt.MessageType().String(), "error", err)
		return
	}
	if err := c.conn.Broadcast(data); err != nil {
		c.logger.Warn("broadcast failed",
			"interface", c.cfg.Interface, "type", pkt.MessageType().String(), "error", err)
		return
	}
	metrics.PacketsSent.WithLabelValues(pkt.MessageType().String()).Inc()
}

func (c *Client) sendUnicast(pkt *Packet, dst net.IP) {
	data, err := pkt.Encode()
	if err != nil {
		c.logger.Error("encoding packet failed",
			"interface", c.cfg.Interface, "type", pkt.MessageType().String(), "error", err)
		return
	}
	if err := c.conn.Unicast(data, dst); err != nil {
		c.logger.Warn("unicast failed",
			"interface", c.cfg.Interface, "dst", dst.String(),
			"type", pkt.MessageType().String(), "error", err)
		return
	}
	metrics.PacketsSent.WithLabelValues(pkt.MessageType().String()).Inc()
}

// arm schedules a one-shot alarm for token, replacing any pending one.
// The stored generation lets handleTimer drop fires from replaced alarms.
func (c *Client) arm(token timerToken, d time.Duration) {
	c.armed[token] = c.sched.Schedule(token, d)
}

func (c *Client) disarm(token timerToken) {
	c.sched.Cancel(token)
	delete(c.armed, token)
}

// cancelExchangeTimers clears the alarms owned by the exchange states. The
// expiry alarm survives state changes; it is rearmed on bind and cleared
// on stop.
func (c *Client) cancelExchangeTimers() {
	c.disarm(timerRetransmit)
	c.disarm(timerOverall)
	c.disarm(timerRenew)
}

func (c *Client) runHook(hook func(complete func())) {
	go hook(func() {
		c.send(event{kind: evHookDone})
	})
}

func (c *Client) setState(next State, reason string) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	cb := c.onStateChange
	c.mu.Unlock()

	c.logger.Info("client state transition",
		"interface", c.cfg.Interface,
		"old_state", string(prev),
		"new_state", string(next),
		"reason", reason)
	metrics.StateTransitions.WithLabelValues(string(prev), string(next)).Inc()

	if cb != nil {
		cb(prev, next)
	}
	c.publish(events.Event{
		Type: events.EventStateChange,
		State: &events.StateData{
			Interface: c.cfg.Interface,
			Old:       string(prev),
			New:       string(next),
		},
		Reason: reason,
	})
}

func (c *Client) setLease(l *lease.Lease) {
	c.mu.Lock()
	c.lease = l
	c.mu.Unlock()
}

func (c *Client) reportLease(l *lease.Lease, renewed bool) {
	typ := events.EventLeaseAcquired
	if renewed {
		typ = events.EventLeaseRenewed
		metrics.LeaseRenewals.Inc()
	} else {
		metrics.LeaseAcquisitions.Inc()
	}
	metrics.LeaseExpirySeconds.Set(float64(l.Expiry.Unix()))

	c.mu.RLock()
	cb := c.onLease
	c.mu.RUnlock()
	if cb != nil {
		cb(l.Clone())
	}
	c.publish(events.Event{Type: typ, Lease: leaseEventData(l)})
}

func (c *Client) reportFailure(reason string) {
	metrics.LeaseFailures.WithLabelValues(string(c.state)).Inc()

	c.mu.RLock()
	cb := c.onFailure
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
	c.publish(events.Event{
		Type: events.EventLeaseFailed,
		Lease: &events.LeaseData{
			Interface: c.cfg.Interface,
			MAC:       c.cfg.HWAddr,
		},
		Reason: reason,
	})
}

func (c *Client) removeAddress(l *lease.Lease) {
	if c.configurator == nil {
		return
	}
	if err := c.configurator.RemoveLease(l); err != nil {
		c.logger.Warn("removing address failed",
			"interface", c.cfg.Interface, "addr", l.Addr.String(), "error", err)
	}
}

func (c *Client) publish(ev events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ev)
}

func leaseEventData(l *lease.Lease) *events.LeaseData {
	return &events.LeaseData{
		Interface:  l.Interface,
		IP:         l.Addr,
		PrefixLen:  l.PrefixLen,
		Server:     l.Server,
		MAC:        l.MAC,
		Hostname:   l.Hostname,
		DNSServers: l.DNSServers,
		Domain:     l.DomainName,
		Start:      l.Start.Unix(),
		Expiry:     l.Expiry.Unix(),
		State:      string(l.State),
	}
}
