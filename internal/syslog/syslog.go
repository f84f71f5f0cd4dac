// Package syslog forwards bus events to a remote collector, framed as
// RFC 5424 syslog lines or raw JSON over UDP or TCP.
package syslog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/events"
)

// Severity values (RFC 5424)
const (
	SeverityEmergency = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

// Format constants
const (
	FormatRFC5424 = "rfc5424"
	FormatJSON    = "json"
)

// Forwarder subscribes to the event bus and forwards events to a remote
// syslog collector.
type Forwarder struct {
	cfg      config.SyslogConfig
	bus      *events.Bus
	logger   *slog.Logger
	hostname string

	ch   chan events.Event
	done chan struct{}

	mu   sync.Mutex
	conn net.Conn
}

// NewForwarder creates a forwarder. Start must be called before events flow.
func NewForwarder(cfg config.SyslogConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if cfg.Protocol == "" {
		cfg.Protocol = config.DefaultSyslogProtocol
	}
	if cfg.Format == "" {
		cfg.Format = FormatRFC5424
	}
	if cfg.AppName == "" {
		cfg.AppName = config.DefaultSyslogAppName
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "-"
	}

	return &Forwarder{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		hostname: hostname,
		done:     make(chan struct{}),
	}
}

// Start connects to the collector and subscribes to the event bus.
func (f *Forwarder) Start() error {
	conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to syslog %s://%s: %w", f.cfg.Protocol, f.cfg.Address, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.ch = f.bus.Subscribe(500)
	go f.loop()

	f.logger.Info("syslog forwarder started",
		"address", f.cfg.Address, "protocol", f.cfg.Protocol, "format", f.cfg.Format)
	return nil
}

// Stop shuts down the forwarder.
func (f *Forwarder) Stop() {
	close(f.done)
	if f.ch != nil {
		f.bus.Unsubscribe(f.ch)
	}

	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()

	f.logger.Info("syslog forwarder stopped")
}

func (f *Forwarder) loop() {
	for {
		select {
		case evt, ok := <-f.ch:
			if !ok {
				return
			}
			f.forward(evt)
		case <-f.done:
			return
		}
	}
}

func (f *Forwarder) forward(evt events.Event) {
	var msg string
	if f.cfg.Format == FormatJSON {
		data, err := json.Marshal(evt)
		if err != nil {
			return
		}
		msg = string(data)
	} else {
		msg = FormatMessage(evt)
	}

	priority := f.cfg.Facility*8 + eventSeverity(evt.Type)
	ts := evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	line := fmt.Sprintf("<%d>1 %s %s %s - - - %s\n",
		priority, ts, f.hostname, f.cfg.AppName, msg)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return
	}

	if _, err := f.conn.Write([]byte(line)); err != nil {
		f.logger.Debug("syslog write failed, reconnecting", "error", err)
		f.conn.Close()
		conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 3*time.Second)
		if err != nil {
			f.logger.Warn("syslog reconnect failed", "error", err)
			f.conn = nil
			return
		}
		f.conn = conn
		f.conn.Write([]byte(line))
	}
}

// FormatMessage renders an event as a key=value message body.
func FormatMessage(evt events.Event) string {
	parts := []string{"event=" + string(evt.Type)}

	if evt.Lease != nil {
		l := evt.Lease
		parts = append(parts, "interface="+l.Interface)
		if l.IP != nil {
			parts = append(parts, "ip="+l.IP.String())
		}
		if l.Server != nil {
			parts = append(parts, "server="+l.Server.String())
		}
		if l.MAC != nil {
			parts = append(parts, "mac="+l.MAC.String())
		}
		if l.Hostname != "" {
			parts = append(parts, "hostname="+l.Hostname)
		}
		if l.Expiry != 0 {
			parts = append(parts, fmt.Sprintf("expiry=%d", l.Expiry))
		}
	}

	if evt.State != nil {
		parts = append(parts,
			"interface="+evt.State.Interface,
			"old_state="+evt.State.Old,
			"new_state="+evt.State.New)
	}

	if evt.Conflict != nil {
		parts = append(parts,
			"ip="+evt.Conflict.IP,
			"method="+evt.Conflict.DetectionMethod)
		if evt.Conflict.ResponderMAC != "" {
			parts = append(parts, "responder_mac="+evt.Conflict.ResponderMAC)
		}
	}

	if evt.Rogue != nil {
		parts = append(parts, "rogue_server="+evt.Rogue.ServerIP)
		if evt.Rogue.OfferedIP != "" {
			parts = append(parts, "offered_ip="+evt.Rogue.OfferedIP)
		}
	}

	if evt.ANQP != nil {
		if evt.ANQP.SSID != "" {
			parts = append(parts, "ssid="+evt.ANQP.SSID)
		}
		parts = append(parts, fmt.Sprintf("qualified=%t", evt.ANQP.Qualified))
	}

	if evt.Probe != nil {
		parts = append(parts,
			"aaa_server="+evt.Probe.Server,
			"aaa_result="+evt.Probe.Result)
	}

	if evt.Net != nil {
		parts = append(parts,
			"resolver="+evt.Net.Resolver,
			fmt.Sprintf("healthy=%t", evt.Net.Healthy))
	}

	if evt.Reason != "" {
		parts = append(parts, fmt.Sprintf("reason=%q", evt.Reason))
	}

	return strings.Join(parts, " ")
}

// eventSeverity maps event types to RFC 5424 severity.
func eventSeverity(t events.EventType) int {
	switch t {
	case events.EventLeaseFailed, events.EventLeaseExpired:
		return SeverityError
	case events.EventConflictDetected, events.EventRogueDetected,
		events.EventLeaseDeclined, events.EventNetDegraded:
		return SeverityWarning
	case events.EventLeaseAcquired, events.EventLeaseReleased,
		events.EventNetRecovered:
		return SeverityNotice
	default:
		return SeverityInfo
	}
}
