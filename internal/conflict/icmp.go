package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// icmpPayload tags our echo requests so replies to other pingers on the
// host are not mistaken for probe hits.
var icmpPayload = []byte("athena-provd-probe")

// ICMPProber detects in-use addresses with ICMP Echo Requests (RFC 792).
// It is the fallback when ARP probing is unavailable or errors out; one
// raw socket opened at startup serves every probe.
type ICMPProber struct {
	conn   *icmp.PacketConn
	logger *slog.Logger
	id     int

	mu        sync.Mutex
	seq       uint16
	available bool
}

// NewICMPProber opens the raw ICMP socket. When that fails (no
// CAP_NET_RAW), the prober is returned in degraded mode: Available
// reports false and probes report clear.
func NewICMPProber(logger *slog.Logger) (*ICMPProber, error) {
	p := &ICMPProber{
		logger: logger,
		id:     os.Getpid() & 0xffff,
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		logger.Error("FAILED TO OPEN ICMP SOCKET — IP conflict detection via ICMP is DISABLED",
			"error", err,
			"hint", "Grant CAP_NET_RAW capability or run as root")
		return p, nil
	}

	p.conn = conn
	p.available = true
	logger.Info("ICMP prober initialized")
	return p, nil
}

// Available returns true if the ICMP prober has a working socket.
func (p *ICMPProber) Available() bool {
	return p != nil && p.available
}

// Close closes the ICMP socket.
func (p *ICMPProber) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Probe pings the target and reports whether anything answered. A
// matching Echo Reply before the context deadline is a conflict; the
// deadline passing with no reply is clear.
func (p *ICMPProber) Probe(ctx context.Context, target net.IP) (bool, error) {
	if !p.Available() {
		return false, nil
	}

	p.mu.Lock()
	p.seq++
	seq := int(p.seq)
	p.mu.Unlock()

	start := time.Now()
	if err := p.send(ctx, target, seq); err != nil {
		return false, err
	}

	hit, responder, err := p.awaitReply(ctx, seq)
	if err != nil {
		return false, err
	}
	if hit {
		p.logger.Debug("ICMP probe reply received (conflict)",
			"ip", target.String(),
			"responder", responder,
			"duration", time.Since(start).String())
	} else {
		p.logger.Debug("ICMP probe timeout (clear)",
			"ip", target.String(),
			"duration", time.Since(start).String())
	}
	return hit, nil
}

func (p *ICMPProber) send(ctx context.Context, target net.IP, seq int) error {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: icmpPayload,
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshalling ICMP echo request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting ICMP deadline: %w", err)
		}
	}
	if _, err := p.conn.WriteTo(wire, &net.IPAddr{IP: target}); err != nil {
		return fmt.Errorf("sending ICMP echo to %s: %w", target, err)
	}
	return nil
}

// awaitReply reads until a reply matching our id and seq arrives, the
// socket deadline passes, or the context is cancelled. The socket sees
// all ICMP traffic on the host, so non-matching packets are skipped.
func (p *ICMPProber) awaitReply(ctx context.Context, seq int) (bool, string, error) {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return false, "", nil
		}

		n, peer, err := p.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return false, "", nil
			}
			return false, "", fmt.Errorf("reading ICMP reply: %w", err)
		}

		reply, err := icmp.ParseMessage(1, buf[:n]) // 1 = ICMPv4 protocol
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			continue
		}
		return true, peer.String(), nil
	}
}
