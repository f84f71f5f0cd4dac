package dhcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/athena-provd/athena-provd/internal/metrics"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// transport is the socket surface the state machine drives. Conn
// implements it over UDP; tests substitute an in-memory fake.
type transport interface {
	Broadcast(b []byte) error
	Unicast(b []byte, dst net.IP) error
	ReadLoop(deliver func(*Packet))
	Close() error
}

// Conn is the client's UDP transport: one socket bound to the DHCP client
// port, used both for broadcast discovery and for unicast renewal.
// Closing the socket is the mechanism that unblocks the receive loop.
type Conn struct {
	udp    *net.UDPConn
	logger *slog.Logger
}

// newConn opens the client socket on 0.0.0.0:68.
func newConn(logger *slog.Logger) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("0.0.0.0:%d", dhcpv4.ClientPort))
	if err != nil {
		return nil, fmt.Errorf("resolving client address: %w", err)
	}
	udp, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}
	return &Conn{udp: udp, logger: logger}, nil
}

// Broadcast sends b to 255.255.255.255:67.
func (c *Conn) Broadcast(b []byte) error {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ServerPort}
	if _, err := c.udp.WriteToUDP(b, dst); err != nil {
		return fmt.Errorf("broadcast send: %w", err)
	}
	return nil
}

// Unicast sends b directly to dst:67.
func (c *Conn) Unicast(b []byte, dst net.IP) error {
	addr := &net.UDPAddr{IP: dst, Port: dhcpv4.ServerPort}
	if _, err := c.udp.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("unicast send to %s: %w", dst, err)
	}
	return nil
}

// Close closes the socket, unblocking any pending read.
func (c *Conn) Close() error {
	return c.udp.Close()
}

// ReadLoop blocks on the socket, decodes each datagram, and hands decoded
// reply packets to deliver. It returns when the socket is closed. Decode
// failures are dropped with a log line and never reach the state machine.
func (c *Conn) ReadLoop(deliver func(*Packet)) {
	for {
		buf := GetBuffer()
		n, src, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			PutBuffer(buf)
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Error("client socket read failed", "error", err)
			}
			return
		}

		pkt, err := DecodePacket(buf[:n])
		PutBuffer(buf)
		if err != nil {
			metrics.PacketDecodeErrors.Inc()
			c.logger.Debug("dropping undecodable packet",
				"src", src.String(), "bytes", n, "error", err)
			continue
		}

		// Clients only consume replies.
		if pkt.Op != dhcpv4.OpCodeBootReply {
			continue
		}

		metrics.PacketsReceived.WithLabelValues(pkt.MessageType().String()).Inc()
		deliver(pkt)
	}
}
