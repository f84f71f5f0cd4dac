package rogue

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/athena-provd/athena-provd/internal/dhcp"
	"github.com/athena-provd/athena-provd/internal/metrics"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

const (
	// probeStartDelay keeps the first round clear of the client's own
	// startup DISCOVER exchange.
	probeStartDelay = 10 * time.Second

	defaultProbeTimeout = 3 * time.Second
)

// StartProbing launches periodic DISCOVER probe rounds. Each round
// broadcasts under a throwaway transaction and hardware address so
// replies never touch the client state machine; anything answering that
// is not trusted gets recorded. Stop ends the loop.
func (d *Detector) StartProbing(interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	d.wg.Add(1)
	go d.probeLoop(interval, timeout)
}

// ScanNow runs a single probe round and returns the number of untrusted
// servers that answered on the probe socket. Broadcast-only responders
// still surface through the client tap.
func (d *Detector) ScanNow(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return d.runProbe(timeout)
}

func (d *Detector) probeLoop(interval, timeout time.Duration) {
	defer d.wg.Done()

	select {
	case <-time.After(probeStartDelay):
	case <-d.done:
		return
	}

	d.logger.Info("rogue probe loop started",
		"interface", d.iface,
		"interval", interval.String(),
		"timeout", timeout.String())

	if _, err := d.runProbe(timeout); err != nil {
		d.logger.Warn("rogue probe failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			if _, err := d.runProbe(timeout); err != nil {
				d.logger.Warn("rogue probe failed", "error", err)
			}
		}
	}
}

// runProbe broadcasts one DISCOVER and collects replies. Conforming
// servers answer to port 68 and arrive via the client tap, which matches
// the probe xid; servers that answer the source port directly are picked
// up here.
func (d *Detector) runProbe(timeout time.Duration) (int, error) {
	xid, fakeMAC, err := probeIdentity()
	if err != nil {
		return 0, err
	}

	pkt := dhcp.NewDiscover(xid, dhcp.MessageParams{HWAddr: fakeMAC}, nil)
	raw, err := pkt.Encode()
	if err != nil {
		return 0, fmt.Errorf("encoding probe DISCOVER: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return 0, fmt.Errorf("opening probe socket: %w", err)
	}
	defer conn.Close()

	d.mu.Lock()
	d.probeXID = xid
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.probeXID = 0
		d.mu.Unlock()
	}()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ServerPort}
	if _, err := conn.WriteToUDP(raw, dst); err != nil {
		return 0, fmt.Errorf("sending probe DISCOVER: %w", err)
	}
	metrics.RogueProbes.Inc()

	d.logger.Debug("rogue probe DISCOVER sent",
		"xid", fmt.Sprintf("%08x", xid),
		"probe_mac", fakeMAC.String())

	found := 0
	buf := make([]byte, dhcpv4.MaxPacketSize)
	deadline := time.Now().Add(timeout)

	for {
		conn.SetReadDeadline(deadline)
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}

		reply, err := dhcp.DecodePacket(buf[:n])
		if err != nil || reply.XID != xid {
			continue
		}
		server := reply.ServerIdentifier()
		if server == nil || server.Equal(net.IPv4zero) {
			continue
		}

		sip := server.String()
		d.mu.RLock()
		isTrusted := d.trusted[sip]
		d.mu.RUnlock()
		if isTrusted {
			d.logger.Debug("probe reply from trusted server", "server_ip", sip)
			continue
		}

		d.logger.Warn("probe drew reply on source port",
			"server_ip", sip,
			"offered_ip", reply.YIAddr,
			"src", src.String())
		d.record(server, reply.YIAddr, SourceProbe)
		found++
	}

	d.logger.Debug("rogue probe round complete", "direct_replies", found)
	return found, nil
}

// probeIdentity generates the throwaway transaction id and a random
// locally-administered MAC for one probe round.
func probeIdentity() (uint32, net.HardwareAddr, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, nil, fmt.Errorf("generating probe xid: %w", err)
	}
	mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := rand.Read(mac[2:]); err != nil {
		return 0, nil, fmt.Errorf("generating probe mac: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), mac, nil
}

// lookupARPCache resolves the MAC for an IP from /proc/net/arp, filled in
// by the kernel during the UDP exchange. Returns nil when absent.
func lookupARPCache(ip net.IP) net.HardwareAddr {
	f, err := os.Open("/proc/net/arp")
	if err != nil {
		return nil
	}
	defer f.Close()

	target := ip.String()
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		// fields: IP, HWtype, Flags, HWaddress, Mask, Device
		if fields[0] == target && fields[3] != "00:00:00:00:00:00" {
			if mac, err := net.ParseMAC(fields[3]); err == nil {
				return mac
			}
		}
	}
	return nil
}
