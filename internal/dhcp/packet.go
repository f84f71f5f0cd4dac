// Package dhcp implements the DHCPv4 client: the packet codec, the UDP
// transport, and the lease acquisition/renewal state machine.
package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// Packet represents a decoded DHCPv4 packet (RFC 2131 §2).
type Packet struct {
	Op      dhcpv4.OpCode       // Message op code: 1=BOOTREQUEST, 2=BOOTREPLY
	HType   dhcpv4.HardwareType // Hardware address type (1=Ethernet)
	HLen    byte                // Hardware address length (6 for Ethernet)
	Hops    byte                // Relay hops
	XID     uint32              // Transaction ID
	Secs    uint16              // Seconds elapsed
	Flags   uint16              // Flags (bit 0 = broadcast)
	CIAddr  net.IP              // Client IP address
	YIAddr  net.IP              // 'Your' (client) IP address
	SIAddr  net.IP              // Next server IP address
	GIAddr  net.IP              // Relay agent IP address
	CHAddr  net.HardwareAddr    // Client hardware address
	SName   [64]byte            // Server host name
	File    [128]byte           // Boot file name
	Options Options             // DHCP options
}

// packetPool reuses receive buffers to reduce allocations in the hot path.
var packetPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, dhcpv4.MaxPacketSize)
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() []byte {
	return packetPool.Get().([]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b []byte) {
	// Reset the buffer before returning
	for i := range b {
		b[i] = 0
	}
	packetPool.Put(b)
}

// DecodePacket parses a raw DHCPv4 packet from bytes.
// RFC 2131 §2 — packet format.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < 240 {
		return nil, fmt.Errorf("packet too short: %d bytes (minimum 240)", len(data))
	}

	p := &Packet{}
	p.Op = dhcpv4.OpCode(data[0])
	p.HType = dhcpv4.HardwareType(data[1])
	p.HLen = data[2]
	p.Hops = data[3]
	p.XID = binary.BigEndian.Uint32(data[4:8])
	p.Secs = binary.BigEndian.Uint16(data[8:10])
	p.Flags = binary.BigEndian.Uint16(data[10:12])
	p.CIAddr = net.IP(make([]byte, 4))
	copy(p.CIAddr, data[12:16])
	p.YIAddr = net.IP(make([]byte, 4))
	copy(p.YIAddr, data[16:20])
	p.SIAddr = net.IP(make([]byte, 4))
	copy(p.SIAddr, data[20:24])
	p.GIAddr = net.IP(make([]byte, 4))
	copy(p.GIAddr, data[24:28])

	// Client hardware address (16 bytes in header, but only HLen are significant)
	chaddr := make([]byte, 16)
	copy(chaddr, data[28:44])
	if p.HLen <= 16 {
		p.CHAddr = net.HardwareAddr(chaddr[:p.HLen])
	} else {
		p.CHAddr = net.HardwareAddr(chaddr[:6])
	}

	copy(p.SName[:], data[44:108])
	copy(p.File[:], data[108:236])

	// Validate magic cookie (RFC 2131 §3)
	cookie := data[236:240]
	if cookie[0] != 99 || cookie[1] != 130 || cookie[2] != 83 || cookie[3] != 99 {
		return nil, fmt.Errorf("invalid DHCP magic cookie: %v", cookie)
	}

	// Parse options
	if len(data) > 240 {
		opts, err := DecodeOptions(data[240:])
		if err != nil {
			return nil, fmt.Errorf("decoding options: %w", err)
		}
		p.Options = opts
	} else {
		p.Options = make(Options)
	}

	return p, nil
}

// Encode serializes a DHCPv4 packet to bytes, padded to the minimum size.
func (p *Packet) Encode() ([]byte, error) {
	// Fixed header: 236 bytes + 4 magic cookie + options
	optBytes := p.Options.Encode()
	totalLen := 240 + len(optBytes)
	if totalLen < dhcpv4.MinPacketSize {
		totalLen = dhcpv4.MinPacketSize
	}

	buf := make([]byte, totalLen)
	buf[0] = byte(p.Op)
	buf[1] = byte(p.HType)
	buf[2] = p.HLen
	buf[3] = p.Hops
	binary.BigEndian.PutUint32(buf[4:8], p.XID)
	binary.BigEndian.PutUint16(buf[8:10], p.Secs)
	binary.BigEndian.PutUint16(buf[10:12], p.Flags)

	if p.CIAddr != nil {
		copy(buf[12:16], p.CIAddr.To4())
	}
	if p.YIAddr != nil {
		copy(buf[16:20], p.YIAddr.To4())
	}
	if p.SIAddr != nil {
		copy(buf[20:24], p.SIAddr.To4())
	}
	if p.GIAddr != nil {
		copy(buf[24:28], p.GIAddr.To4())
	}
	if p.CHAddr != nil {
		copy(buf[28:44], p.CHAddr)
	}
	copy(buf[44:108], p.SName[:])
	copy(buf[108:236], p.File[:])

	// Magic cookie
	copy(buf[236:240], dhcpv4.MagicCookie)

	// Options
	copy(buf[240:], optBytes)

	return buf, nil
}

// MessageType returns the DHCP message type from the packet options.
func (p *Packet) MessageType() dhcpv4.MessageType {
	if data, ok := p.Options[dhcpv4.OptionDHCPMessageType]; ok && len(data) == 1 {
		return dhcpv4.MessageType(data[0])
	}
	return 0
}

// ServerIdentifier returns the server identifier from option 54, falling
// back to siaddr when the option is absent.
func (p *Packet) ServerIdentifier() net.IP {
	if ip := p.Options.GetIP(dhcpv4.OptionServerIdentifier); ip != nil {
		return ip
	}
	if p.SIAddr != nil && !p.SIAddr.Equal(net.IPv4zero) {
		return p.SIAddr
	}
	return nil
}

// SubnetMask returns the subnet mask from option 1.
func (p *Packet) SubnetMask() net.IP {
	return p.Options.GetIP(dhcpv4.OptionSubnetMask)
}

// Routers returns the router list from option 3.
func (p *Packet) Routers() []net.IP {
	return p.Options.GetIPList(dhcpv4.OptionRouter)
}

// DNSServers returns the DNS server list from option 6.
func (p *Packet) DNSServers() []net.IP {
	return p.Options.GetIPList(dhcpv4.OptionDomainNameServer)
}

// DomainName returns the domain name from option 15.
func (p *Packet) DomainName() string {
	return p.Options.GetString(dhcpv4.OptionDomainName)
}

// LeaseTime returns the lease duration from option 51.
func (p *Packet) LeaseTime() (time.Duration, bool) {
	secs, ok := p.Options.GetUint32(dhcpv4.OptionIPLeaseTime)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// RenewalTime returns the T1 renewal interval from option 58.
func (p *Packet) RenewalTime() (time.Duration, bool) {
	secs, ok := p.Options.GetUint32(dhcpv4.OptionRenewalTime)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// RebindingTime returns the T2 rebinding interval from option 59.
func (p *Packet) RebindingTime() (time.Duration, bool) {
	secs, ok := p.Options.GetUint32(dhcpv4.OptionRebindingTime)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ClasslessRoutes returns the RFC 3442 routes from option 121.
func (p *Packet) ClasslessRoutes() []dhcpv4.CIDRRoute {
	data, ok := p.Options[dhcpv4.OptionClasslessStaticRoute]
	if !ok {
		return nil
	}
	routes, err := dhcpv4.BytesToCIDRRoutes(data)
	if err != nil {
		return nil
	}
	return routes
}

// Message returns the server message from option 56 (set on NAKs).
func (p *Packet) Message() string {
	return p.Options.GetString(dhcpv4.OptionMessage)
}

// IsBroadcast returns true if the broadcast flag is set.
func (p *Packet) IsBroadcast() bool {
	return p.Flags&dhcpv4.FlagBroadcast != 0
}
