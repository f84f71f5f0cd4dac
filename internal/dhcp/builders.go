package dhcp

import (
	"net"

	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// defaultParamRequestList is the option set requested in every client
// message: subnet mask, router, DNS, domain name, broadcast address, lease
// time, T1/T2, and classless static routes.
var defaultParamRequestList = []dhcpv4.OptionCode{
	dhcpv4.OptionSubnetMask,
	dhcpv4.OptionRouter,
	dhcpv4.OptionDomainNameServer,
	dhcpv4.OptionDomainName,
	dhcpv4.OptionBroadcastAddress,
	dhcpv4.OptionIPLeaseTime,
	dhcpv4.OptionRenewalTime,
	dhcpv4.OptionRebindingTime,
	dhcpv4.OptionClasslessStaticRoute,
}

// MessageParams carries the identity fields stamped on every outgoing
// client message.
type MessageParams struct {
	HWAddr   net.HardwareAddr
	Hostname string               // option 12, omitted when empty
	ClientID []byte               // option 61, omitted when empty
	ParamReq []dhcpv4.OptionCode  // option 55, defaults when empty
}

// newClientPacket builds the BOOTREQUEST shell shared by all client
// messages.
func newClientPacket(xid uint32, params MessageParams, broadcast bool) *Packet {
	p := &Packet{
		Op:      dhcpv4.OpCodeBootRequest,
		HType:   dhcpv4.HardwareTypeEthernet,
		HLen:    byte(len(params.HWAddr)),
		XID:     xid,
		CIAddr:  net.IPv4zero,
		YIAddr:  net.IPv4zero,
		SIAddr:  net.IPv4zero,
		GIAddr:  net.IPv4zero,
		CHAddr:  params.HWAddr,
		Options: make(Options),
	}
	if broadcast {
		p.Flags = dhcpv4.FlagBroadcast
	}

	prl := params.ParamReq
	if len(prl) == 0 {
		prl = defaultParamRequestList
	}
	codes := make([]byte, len(prl))
	for i, c := range prl {
		codes[i] = byte(c)
	}
	p.Options.Set(dhcpv4.OptionParameterRequestList, codes)
	p.Options.SetUint16(dhcpv4.OptionMaxDHCPMessageSize, dhcpv4.MaxPacketSize)

	if len(params.ClientID) > 0 {
		p.Options.Set(dhcpv4.OptionClientIdentifier, params.ClientID)
	}
	if params.Hostname != "" {
		p.Options.SetString(dhcpv4.OptionHostname, params.Hostname)
	}
	return p
}

// NewDiscover builds a broadcast DHCPDISCOVER. requested, when non-nil, is
// offered to the server as option 50 (the previously held address).
func NewDiscover(xid uint32, params MessageParams, requested net.IP) *Packet {
	p := newClientPacket(xid, params, true)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeDiscover)})
	if requested != nil {
		p.Options.SetIP(dhcpv4.OptionRequestedIP, requested)
	}
	return p
}

// NewRequestSelecting builds the broadcast DHCPREQUEST that accepts an
// offer. Per RFC 2131 §4.3.6 the SELECTING request carries option 50
// (the offered address) and option 54 (the offering server) with a zero
// ciaddr.
func NewRequestSelecting(xid uint32, params MessageParams, offered, serverID net.IP) *Packet {
	p := newClientPacket(xid, params, true)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeRequest)})
	p.Options.SetIP(dhcpv4.OptionRequestedIP, offered)
	p.Options.SetIP(dhcpv4.OptionServerIdentifier, serverID)
	return p
}

// NewRequestRenewing builds the unicast DHCPREQUEST that extends the
// current lease. Per RFC 2131 §4.3.6 the RENEWING request carries the
// held address in ciaddr and must include neither option 50 nor 54.
func NewRequestRenewing(xid uint32, params MessageParams, current net.IP) *Packet {
	p := newClientPacket(xid, params, false)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeRequest)})
	p.CIAddr = current
	return p
}

// NewRelease builds the unicast DHCPRELEASE returning the held address.
// ciaddr carries the address; option 54 names the server; option 50 is
// not sent.
func NewRelease(xid uint32, params MessageParams, current, serverID net.IP) *Packet {
	p := newClientPacket(xid, params, false)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeRelease)})
	p.CIAddr = current
	p.Options.SetIP(dhcpv4.OptionServerIdentifier, serverID)
	// The release is terminal; nothing is requested back.
	p.Options.Delete(dhcpv4.OptionParameterRequestList)
	p.Options.Delete(dhcpv4.OptionMaxDHCPMessageSize)
	return p
}

// NewDecline builds the broadcast DHCPDECLINE rejecting an address the
// client found in use. Option 50 carries the declined address, option 54
// the server, and ciaddr stays zero.
func NewDecline(xid uint32, params MessageParams, declined, serverID net.IP, reason string) *Packet {
	p := newClientPacket(xid, params, true)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, []byte{byte(dhcpv4.MessageTypeDecline)})
	p.Options.SetIP(dhcpv4.OptionRequestedIP, declined)
	p.Options.SetIP(dhcpv4.OptionServerIdentifier, serverID)
	if reason != "" {
		p.Options.SetString(dhcpv4.OptionMessage, reason)
	}
	p.Options.Delete(dhcpv4.OptionParameterRequestList)
	p.Options.Delete(dhcpv4.OptionMaxDHCPMessageSize)
	return p
}
