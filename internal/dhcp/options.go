package dhcp

import (
	"fmt"
	"net"

	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// Options is a map of DHCP option code to raw option data.
type Options map[dhcpv4.OptionCode][]byte

// DecodeOptions parses the options section of a DHCP packet.
// RFC 2132 — options are TLV (type-length-value) encoded.
func DecodeOptions(data []byte) (Options, error) {
	opts := make(Options)
	i := 0
	for i < len(data) {
		code := dhcpv4.OptionCode(data[i])
		i++

		// Pad option (RFC 2132 §3.1)
		if code == dhcpv4.OptionPad {
			continue
		}

		// End option (RFC 2132 §3.2)
		if code == dhcpv4.OptionEnd {
			break
		}

		// TLV: need at least 1 byte for length
		if i >= len(data) {
			return nil, fmt.Errorf("truncated option %d: no length byte", code)
		}

		length := int(data[i])
		i++

		if i+length > len(data) {
			return nil, fmt.Errorf("truncated option %d: need %d bytes, have %d", code, length, len(data)-i)
		}

		value := make([]byte, length)
		copy(value, data[i:i+length])
		opts[code] = value
		i += length
	}

	return opts, nil
}

// Encode serializes options to bytes with end marker.
func (opts Options) Encode() []byte {
	size := 0
	for _, v := range opts {
		size += 2 + len(v) // code + length + value
	}
	size++ // End option

	buf := make([]byte, 0, size)
	for code, value := range opts {
		if code == dhcpv4.OptionPad || code == dhcpv4.OptionEnd {
			continue
		}
		buf = append(buf, byte(code))
		buf = append(buf, byte(len(value)))
		buf = append(buf, value...)
	}

	// End option
	buf = append(buf, byte(dhcpv4.OptionEnd))
	return buf
}

// Get returns the raw value for an option code.
func (opts Options) Get(code dhcpv4.OptionCode) ([]byte, bool) {
	v, ok := opts[code]
	return v, ok
}

// GetIP returns a 4-byte option as an IP address, or nil.
func (opts Options) GetIP(code dhcpv4.OptionCode) net.IP {
	if v, ok := opts[code]; ok && len(v) == 4 {
		return dhcpv4.BytesToIP(v)
	}
	return nil
}

// GetIPList returns an N*4-byte option as a list of IP addresses, or nil.
func (opts Options) GetIPList(code dhcpv4.OptionCode) []net.IP {
	v, ok := opts[code]
	if !ok {
		return nil
	}
	ips, err := dhcpv4.BytesToIPList(v)
	if err != nil {
		return nil
	}
	return ips
}

// GetUint32 returns a 4-byte option as a uint32.
func (opts Options) GetUint32(code dhcpv4.OptionCode) (uint32, bool) {
	v, ok := opts[code]
	if !ok || len(v) != 4 {
		return 0, false
	}
	u, err := dhcpv4.BytesToUint32(v)
	if err != nil {
		return 0, false
	}
	return u, true
}

// GetString returns an option value as a string.
func (opts Options) GetString(code dhcpv4.OptionCode) string {
	if v, ok := opts[code]; ok {
		return string(v)
	}
	return ""
}

// Set sets an option to a raw value.
func (opts Options) Set(code dhcpv4.OptionCode, value []byte) {
	opts[code] = value
}

// SetIP sets a 4-byte IP address option.
func (opts Options) SetIP(code dhcpv4.OptionCode, ip net.IP) {
	opts[code] = dhcpv4.IPToBytes(ip)
}

// SetUint32 sets a uint32 option.
func (opts Options) SetUint32(code dhcpv4.OptionCode, v uint32) {
	opts[code] = dhcpv4.Uint32ToBytes(v)
}

// SetUint16 sets a uint16 option.
func (opts Options) SetUint16(code dhcpv4.OptionCode, v uint16) {
	opts[code] = dhcpv4.Uint16ToBytes(v)
}

// SetString sets a string option.
func (opts Options) SetString(code dhcpv4.OptionCode, s string) {
	opts[code] = []byte(s)
}

// Has returns true if the option is present.
func (opts Options) Has(code dhcpv4.OptionCode) bool {
	_, ok := opts[code]
	return ok
}

// Delete removes an option.
func (opts Options) Delete(code dhcpv4.OptionCode) {
	delete(opts, code)
}

// Clone returns a deep copy of the options.
func (opts Options) Clone() Options {
	clone := make(Options, len(opts))
	for k, v := range opts {
		vc := make([]byte, len(v))
		copy(vc, v)
		clone[k] = vc
	}
	return clone
}
