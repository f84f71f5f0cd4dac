package dhcpv4

import (
	"bytes"
	"net"
	"testing"
)

func TestIPUint32Conversion(t *testing.T) {
	tests := []struct {
		ip net.IP
		u  uint32
	}{
		{net.IPv4(0, 0, 0, 0), 0},
		{net.IPv4(255, 255, 255, 255), 0xFFFFFFFF},
		{net.IPv4(192, 168, 1, 1), 0xC0A80101},
		{net.IPv4(10, 0, 0, 1), 0x0A000001},
	}
	for _, tt := range tests {
		if got := IPToUint32(tt.ip); got != tt.u {
			t.Errorf("IPToUint32(%s) = 0x%08X, want 0x%08X", tt.ip, got, tt.u)
		}
		if got := Uint32ToIP(tt.u); !got.Equal(tt.ip) {
			t.Errorf("Uint32ToIP(0x%08X) = %s, want %s", tt.u, got, tt.ip)
		}
	}
}

func TestIPBytesConversion(t *testing.T) {
	if got := IPToBytes(net.IPv4(192, 168, 1, 1)); !bytes.Equal(got, []byte{192, 168, 1, 1}) {
		t.Errorf("IPToBytes = %v, want [192 168 1 1]", got)
	}
	if got := BytesToIP([]byte{10, 0, 0, 1}); !got.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("BytesToIP = %s, want 10.0.0.1", got)
	}
	if got := BytesToIP([]byte{1, 2}); got != nil {
		t.Errorf("BytesToIP(short) = %s, want nil", got)
	}
}

func TestIPListConversion(t *testing.T) {
	in := []net.IP{net.IPv4(8, 8, 8, 8), net.IPv4(8, 8, 4, 4)}
	wire := IPListToBytes(in)
	if !bytes.Equal(wire, []byte{8, 8, 8, 8, 8, 8, 4, 4}) {
		t.Fatalf("IPListToBytes = %v", wire)
	}

	out, err := BytesToIPList(wire)
	if err != nil {
		t.Fatalf("BytesToIPList error: %v", err)
	}
	if len(out) != 2 || !out[0].Equal(in[0]) || !out[1].Equal(in[1]) {
		t.Errorf("BytesToIPList = %v, want %v", out, in)
	}

	if _, err := BytesToIPList([]byte{1, 2, 3}); err == nil {
		t.Error("BytesToIPList accepted a non-multiple-of-4 payload")
	}
}

func TestIntegerConversion(t *testing.T) {
	if got := Uint32ToBytes(0x12345678); !bytes.Equal(got, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("Uint32ToBytes(0x12345678) = %v", got)
	}
	if got, err := BytesToUint32([]byte{0x12, 0x34, 0x56, 0x78}); err != nil || got != 0x12345678 {
		t.Errorf("BytesToUint32 = 0x%08X, %v; want 0x12345678, nil", got, err)
	}
	if _, err := BytesToUint32([]byte{1, 2}); err == nil {
		t.Error("BytesToUint32 accepted a short payload")
	}

	if got := Uint16ToBytes(0x1234); !bytes.Equal(got, []byte{0x12, 0x34}) {
		t.Errorf("Uint16ToBytes(0x1234) = %v", got)
	}
	if got, err := BytesToUint16([]byte{0x12, 0x34}); err != nil || got != 0x1234 {
		t.Errorf("BytesToUint16 = 0x%04X, %v; want 0x1234, nil", got, err)
	}
	if _, err := BytesToUint16([]byte{1}); err == nil {
		t.Error("BytesToUint16 accepted a short payload")
	}
}

func TestMaskToPrefixLen(t *testing.T) {
	tests := []struct {
		mask net.IP
		want int
	}{
		{net.IPv4(255, 255, 255, 0), 24},
		{net.IPv4(255, 255, 0, 0), 16},
		{net.IPv4(255, 255, 255, 255), 32},
		{net.IPv4(255, 255, 255, 192), 26},
		{net.IPv4(0, 0, 0, 0), 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := MaskToPrefixLen(tt.mask); got != tt.want {
			t.Errorf("MaskToPrefixLen(%s) = %d, want %d", tt.mask, got, tt.want)
		}
	}
}

// RFC 3442: a route's destination is encoded in ceil(prefix/8) bytes, so
// a /24 costs 8 bytes total and the default route only 5.
func TestCIDRRouteEncodedWidth(t *testing.T) {
	tests := []struct {
		route CIDRRoute
		want  int
	}{
		{CIDRRoute{Destination: net.IPv4(10, 0, 1, 0), PrefixLen: 24, Gateway: net.IPv4(192, 168, 1, 1)}, 8},
		{CIDRRoute{Destination: net.IPv4(10, 0, 0, 0), PrefixLen: 8, Gateway: net.IPv4(192, 168, 1, 1)}, 6},
		{CIDRRoute{Destination: net.IPv4(0, 0, 0, 0), PrefixLen: 0, Gateway: net.IPv4(192, 168, 1, 1)}, 5},
	}
	for _, tt := range tests {
		b := CIDRRoutesToBytes([]CIDRRoute{tt.route})
		if len(b) != tt.want {
			t.Errorf("/%d route encoded to %d bytes, want %d", tt.route.PrefixLen, len(b), tt.want)
		}
		if int(b[0]) != tt.route.PrefixLen {
			t.Errorf("prefix byte = %d, want %d", b[0], tt.route.PrefixLen)
		}
	}
}

func TestCIDRRoutesRoundTrip(t *testing.T) {
	in := []CIDRRoute{
		{Destination: net.IPv4(10, 0, 1, 0), PrefixLen: 24, Gateway: net.IPv4(192, 168, 1, 1)},
		{Destination: net.IPv4(0, 0, 0, 0), PrefixLen: 0, Gateway: net.IPv4(192, 168, 1, 254)},
	}
	out, err := BytesToCIDRRoutes(CIDRRoutesToBytes(in))
	if err != nil {
		t.Fatalf("BytesToCIDRRoutes error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d routes, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].PrefixLen != in[i].PrefixLen {
			t.Errorf("route[%d].PrefixLen = %d, want %d", i, out[i].PrefixLen, in[i].PrefixLen)
		}
		if !out[i].Gateway.Equal(in[i].Gateway) {
			t.Errorf("route[%d].Gateway = %s, want %s", i, out[i].Gateway, in[i].Gateway)
		}
	}
}

func TestBytesToCIDRRoutesMalformed(t *testing.T) {
	if _, err := BytesToCIDRRoutes([]byte{24, 10, 0}); err == nil {
		t.Error("truncated route data parsed without error")
	}
	routes, err := BytesToCIDRRoutes(nil)
	if err != nil {
		t.Fatalf("empty payload: %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("empty payload decoded to %d routes", len(routes))
	}
}
