package ddns

import (
	"fmt"
	"net"
)

// ReverseIPName converts an IPv4 address to its in-addr.arpa PTR name.
// e.g., 192.168.1.100 → 100.1.168.192.in-addr.arpa
func ReverseIPName(ip net.IP) string {
	ip4 := ip.To4()
	if ip4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", ip4[3], ip4[2], ip4[1], ip4[0])
}

// DNSUpdater is the interface for DNS update backends.
type DNSUpdater interface {
	AddA(zone, fqdn string, ip net.IP, ttl uint32) error
	RemoveA(zone, fqdn string) error
	AddPTR(zone, reverseIP, fqdn string, ttl uint32) error
	RemovePTR(zone, reverseIP string) error
}
