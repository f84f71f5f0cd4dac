// Package lease holds the client's view of an acquired DHCP lease and its
// persistent store.
package lease

import (
	"encoding/json"
	"net"
	"time"

	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// Lease is the address assignment the client currently holds on an
// interface, together with the configuration the server attached to it.
type Lease struct {
	Interface   string             `json:"interface"`
	Addr        net.IP             `json:"addr"`
	PrefixLen   int                `json:"prefix_len"`
	Server      net.IP             `json:"server"`
	MAC         net.HardwareAddr   `json:"mac"`
	Hostname    string             `json:"hostname,omitempty"`
	SubnetMask  net.IP             `json:"subnet_mask,omitempty"`
	Routers     []net.IP           `json:"routers,omitempty"`
	DNSServers  []net.IP           `json:"dns_servers,omitempty"`
	DomainName  string             `json:"domain_name,omitempty"`
	Routes      []dhcpv4.CIDRRoute `json:"routes,omitempty"`
	State       dhcpv4.LeaseState  `json:"state"`
	Start       time.Time          `json:"start"`
	Expiry      time.Time          `json:"expiry"`
	LastUpdated time.Time          `json:"last_updated"`
	Renewals    uint64             `json:"renewals"`
}

// IsExpired returns true if the lease has expired.
func (l *Lease) IsExpired() bool {
	return time.Now().After(l.Expiry)
}

// Remaining returns the time remaining on the lease.
func (l *Lease) Remaining() time.Duration {
	r := time.Until(l.Expiry)
	if r < 0 {
		return 0
	}
	return r
}

// Duration returns the total lease duration.
func (l *Lease) Duration() time.Duration {
	return l.Expiry.Sub(l.Start)
}

// MarshalJSON implements custom JSON marshalling.
func (l *Lease) MarshalJSON() ([]byte, error) {
	type Alias Lease
	return json.Marshal(&struct {
		Addr string `json:"addr"`
		MAC  string `json:"mac"`
		*Alias
	}{
		Addr:  l.Addr.String(),
		MAC:   l.MAC.String(),
		Alias: (*Alias)(l),
	})
}

// UnmarshalJSON implements custom JSON unmarshalling.
func (l *Lease) UnmarshalJSON(data []byte) error {
	type Alias Lease
	aux := &struct {
		Addr string `json:"addr"`
		MAC  string `json:"mac"`
		*Alias
	}{
		Alias: (*Alias)(l),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	l.Addr = net.ParseIP(aux.Addr)
	var err error
	l.MAC, err = net.ParseMAC(aux.MAC)
	if err != nil {
		return err
	}
	return nil
}

// Key returns the BoltDB key for this lease (interface name).
func (l *Lease) Key() string {
	return l.Interface
}

// Clone returns a deep copy of the lease.
func (l *Lease) Clone() *Lease {
	c := *l
	c.Addr = cloneIP(l.Addr)
	c.Server = cloneIP(l.Server)
	c.SubnetMask = cloneIP(l.SubnetMask)
	c.MAC = make(net.HardwareAddr, len(l.MAC))
	copy(c.MAC, l.MAC)
	if l.Routers != nil {
		c.Routers = make([]net.IP, len(l.Routers))
		for i, ip := range l.Routers {
			c.Routers[i] = cloneIP(ip)
		}
	}
	if l.DNSServers != nil {
		c.DNSServers = make([]net.IP, len(l.DNSServers))
		for i, ip := range l.DNSServers {
			c.DNSServers[i] = cloneIP(ip)
		}
	}
	if l.Routes != nil {
		c.Routes = make([]dhcpv4.CIDRRoute, len(l.Routes))
		copy(c.Routes, l.Routes)
	}
	return &c
}

func cloneIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
