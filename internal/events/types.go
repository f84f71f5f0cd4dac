// Package events provides the event bus and hook dispatcher for athena-provd.
package events

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// EventType represents a client lifecycle or system event.
type EventType string

const (
	EventStateChange      EventType = "state.change"
	EventLeaseAcquired    EventType = "lease.acquired"
	EventLeaseRenewed     EventType = "lease.renewed"
	EventLeaseReleased    EventType = "lease.released"
	EventLeaseDeclined    EventType = "lease.declined"
	EventLeaseExpired     EventType = "lease.expired"
	EventLeaseFailed      EventType = "lease.failed"
	EventConflictDetected EventType = "conflict.detected"
	EventRogueDetected    EventType = "rogue.detected"
	EventANQPUpdated      EventType = "anqp.updated"
	EventAAAProbe         EventType = "aaa.probe"
	EventNetDegraded      EventType = "net.degraded"
	EventNetRecovered     EventType = "net.recovered"
)

// Event is the core event payload passed through the event bus.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Lease     *LeaseData    `json:"lease,omitempty"`
	State     *StateData    `json:"state,omitempty"`
	Conflict  *ConflictData `json:"conflict,omitempty"`
	Rogue     *RogueData    `json:"rogue,omitempty"`
	ANQP      *ANQPData     `json:"anqp,omitempty"`
	Probe     *ProbeData    `json:"probe,omitempty"`
	Net       *NetData      `json:"net,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// LeaseData carries lease information in events.
type LeaseData struct {
	Interface  string           `json:"interface"`
	IP         net.IP           `json:"ip,omitempty"`
	PrefixLen  int              `json:"prefix_len,omitempty"`
	Server     net.IP           `json:"server,omitempty"`
	MAC        net.HardwareAddr `json:"mac,omitempty"`
	Hostname   string           `json:"hostname,omitempty"`
	DNSServers []net.IP         `json:"dns_servers,omitempty"`
	Domain     string           `json:"domain,omitempty"`
	Start      int64            `json:"start,omitempty"`
	Expiry     int64            `json:"expiry,omitempty"`
	State      string           `json:"state,omitempty"`
}

// MarshalJSON renders addresses as strings rather than byte arrays.
func (l *LeaseData) MarshalJSON() ([]byte, error) {
	type Alias LeaseData
	dns := make([]string, 0, len(l.DNSServers))
	for _, ip := range l.DNSServers {
		dns = append(dns, ip.String())
	}
	aux := &struct {
		IP         string   `json:"ip,omitempty"`
		Server     string   `json:"server,omitempty"`
		MAC        string   `json:"mac,omitempty"`
		DNSServers []string `json:"dns_servers,omitempty"`
		*Alias
	}{
		DNSServers: dns,
		Alias:      (*Alias)(l),
	}
	if l.IP != nil {
		aux.IP = l.IP.String()
	}
	if l.Server != nil {
		aux.Server = l.Server.String()
	}
	if l.MAC != nil {
		aux.MAC = l.MAC.String()
	}
	return json.Marshal(aux)
}

// StateData carries a state machine transition in events.
type StateData struct {
	Interface string `json:"interface"`
	Old       string `json:"old"`
	New       string `json:"new"`
}

// ConflictData carries duplicate-address detection information in events.
type ConflictData struct {
	Interface       string `json:"interface"`
	IP              string `json:"ip"`
	DetectionMethod string `json:"detection_method"`
	ResponderMAC    string `json:"responder_mac,omitempty"`
	ProbeCount      int    `json:"probe_count"`
}

// RogueData carries unexpected DHCP server sighting information.
type RogueData struct {
	Interface string `json:"interface,omitempty"`
	ServerIP  string `json:"server_ip"`
	ServerMAC string `json:"server_mac,omitempty"`
	OfferedIP string `json:"offered_ip,omitempty"`
	Count     int    `json:"count"`
}

// ANQPData carries Hotspot 2.0 network evaluation results in events.
type ANQPData struct {
	SSID      string   `json:"ssid,omitempty"`
	BSSID     string   `json:"bssid,omitempty"`
	HESSID    string   `json:"hessid,omitempty"`
	Realms    []string `json:"realms,omitempty"`
	Qualified bool     `json:"qualified"`
}

// ProbeData carries a AAA reachability probe result in events.
type ProbeData struct {
	Server    string `json:"server"`
	Realm     string `json:"realm,omitempty"`
	Result    string `json:"result"`
	RTTMillis int64  `json:"rtt_ms"`
}

// NetData carries resolver health information in events.
type NetData struct {
	Interface string `json:"interface,omitempty"`
	Resolver  string `json:"resolver"`
	Healthy   bool   `json:"healthy"`
	RTTMillis int64  `json:"rtt_ms,omitempty"`
}

// ToEnvVars converts an event to environment variables for script hooks.
func (e *Event) ToEnvVars() map[string]string {
	env := map[string]string{
		"ATHENA_EVENT":    string(e.Type),
		"ATHENA_EVENT_ID": e.ID,
	}
	if e.Reason != "" {
		env["ATHENA_REASON"] = e.Reason
	}

	if e.Lease != nil {
		l := e.Lease
		env["ATHENA_INTERFACE"] = l.Interface
		if l.IP != nil {
			env["ATHENA_IP"] = l.IP.String()
		}
		if l.PrefixLen != 0 {
			env["ATHENA_PREFIX_LEN"] = fmt.Sprintf("%d", l.PrefixLen)
		}
		if l.Server != nil {
			env["ATHENA_SERVER"] = l.Server.String()
		}
		if l.MAC != nil {
			env["ATHENA_MAC"] = l.MAC.String()
		}
		if l.Hostname != "" {
			env["ATHENA_HOSTNAME"] = l.Hostname
		}
		if l.Start != 0 {
			env["ATHENA_LEASE_START"] = fmt.Sprintf("%d", l.Start)
		}
		if l.Expiry != 0 {
			env["ATHENA_LEASE_EXPIRY"] = fmt.Sprintf("%d", l.Expiry)
		}
		if l.Start != 0 && l.Expiry != 0 {
			env["ATHENA_LEASE_DURATION"] = fmt.Sprintf("%d", l.Expiry-l.Start)
		}
		if len(l.DNSServers) > 0 {
			servers := make([]string, 0, len(l.DNSServers))
			for _, ip := range l.DNSServers {
				servers = append(servers, ip.String())
			}
			env["ATHENA_DNS_SERVERS"] = strings.Join(servers, " ")
		}
		if l.Domain != "" {
			env["ATHENA_DOMAIN"] = l.Domain
		}
	}

	if e.State != nil {
		env["ATHENA_INTERFACE"] = e.State.Interface
		env["ATHENA_OLD_STATE"] = e.State.Old
		env["ATHENA_NEW_STATE"] = e.State.New
	}

	if e.Conflict != nil {
		c := e.Conflict
		env["ATHENA_INTERFACE"] = c.Interface
		env["ATHENA_IP"] = c.IP
		env["ATHENA_CONFLICT_METHOD"] = c.DetectionMethod
		if c.ResponderMAC != "" {
			env["ATHENA_CONFLICT_RESPONDER_MAC"] = c.ResponderMAC
		}
	}

	if e.Rogue != nil {
		r := e.Rogue
		env["ATHENA_ROGUE_SERVER_IP"] = r.ServerIP
		if r.ServerMAC != "" {
			env["ATHENA_ROGUE_SERVER_MAC"] = r.ServerMAC
		}
		if r.OfferedIP != "" {
			env["ATHENA_ROGUE_OFFERED_IP"] = r.OfferedIP
		}
	}

	if e.ANQP != nil {
		a := e.ANQP
		if a.SSID != "" {
			env["ATHENA_ANQP_SSID"] = a.SSID
		}
		if a.Qualified {
			env["ATHENA_ANQP_QUALIFIED"] = "1"
		} else {
			env["ATHENA_ANQP_QUALIFIED"] = "0"
		}
	}

	if e.Probe != nil {
		env["ATHENA_AAA_SERVER"] = e.Probe.Server
		env["ATHENA_AAA_RESULT"] = e.Probe.Result
	}

	if e.Net != nil {
		env["ATHENA_RESOLVER"] = e.Net.Resolver
		if e.Net.Healthy {
			env["ATHENA_RESOLVER_HEALTHY"] = "1"
		} else {
			env["ATHENA_RESOLVER_HEALTHY"] = "0"
		}
	}

	return env
}
