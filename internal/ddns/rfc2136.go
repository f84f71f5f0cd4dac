// Package ddns keeps the device's own DNS records in step with its lease
// using RFC 2136 dynamic updates.
package ddns

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// RFC2136Client performs DNS UPDATE operations (RFC 2136) with optional
// TSIG signing, always over TCP.
type RFC2136Client struct {
	server   string
	tsigName string
	tsigAlgo string
	tsigKey  string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRFC2136Client creates a new RFC 2136 DNS update client.
func NewRFC2136Client(server, tsigName, tsigAlgo, tsigKey string, timeout time.Duration, logger *slog.Logger) *RFC2136Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RFC2136Client{
		server:   server,
		tsigName: tsigName,
		tsigAlgo: tsigAlgo,
		tsigKey:  tsigKey,
		timeout:  timeout,
		logger:   logger,
	}
}

// AddA replaces the A record set for fqdn with a single record for ip.
func (c *RFC2136Client) AddA(zone, fqdn string, ip net.IP, ttl uint32) error {
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(fqdn), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip.To4(),
	}
	return c.upsert(zone, rr, "AddA", fqdn, ip.String())
}

// RemoveA removes the A record set for fqdn.
func (c *RFC2136Client) RemoveA(zone, fqdn string) error {
	return c.deleteRRset(zone, dns.Fqdn(fqdn), dns.TypeA, "RemoveA", fqdn)
}

// AddPTR replaces the PTR record set for the in-addr.arpa name with a
// single record pointing at fqdn.
func (c *RFC2136Client) AddPTR(zone, reverseIP, fqdn string, ttl uint32) error {
	rr := &dns.PTR{
		Hdr: dns.RR_Header{Name: reverseIP + ".", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: ttl},
		Ptr: dns.Fqdn(fqdn),
	}
	return c.upsert(zone, rr, "AddPTR", reverseIP, fqdn)
}

// RemovePTR removes the PTR record set for the in-addr.arpa name.
func (c *RFC2136Client) RemovePTR(zone, reverseIP string) error {
	return c.deleteRRset(zone, reverseIP+".", dns.TypePTR, "RemovePTR", reverseIP)
}

// upsert deletes the existing RRset for the record's name and type, then
// inserts the new record, in one atomic UPDATE.
func (c *RFC2136Client) upsert(zone string, rr dns.RR, op, name, value string) error {
	msg := new(dns.Msg)
	msg.SetUpdate(dns.Fqdn(zone))
	msg.RemoveRRset([]dns.RR{rr})
	msg.Insert([]dns.RR{rr})
	return c.send(msg, op, name, value)
}

func (c *RFC2136Client) deleteRRset(zone, name string, rrtype uint16, op, logName string) error {
	msg := new(dns.Msg)
	msg.SetUpdate(dns.Fqdn(zone))
	msg.RemoveRRset([]dns.RR{&dns.ANY{
		Hdr: dns.RR_Header{Name: name, Rrtype: rrtype, Class: dns.ClassANY},
	}})
	return c.send(msg, op, logName, "")
}

// send signs (when TSIG is configured) and transmits one UPDATE message,
// treating any rcode other than NOERROR as a failure.
func (c *RFC2136Client) send(msg *dns.Msg, op, name, value string) error {
	client := &dns.Client{
		Timeout: c.timeout,
		Net:     "tcp",
	}

	if c.tsigName != "" && c.tsigKey != "" {
		keyName := dns.Fqdn(c.tsigName)
		msg.SetTsig(keyName, c.tsigAlgorithm(), 300, time.Now().Unix())
		client.TsigSecret = map[string]string{keyName: c.tsigKey}
	}

	start := time.Now()
	resp, _, err := client.Exchange(msg, c.server)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("DNS UPDATE failed",
			"op", op,
			"name", name,
			"server", c.server,
			"error", err,
			"duration", duration.String())
		return fmt.Errorf("DNS UPDATE %s for %s: %w", op, name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		c.logger.Error("DNS UPDATE rejected",
			"op", op,
			"name", name,
			"server", c.server,
			"rcode", dns.RcodeToString[resp.Rcode],
			"duration", duration.String())
		return fmt.Errorf("DNS UPDATE %s for %s: server returned %s", op, name, dns.RcodeToString[resp.Rcode])
	}

	c.logger.Debug("DNS UPDATE success",
		"op", op,
		"name", name,
		"value", value,
		"server", c.server,
		"duration", duration.String())
	return nil
}

// tsigAlgorithm maps the configured algorithm name to its miekg/dns
// constant. Config accepts the name with or without the trailing dot.
func (c *RFC2136Client) tsigAlgorithm() string {
	switch strings.TrimSuffix(c.tsigAlgo, ".") {
	case "hmac-sha256", "":
		return dns.HmacSHA256
	case "hmac-sha512":
		return dns.HmacSHA512
	case "hmac-sha1":
		return dns.HmacSHA1
	case "hmac-md5":
		return dns.HmacMD5
	default:
		return dns.HmacSHA256
	}
}
