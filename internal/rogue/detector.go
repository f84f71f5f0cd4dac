// Package rogue tracks DHCP servers that answer on the network without
// being the one we lease from. Sightings come from two directions: the
// client's receive tap feeds every server reply through Observe, and an
// optional active probe broadcasts DISCOVERs under a throwaway identity
// to draw out servers that stay quiet between our own renewals.
package rogue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/athena-provd/athena-provd/internal/dhcp"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

var bucketRogue = []byte("rogue_servers")

// Sighting sources.
const (
	SourcePassive = "passive"
	SourceProbe   = "probe"
)

// Sighting is a tracked unexpected DHCP server.
type Sighting struct {
	ServerIP     string    `json:"server_ip"`
	ServerMAC    string    `json:"server_mac,omitempty"`
	OfferedIP    string    `json:"offered_ip,omitempty"`
	Interface    string    `json:"interface,omitempty"`
	Source       string    `json:"source"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	Count        int       `json:"count"`
	Acknowledged bool      `json:"acknowledged"`
}

// Detector records unexpected DHCP server sightings.
type Detector struct {
	db     *bolt.DB
	bus    *events.Bus
	logger *slog.Logger
	iface  string

	mu        sync.RWMutex
	trusted   map[string]bool      // server IPs we lease from or were told to trust
	sightings map[string]*Sighting // server IP -> sighting
	probeXID  uint32               // xid of the in-flight probe round, 0 when idle

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDetector creates a detector persisting sightings in db. trusted
// seeds the set of expected servers; the server a lease lands from is
// added at runtime via Trust.
func NewDetector(db *bolt.DB, bus *events.Bus, iface string, trusted []net.IP, logger *slog.Logger) (*Detector, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRogue)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating rogue bucket: %w", err)
	}

	d := &Detector{
		db:        db,
		bus:       bus,
		logger:    logger,
		iface:     iface,
		trusted:   make(map[string]bool, len(trusted)),
		sightings: make(map[string]*Sighting),
		done:      make(chan struct{}),
	}
	for _, ip := range trusted {
		if ip != nil {
			d.trusted[ip.String()] = true
		}
	}

	if err := d.loadAll(); err != nil {
		return nil, fmt.Errorf("loading rogue sightings: %w", err)
	}
	metrics.RogueServersActive.Set(float64(len(d.sightings)))

	return d, nil
}

// Observe inspects one server reply seen by the client. OFFERs and ACKs
// from servers that are neither trusted nor the probe target are
// recorded as sightings. Runs on the client event loop; must stay cheap.
func (d *Detector) Observe(pkt *dhcp.Packet) {
	switch pkt.MessageType() {
	case dhcpv4.MessageTypeOffer, dhcpv4.MessageTypeAck:
	default:
		return
	}

	// ServerIdentifier falls back to siaddr for replies missing option 54.
	server := pkt.ServerIdentifier()
	if server == nil || server.Equal(net.IPv4zero) {
		return
	}

	d.mu.RLock()
	isTrusted := d.trusted[server.String()]
	fromProbe := d.probeXID != 0 && pkt.XID == d.probeXID
	d.mu.RUnlock()
	if isTrusted {
		return
	}

	source := SourcePassive
	if fromProbe {
		source = SourceProbe
	}
	d.record(server, pkt.YIAddr, source)
}

// Trust marks a server IP as expected. Called when a lease is taken so
// the server answering our own exchanges stops counting as rogue.
func (d *Detector) Trust(ip net.IP) {
	if ip == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trusted[ip.String()] = true
}

// record updates or creates the sighting for server and raises the alert.
func (d *Detector) record(server, offered net.IP, source string) {
	metrics.RogueSightings.Inc()

	sip := server.String()
	now := time.Now()

	d.mu.Lock()
	s, known := d.sightings[sip]
	if known {
		s.Count++
		s.LastSeen = now
		s.Source = source
		if offered != nil && !offered.Equal(net.IPv4zero) {
			s.OfferedIP = offered.String()
		}
	} else {
		s = &Sighting{
			ServerIP:  sip,
			Interface: d.iface,
			Source:    source,
			FirstSeen: now,
			LastSeen:  now,
			Count:     1,
		}
		if offered != nil && !offered.Equal(net.IPv4zero) {
			s.OfferedIP = offered.String()
		}
		if mac := lookupARPCache(server); mac != nil {
			s.ServerMAC = mac.String()
		}
		d.sightings[sip] = s
		metrics.RogueServersActive.Set(float64(len(d.sightings)))
	}
	snapshot := *s
	d.persist(s)
	d.mu.Unlock()

	if known {
		d.logger.Warn("unexpected DHCP server active",
			"server_ip", sip,
			"offered_ip", snapshot.OfferedIP,
			"source", source,
			"count", snapshot.Count)
	} else {
		d.logger.Error("NEW unexpected DHCP server detected",
			"server_ip", sip,
			"server_mac", snapshot.ServerMAC,
			"offered_ip", snapshot.OfferedIP,
			"source", source,
			"interface", d.iface)
	}

	d.bus.Publish(events.Event{
		Type: events.EventRogueDetected,
		Rogue: &events.RogueData{
			Interface: d.iface,
			ServerIP:  snapshot.ServerIP,
			ServerMAC: snapshot.ServerMAC,
			OfferedIP: snapshot.OfferedIP,
			Count:     snapshot.Count,
		},
	})
}

// Acknowledge marks a sighting as reviewed. It keeps accumulating counts
// but the API surfaces it as handled.
func (d *Detector) Acknowledge(serverIP string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sightings[serverIP]
	if !ok {
		return fmt.Errorf("rogue server %s not found", serverIP)
	}
	s.Acknowledged = true
	d.persist(s)
	return nil
}

// Remove drops a sighting, e.g. once the server has been taken off the
// network.
func (d *Detector) Remove(serverIP string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sightings[serverIP]; !ok {
		return fmt.Errorf("rogue server %s not found", serverIP)
	}
	delete(d.sightings, serverIP)
	metrics.RogueServersActive.Set(float64(len(d.sightings)))

	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRogue).Delete([]byte(serverIP))
	})
	if err != nil {
		return fmt.Errorf("deleting rogue sighting %s: %w", serverIP, err)
	}

	d.logger.Info("rogue sighting removed", "server_ip", serverIP)
	return nil
}

// All returns every sighting ordered by server IP.
func (d *Detector) All() []Sighting {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]Sighting, 0, len(d.sightings))
	for _, s := range d.sightings {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ServerIP < result[j].ServerIP
	})
	return result
}

// Count returns the number of tracked servers.
func (d *Detector) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sightings)
}

// ActiveCount returns the number of unacknowledged sightings.
func (d *Detector) ActiveCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, s := range d.sightings {
		if !s.Acknowledged {
			count++
		}
	}
	return count
}

// Stop ends the probe loop and waits for it.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// persist writes a sighting. Callers hold d.mu.
func (d *Detector) persist(s *Sighting) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRogue).Put([]byte(s.ServerIP), data)
	}); err != nil {
		d.logger.Warn("persisting rogue sighting failed",
			"server_ip", s.ServerIP, "error", err)
	}
}

func (d *Detector) loadAll() error {
	return d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRogue).ForEach(func(k, v []byte) error {
			var s Sighting
			if err := json.Unmarshal(v, &s); err == nil {
				d.sightings[s.ServerIP] = &s
			}
			return nil
		})
	})
}
