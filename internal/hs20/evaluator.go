// Package hs20 evaluates Hotspot 2.0 candidate networks against the
// device's home credentials using cached ANQP data.
package hs20

import (
	"fmt"
	"log/slog"

	"github.com/athena-provd/athena-provd/internal/anqp"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

// Prober triggers an authentication-server reachability probe after a
// realm match. Probes run asynchronously; the evaluator never waits.
type Prober interface {
	ProbeRealm(realm string)
}

// Result is the outcome of evaluating a network against home credentials.
type Result struct {
	Network   anqp.Network
	Rank      anqp.MatchRank
	Realm     string   // best-matching home realm
	Realms    []string // realms the network advertises
	Qualified bool
}

// Evaluator owns the ANQP cache and ranks candidate networks against the
// configured home realms and reference EAP method.
type Evaluator struct {
	cache  *anqp.Cache
	bus    *events.Bus
	logger *slog.Logger
	realms []string
	ref    anqp.EAPMethod
	prober Prober
}

// NewEvaluator creates an evaluator over the given cache. realms are the
// home NAI realms to rank against; ref is the credential's EAP method.
func NewEvaluator(cache *anqp.Cache, bus *events.Bus, realms []string, ref anqp.EAPMethod, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cache:  cache,
		bus:    bus,
		logger: logger,
		realms: realms,
		ref:    ref,
	}
}

// SetProber registers the reachability prober invoked on realm matches.
func (e *Evaluator) SetProber(p Prober) {
	e.prober = p
}

// Query reports whether an ANQP query should be sent for the network now,
// installing a placeholder that suppresses duplicates while one is in
// flight.
func (e *Evaluator) Query(network anqp.Network) bool {
	ok := e.cache.Initiate(network)
	e.logger.Debug("anqp query gate",
		"ssid", network.SSID,
		"bssid", network.BSSID,
		"domain_id", network.DomainID,
		"send", ok)
	return ok
}

// HandleResponse ingests a raw ANQP response for the network: parses every
// element, stores the set in the cache, ranks it against the home realms,
// and publishes the outcome. A malformed element fails the whole response
// and leaves the cache untouched.
func (e *Evaluator) HandleResponse(network anqp.Network, raw map[anqp.ElementType][]byte) error {
	elements := make(map[anqp.ElementType]anqp.Element, len(raw))
	for id, payload := range raw {
		elem, err := anqp.ParseElement(id, payload)
		if err != nil {
			metrics.ANQPParseErrors.Inc()
			return fmt.Errorf("parsing element %s: %w", id, err)
		}
		elements[id] = elem
	}

	stored := e.cache.Update(network, elements)
	if !stored {
		e.logger.Debug("anqp response ignored, cached data still fresh",
			"ssid", network.SSID, "bssid", network.BSSID)
		return nil
	}

	rank, realm := e.rank(elements)
	advertised := advertisedRealms(elements)
	qualified := rank >= anqp.MatchRealm

	e.logger.Info("anqp response cached",
		"ssid", network.SSID,
		"bssid", network.BSSID,
		"domain_id", network.DomainID,
		"realms", advertised,
		"rank", rank.String())

	e.publish(network, advertised, qualified)

	if qualified && e.prober != nil {
		e.prober.ProbeRealm(realm)
	}
	return nil
}

// Evaluate ranks the network using cached data only. The second return is
// false on a cache miss.
func (e *Evaluator) Evaluate(network anqp.Network) (Result, bool) {
	entry, ok := e.cache.Entry(network)
	if !ok {
		return Result{}, false
	}

	rank, realm := e.rank(entry.Elements)
	return Result{
		Network:   network,
		Rank:      rank,
		Realm:     realm,
		Realms:    advertisedRealms(entry.Elements),
		Qualified: rank >= anqp.MatchRealm,
	}, true
}

// rank returns the best match rank across the home realms and which realm
// produced it.
func (e *Evaluator) rank(elements map[anqp.ElementType]anqp.Element) (anqp.MatchRank, string) {
	realmElem, ok := elements[anqp.ElementNAIRealm].(*anqp.NAIRealmElement)
	if !ok {
		return anqp.MatchNone, ""
	}

	best := anqp.MatchNone
	bestRealm := ""
	for _, realm := range e.realms {
		if r := realmElem.Match(realm, e.ref); r > best {
			best = r
			bestRealm = realm
			if best == anqp.MatchExact {
				break
			}
		}
	}
	return best, bestRealm
}

func (e *Evaluator) publish(network anqp.Network, realms []string, qualified bool) {
	if e.bus == nil {
		return
	}
	data := &events.ANQPData{
		SSID:      network.SSID,
		BSSID:     network.BSSID,
		Realms:    realms,
		Qualified: qualified,
	}
	if network.HESSID != 0 {
		data.HESSID = fmt.Sprintf("%012x", network.HESSID)
	}
	e.bus.Publish(events.Event{Type: events.EventANQPUpdated, ANQP: data})
}

// advertisedRealms flattens the realm lists of all records, preserving
// order and dropping duplicates.
func advertisedRealms(elements map[anqp.ElementType]anqp.Element) []string {
	realmElem, ok := elements[anqp.ElementNAIRealm].(*anqp.NAIRealmElement)
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var realms []string
	for _, rec := range realmElem.Records {
		for _, r := range rec.Realms {
			if !seen[r] {
				seen[r] = true
				realms = append(realms, r)
			}
		}
	}
	return realms
}
