// Package aaa probes RADIUS authentication servers for reachability.
// After the Hotspot 2.0 evaluator matches a home realm the prober sends a
// throwaway Access-Request and records whether anything RADIUS-shaped
// answers. An Access-Reject still proves the AAA path is alive; only
// silence or a transport error counts against the server.
package aaa

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"log/slog"
	"sync"
	"time"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"

	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

// Probe result classifications.
const (
	ResultAccept    = "accept"
	ResultReject    = "reject"
	ResultChallenge = "challenge"
	ResultError     = "error"
)

// probeCooldown suppresses repeat probes for a realm that was checked
// recently; ANQP responses for the same network can arrive in bursts.
const probeCooldown = time.Minute

const nasIdentifier = "athena-provd"

// Result holds the outcome of a single reachability probe. Code is the
// raw RADIUS response code, Result the normalized classification.
type Result struct {
	Server    string    `json:"server"`
	Realm     string    `json:"realm,omitempty"`
	Reachable bool      `json:"reachable"`
	Code      string    `json:"code"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
	Latency   float64   `json:"latency_ms"`
	Time      time.Time `json:"time"`
}

// Prober sends RADIUS Access-Requests to verify the AAA server answers.
type Prober struct {
	server   string
	secret   string
	identity string
	timeout  time.Duration
	bus      *events.Bus
	logger   *slog.Logger

	// exchange is swapped out in tests.
	exchange func(ctx context.Context, packet *radius.Packet, addr string) (*radius.Packet, error)

	mu       sync.Mutex
	attempts map[string]time.Time // realm -> last probe launch
	results  map[string]Result    // realm -> last completed result

	wg sync.WaitGroup
}

// NewProber builds a prober from cfg. It returns nil when the probe is
// disabled or no server is configured; callers must not register a nil
// prober with the evaluator.
func NewProber(cfg config.AAAConfig, bus *events.Bus, logger *slog.Logger) *Prober {
	if !cfg.Enabled || cfg.Server == "" {
		return nil
	}
	identity := cfg.Identity
	if identity == "" {
		identity = config.DefaultAAAIdentity
	}
	return &Prober{
		server:   cfg.Server,
		secret:   cfg.Secret,
		identity: identity,
		timeout:  config.DurationOr(cfg.Timeout, config.DefaultAAATimeout),
		bus:      bus,
		logger:   logger,
		exchange: radius.Exchange,
		attempts: make(map[string]time.Time),
		results:  make(map[string]Result),
	}
}

// ProbeRealm launches an asynchronous probe for realm unless one ran
// within the cooldown window. It never blocks; the evaluator calls it
// inline from the ANQP response path.
func (p *Prober) ProbeRealm(realm string) {
	p.mu.Lock()
	if last, ok := p.attempts[realm]; ok && time.Since(last) < probeCooldown {
		p.mu.Unlock()
		p.logger.Debug("AAA probe suppressed",
			"realm", realm,
			"age", time.Since(last).String())
		return
	}
	p.attempts[realm] = time.Now()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Probe(context.Background(), realm)
	}()
}

// Stop waits for in-flight probes to finish.
func (p *Prober) Stop() {
	p.wg.Wait()
}

// Probe sends one Access-Request for realm and reports the outcome. The
// identity is a throwaway test credential; any well-formed response
// counts as reachable.
func (p *Prober) Probe(ctx context.Context, realm string) Result {
	username := p.identity
	if realm != "" {
		username = p.identity + "@" + realm
	}

	packet := radius.New(radius.CodeAccessRequest, []byte(p.secret))
	rfc2865.UserName_SetString(packet, username)
	rfc2865.UserPassword_SetString(packet, p.identity)
	rfc2865.NASIdentifier_SetString(packet, nasIdentifier)

	res := Result{Server: p.server, Realm: realm, Time: time.Now()}

	if err := sealMessageAuthenticator(packet); err != nil {
		res.Code = "error"
		res.Result = ResultError
		res.Error = err.Error()
		return p.finish(realm, res)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.exchange(ctx, packet, p.server)
	elapsed := time.Since(start)
	res.Latency = float64(elapsed.Microseconds()) / 1000
	metrics.AAAProbeDuration.Observe(elapsed.Seconds())

	if err != nil {
		res.Code = "error"
		res.Result = ResultError
		res.Error = err.Error()
		p.logger.Warn("AAA server unreachable",
			"server", p.server,
			"realm", realm,
			"error", err)
		return p.finish(realm, res)
	}

	res.Reachable = true
	res.Code = resp.Code.String()
	res.Result = classify(resp.Code)

	p.logger.Debug("AAA probe result",
		"server", p.server,
		"realm", realm,
		"code", res.Code,
		"latency_ms", res.Latency)

	return p.finish(realm, res)
}

// Results returns the last completed probe result per realm.
func (p *Prober) Results() map[string]Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Result, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

func (p *Prober) finish(realm string, res Result) Result {
	metrics.AAAProbes.WithLabelValues(res.Result).Inc()

	p.mu.Lock()
	p.results[realm] = res
	p.mu.Unlock()

	p.bus.Publish(events.Event{
		Type: events.EventAAAProbe,
		Probe: &events.ProbeData{
			Server:    p.server,
			Realm:     realm,
			Result:    res.Result,
			RTTMillis: int64(res.Latency),
		},
	})
	return res
}

func classify(code radius.Code) string {
	switch code {
	case radius.CodeAccessAccept:
		return ResultAccept
	case radius.CodeAccessChallenge:
		return ResultChallenge
	default:
		return ResultReject
	}
}

// sealMessageAuthenticator stamps the Message-Authenticator attribute
// (RFC 2869 section 5.14) over the encoded request. Servers applying the
// 2024 BlastRADIUS mitigations drop Access-Requests without it.
func sealMessageAuthenticator(packet *radius.Packet) error {
	if err := rfc2869.MessageAuthenticator_Set(packet, make([]byte, md5.Size)); err != nil {
		return err
	}
	wire, err := packet.Encode()
	if err != nil {
		return err
	}
	mac := hmac.New(md5.New, packet.Secret)
	mac.Write(wire)
	return rfc2869.MessageAuthenticator_Set(packet, mac.Sum(nil))
}
