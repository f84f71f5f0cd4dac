// Package config handles TOML configuration parsing, validation, and hot-reload for athena-provd.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for athena-provd.
type Config struct {
	Daemon   DaemonConfig   `toml:"daemon"`
	Client   ClientConfig   `toml:"client"`
	Conflict ConflictConfig `toml:"conflict"`
	Netcheck NetcheckConfig `toml:"netcheck"`
	DDNS     DDNSConfig     `toml:"ddns"`
	HS20     HS20Config     `toml:"hs20"`
	AAA      AAAConfig      `toml:"aaa"`
	Rogue    RogueConfig    `toml:"rogue"`
	Journal  JournalConfig  `toml:"journal"`
	Syslog   SyslogConfig   `toml:"syslog"`
	Hooks    HooksConfig    `toml:"hooks"`
	API      APIConfig      `toml:"api"`
}

// DaemonConfig holds core daemon settings.
type DaemonConfig struct {
	Interface     string `toml:"interface"`
	Hostname      string `toml:"hostname"`
	ClientID      string `toml:"client_id"`
	LogLevel      string `toml:"log_level"`
	StateDB       string `toml:"state_db"`
	PIDFile       string `toml:"pid_file"`
	ReleaseOnExit bool   `toml:"release_on_exit"`
	LeaseHistory  int    `toml:"lease_history"`
}

// ClientConfig holds protocol timing for the lease state machine.
type ClientConfig struct {
	InitialTimeout string `toml:"initial_timeout"`
	MaxTimeout     string `toml:"max_timeout"`
	OverallTimeout string `toml:"overall_timeout"`
	RequestIP      string `toml:"request_ip"`
}

// ConflictConfig holds duplicate-address detection settings.
type ConflictConfig struct {
	Enabled           bool   `toml:"enabled"`
	ProbeTimeout      string `toml:"probe_timeout"`
	ProbeCount        int    `toml:"probe_count"`
	ICMPFallback      bool   `toml:"icmp_fallback"`
	GratuitousARP     bool   `toml:"send_gratuitous_arp"`
	DeclineOnConflict bool   `toml:"decline_on_conflict"`
}

// NetcheckConfig holds post-bind connectivity monitoring settings.
type NetcheckConfig struct {
	Enabled          bool     `toml:"enabled"`
	Interval         string   `toml:"interval"`
	ProbeTimeout     string   `toml:"probe_timeout"`
	FailureThreshold int      `toml:"failure_threshold"`
	ExtraServers     []string `toml:"extra_servers"`
}

// DDNSConfig holds dynamic DNS self-registration settings.
type DDNSConfig struct {
	Enabled         bool   `toml:"enabled"`
	Zone            string `toml:"zone"`
	ReverseZone     string `toml:"reverse_zone"`
	Server          string `toml:"server"`
	TTL             int    `toml:"ttl"`
	TSIGName        string `toml:"tsig_name"`
	TSIGAlgorithm   string `toml:"tsig_algorithm"`
	TSIGSecret      string `toml:"tsig_secret"`
	UpdateOnRenew   bool   `toml:"update_on_renew"`
	RemoveOnRelease bool   `toml:"remove_on_release"`
	Retries         int    `toml:"retries"`
	RetryBackoff    string `toml:"retry_backoff"`
}

// HS20Config holds Hotspot 2.0 credential settings for ANQP evaluation.
type HS20Config struct {
	Enabled    bool     `toml:"enabled"`
	HomeRealms []string `toml:"home_realms"`
	EAPMethod  int      `toml:"eap_method"`
	InnerAuth  string   `toml:"inner_auth"`
}

// AAAConfig holds RADIUS reachability probe settings.
type AAAConfig struct {
	Enabled  bool   `toml:"enabled"`
	Server   string `toml:"server"`
	Secret   string `toml:"secret"`
	Identity string `toml:"identity"`
	Timeout  string `toml:"timeout"`
}

// RogueConfig holds rogue DHCP server detection settings.
type RogueConfig struct {
	Enabled        bool     `toml:"enabled"`
	ProbeInterval  string   `toml:"probe_interval"`
	TrustedServers []string `toml:"trusted_servers"`
}

// JournalConfig holds provisioning journal settings.
type JournalConfig struct {
	Enabled    bool   `toml:"enabled"`
	MaxRecords int    `toml:"max_records"`
	Retention  string `toml:"retention"`
}

// SyslogConfig holds remote syslog forwarding settings.
type SyslogConfig struct {
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Protocol string `toml:"protocol"`
	Format   string `toml:"format"`
	Facility int    `toml:"facility"`
	AppName  string `toml:"app_name"`
}

// HooksConfig holds event hook settings.
type HooksConfig struct {
	EventBufferSize   int           `toml:"event_buffer_size"`
	ScriptConcurrency int           `toml:"script_concurrency"`
	ScriptTimeout     string        `toml:"script_timeout"`
	Scripts           []ScriptHook  `toml:"script"`
	Webhooks          []WebhookHook `toml:"webhook"`
}

// ScriptHook defines a script hook.
type ScriptHook struct {
	Name       string   `toml:"name"`
	Events     []string `toml:"events"`
	Command    string   `toml:"command"`
	Timeout    string   `toml:"timeout"`
	Interfaces []string `toml:"interfaces"`
}

// WebhookHook defines a webhook hook.
type WebhookHook struct {
	Name         string            `toml:"name"`
	Events       []string          `toml:"events"`
	URL          string            `toml:"url"`
	Method       string            `toml:"method"`
	Headers      map[string]string `toml:"headers"`
	Timeout      string            `toml:"timeout"`
	Retries      int               `toml:"retries"`
	RetryBackoff string            `toml:"retry_backoff"`
	Secret       string            `toml:"secret"`
	Template     string            `toml:"template"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled bool          `toml:"enabled"`
	Listen  string        `toml:"listen"`
	Auth    APIAuthConfig `toml:"auth"`
	TLS     APITLSConfig  `toml:"tls"`
	Session SessionConfig `toml:"session"`
}

// APIAuthConfig holds auth settings.
type APIAuthConfig struct {
	AuthToken string       `toml:"auth_token"`
	Users     []UserConfig `toml:"users"`
}

// UserConfig holds an API user.
type UserConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
}

// APITLSConfig holds API TLS settings.
type APITLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// SessionConfig holds session settings.
type SessionConfig struct {
	CookieName string `toml:"cookie_name"`
	Expiry     string `toml:"expiry"`
	Secure     bool   `toml:"secure"`
}

// Load reads and parses a TOML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Daemon.Interface == "" {
		cfg.Daemon.Interface = DefaultInterface
	}
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = DefaultLogLevel
	}
	if cfg.Daemon.StateDB == "" {
		cfg.Daemon.StateDB = DefaultStateDB
	}
	if cfg.Daemon.PIDFile == "" {
		cfg.Daemon.PIDFile = DefaultPIDFile
	}
	if cfg.Daemon.LeaseHistory == 0 {
		cfg.Daemon.LeaseHistory = DefaultLeaseHistory
	}

	// Client timing defaults
	if cfg.Client.InitialTimeout == "" {
		cfg.Client.InitialTimeout = DefaultInitialTimeout.String()
	}
	if cfg.Client.MaxTimeout == "" {
		cfg.Client.MaxTimeout = DefaultMaxTimeout.String()
	}
	if cfg.Client.OverallTimeout == "" {
		cfg.Client.OverallTimeout = DefaultOverallTimeout.String()
	}

	// Conflict detection defaults
	if cfg.Conflict.ProbeTimeout == "" {
		cfg.Conflict.ProbeTimeout = DefaultProbeTimeout.String()
	}
	if cfg.Conflict.ProbeCount == 0 {
		cfg.Conflict.ProbeCount = DefaultProbeCount
	}

	// Netcheck defaults
	if cfg.Netcheck.Interval == "" {
		cfg.Netcheck.Interval = DefaultNetcheckInterval.String()
	}
	if cfg.Netcheck.ProbeTimeout == "" {
		cfg.Netcheck.ProbeTimeout = DefaultNetcheckTimeout.String()
	}
	if cfg.Netcheck.FailureThreshold == 0 {
		cfg.Netcheck.FailureThreshold = DefaultFailureThreshold
	}

	// DDNS defaults
	if cfg.DDNS.TTL == 0 {
		cfg.DDNS.TTL = DefaultDDNSTTL
	}
	if cfg.DDNS.Retries == 0 {
		cfg.DDNS.Retries = DefaultDDNSRetries
	}
	if cfg.DDNS.RetryBackoff == "" {
		cfg.DDNS.RetryBackoff = DefaultDDNSRetryBackoff.String()
	}
	if cfg.DDNS.TSIGAlgorithm == "" {
		cfg.DDNS.TSIGAlgorithm = DefaultTSIGAlgorithm
	}

	// HS20 defaults
	if cfg.HS20.EAPMethod == 0 {
		cfg.HS20.EAPMethod = DefaultEAPMethod
	}

	// AAA defaults
	if cfg.AAA.Timeout == "" {
		cfg.AAA.Timeout = DefaultAAATimeout.String()
	}
	if cfg.AAA.Identity == "" {
		cfg.AAA.Identity = DefaultAAAIdentity
	}

	// Rogue defaults
	if cfg.Rogue.ProbeInterval == "" {
		cfg.Rogue.ProbeInterval = DefaultRogueProbeInterval.String()
	}

	// Journal defaults
	if cfg.Journal.MaxRecords == 0 {
		cfg.Journal.MaxRecords = DefaultJournalMaxRecords
	}
	if cfg.Journal.Retention == "" {
		cfg.Journal.Retention = DefaultJournalRetention.String()
	}

	// Syslog defaults
	if cfg.Syslog.Protocol == "" {
		cfg.Syslog.Protocol = DefaultSyslogProtocol
	}
	if cfg.Syslog.Format == "" {
		cfg.Syslog.Format = DefaultSyslogFormat
	}
	if cfg.Syslog.Facility == 0 {
		cfg.Syslog.Facility = DefaultSyslogFacility
	}
	if cfg.Syslog.AppName == "" {
		cfg.Syslog.AppName = DefaultSyslogAppName
	}

	// Hooks defaults
	if cfg.Hooks.EventBufferSize == 0 {
		cfg.Hooks.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Hooks.ScriptConcurrency == 0 {
		cfg.Hooks.ScriptConcurrency = DefaultScriptConcurrency
	}
	if cfg.Hooks.ScriptTimeout == "" {
		cfg.Hooks.ScriptTimeout = DefaultScriptTimeout.String()
	}

	// API defaults
	if cfg.API.Listen == "" {
		cfg.API.Listen = DefaultAPIListen
	}
	if cfg.API.Session.CookieName == "" {
		cfg.API.Session.CookieName = DefaultSessionCookieName
	}
	if cfg.API.Session.Expiry == "" {
		cfg.API.Session.Expiry = DefaultSessionExpiry.String()
	}

	// Webhook defaults
	for i := range cfg.Hooks.Webhooks {
		if cfg.Hooks.Webhooks[i].Method == "" {
			cfg.Hooks.Webhooks[i].Method = "POST"
		}
		if cfg.Hooks.Webhooks[i].Retries == 0 {
			cfg.Hooks.Webhooks[i].Retries = DefaultWebhookRetries
		}
		if cfg.Hooks.Webhooks[i].RetryBackoff == "" {
			cfg.Hooks.Webhooks[i].RetryBackoff = DefaultWebhookRetryBackoff.String()
		}
	}
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	// Client timing
	if _, err := time.ParseDuration(cfg.Client.InitialTimeout); err != nil {
		return fmt.Errorf("client.initial_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Client.MaxTimeout); err != nil {
		return fmt.Errorf("client.max_timeout: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Client.OverallTimeout); err != nil {
		return fmt.Errorf("client.overall_timeout: %w", err)
	}
	if cfg.Client.RequestIP != "" {
		if ip := net.ParseIP(cfg.Client.RequestIP); ip == nil {
			return fmt.Errorf("client.request_ip %q is not a valid IP address", cfg.Client.RequestIP)
		}
	}

	// Conflict detection
	if cfg.Conflict.Enabled {
		if _, err := time.ParseDuration(cfg.Conflict.ProbeTimeout); err != nil {
			return fmt.Errorf("conflict.probe_timeout: %w", err)
		}
		if cfg.Conflict.ProbeCount < 1 {
			return fmt.Errorf("conflict.probe_count must be at least 1, got %d", cfg.Conflict.ProbeCount)
		}
	}

	// Netcheck
	if cfg.Netcheck.Enabled {
		if _, err := time.ParseDuration(cfg.Netcheck.Interval); err != nil {
			return fmt.Errorf("netcheck.interval: %w", err)
		}
		if _, err := time.ParseDuration(cfg.Netcheck.ProbeTimeout); err != nil {
			return fmt.Errorf("netcheck.probe_timeout: %w", err)
		}
		if cfg.Netcheck.FailureThreshold < 1 {
			return fmt.Errorf("netcheck.failure_threshold must be at least 1, got %d", cfg.Netcheck.FailureThreshold)
		}
		for _, s := range cfg.Netcheck.ExtraServers {
			if ip := net.ParseIP(s); ip == nil {
				return fmt.Errorf("netcheck.extra_servers: %q is not a valid IP address", s)
			}
		}
	}

	// DDNS
	if cfg.DDNS.Enabled {
		if cfg.DDNS.Zone == "" {
			return fmt.Errorf("ddns.zone is required when DDNS is enabled")
		}
		if cfg.DDNS.Server == "" {
			return fmt.Errorf("ddns.server is required when DDNS is enabled")
		}
		if cfg.DDNS.TSIGName != "" && cfg.DDNS.TSIGSecret == "" {
			return fmt.Errorf("ddns.tsig_secret is required when ddns.tsig_name is set")
		}
		if _, err := time.ParseDuration(cfg.DDNS.RetryBackoff); err != nil {
			return fmt.Errorf("ddns.retry_backoff: %w", err)
		}
	}

	// HS20
	if cfg.HS20.Enabled {
		if len(cfg.HS20.HomeRealms) == 0 {
			return fmt.Errorf("hs20.home_realms is required when HS20 is enabled")
		}
		if cfg.HS20.EAPMethod < 1 || cfg.HS20.EAPMethod > 255 {
			return fmt.Errorf("hs20.eap_method must be between 1 and 255, got %d", cfg.HS20.EAPMethod)
		}
		switch cfg.HS20.InnerAuth {
		case "", "pap", "chap", "mschap", "mschapv2":
		default:
			return fmt.Errorf("hs20.inner_auth must be pap, chap, mschap, or mschapv2, got %q", cfg.HS20.InnerAuth)
		}
	}

	// AAA
	if cfg.AAA.Enabled {
		if cfg.AAA.Server == "" {
			return fmt.Errorf("aaa.server is required when AAA is enabled")
		}
		if cfg.AAA.Secret == "" {
			return fmt.Errorf("aaa.secret is required when AAA is enabled")
		}
		if _, err := time.ParseDuration(cfg.AAA.Timeout); err != nil {
			return fmt.Errorf("aaa.timeout: %w", err)
		}
	}

	// Rogue
	if cfg.Rogue.Enabled {
		if _, err := time.ParseDuration(cfg.Rogue.ProbeInterval); err != nil {
			return fmt.Errorf("rogue.probe_interval: %w", err)
		}
		for _, s := range cfg.Rogue.TrustedServers {
			if ip := net.ParseIP(s); ip == nil {
				return fmt.Errorf("rogue.trusted_servers: %q is not a valid IP address", s)
			}
		}
	}

	// Journal
	if cfg.Journal.Enabled {
		if _, err := time.ParseDuration(cfg.Journal.Retention); err != nil {
			return fmt.Errorf("journal.retention: %w", err)
		}
	}

	// Syslog
	if cfg.Syslog.Enabled {
		if cfg.Syslog.Address == "" {
			return fmt.Errorf("syslog.address is required when syslog forwarding is enabled")
		}
		if cfg.Syslog.Protocol != "udp" && cfg.Syslog.Protocol != "tcp" {
			return fmt.Errorf("syslog.protocol must be \"udp\" or \"tcp\", got %q", cfg.Syslog.Protocol)
		}
		if cfg.Syslog.Format != "rfc5424" && cfg.Syslog.Format != "json" {
			return fmt.Errorf("syslog.format must be \"rfc5424\" or \"json\", got %q", cfg.Syslog.Format)
		}
		if cfg.Syslog.Facility < 0 || cfg.Syslog.Facility > 23 {
			return fmt.Errorf("syslog.facility must be between 0 and 23, got %d", cfg.Syslog.Facility)
		}
	}

	// API
	if cfg.API.Enabled {
		for i, u := range cfg.API.Auth.Users {
			if u.Username == "" {
				return fmt.Errorf("api.auth.users[%d]: username is required", i)
			}
			if u.PasswordHash == "" {
				return fmt.Errorf("api.auth.users[%d]: password_hash is required", i)
			}
		}
		if cfg.API.TLS.Enabled {
			if cfg.API.TLS.CertFile == "" || cfg.API.TLS.KeyFile == "" {
				return fmt.Errorf("api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
			}
		}
		if _, err := time.ParseDuration(cfg.API.Session.Expiry); err != nil {
			return fmt.Errorf("api.session.expiry: %w", err)
		}
	}

	return nil
}

// ParseDuration is a helper for parsing Go-style duration strings.
func ParseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// DurationOr parses a duration string, falling back to def on error.
func DurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// InitialTimeout returns the parsed first retransmission delay.
func (cfg *Config) InitialTimeout() time.Duration {
	return DurationOr(cfg.Client.InitialTimeout, DefaultInitialTimeout)
}

// MaxTimeout returns the parsed retransmission delay cap.
func (cfg *Config) MaxTimeout() time.Duration {
	return DurationOr(cfg.Client.MaxTimeout, DefaultMaxTimeout)
}

// OverallTimeout returns the parsed per-attempt deadline.
func (cfg *Config) OverallTimeout() time.Duration {
	return DurationOr(cfg.Client.OverallTimeout, DefaultOverallTimeout)
}

// RequestIP returns the parsed address hint for DISCOVER, or nil.
func (cfg *Config) RequestIP() net.IP {
	if cfg.Client.RequestIP == "" {
		return nil
	}
	return net.ParseIP(cfg.Client.RequestIP)
}
