package config

import "time"

// Default configuration values.
const (
	DefaultInterface           = "eth0"
	DefaultLogLevel            = "info"
	DefaultStateDB             = "/var/lib/athena-provd/state.db"
	DefaultPIDFile             = "/run/athena-provd.pid"
	DefaultLeaseHistory        = 50
	DefaultInitialTimeout      = 4 * time.Second
	DefaultMaxTimeout          = 64 * time.Second
	DefaultOverallTimeout      = 2 * time.Minute
	DefaultProbeTimeout        = 500 * time.Millisecond
	DefaultProbeCount          = 3
	DefaultNetcheckInterval    = 30 * time.Second
	DefaultNetcheckTimeout     = 3 * time.Second
	DefaultFailureThreshold    = 3
	DefaultDDNSTTL             = 300
	DefaultDDNSRetries         = 3
	DefaultDDNSRetryBackoff    = 2 * time.Second
	DefaultTSIGAlgorithm       = "hmac-sha256."
	DefaultEAPMethod           = 21 // EAP-TTLS
	DefaultAAATimeout          = 3 * time.Second
	DefaultAAAIdentity         = "athena-probe"
	DefaultRogueProbeInterval  = 5 * time.Minute
	DefaultJournalMaxRecords   = 10000
	DefaultJournalRetention    = 168 * time.Hour
	DefaultSyslogProtocol      = "udp"
	DefaultSyslogFormat        = "rfc5424"
	DefaultSyslogFacility      = 16 // local0
	DefaultSyslogAppName       = "athena-provd"
	DefaultEventBufferSize     = 10000
	DefaultScriptConcurrency   = 4
	DefaultScriptTimeout       = 10 * time.Second
	DefaultWebhookRetries      = 3
	DefaultWebhookRetryBackoff = 2 * time.Second
	DefaultAPIListen           = "127.0.0.1:8067"
	DefaultSessionExpiry       = 24 * time.Hour
	DefaultSessionCookieName   = "athena_session"
)
