// Package metrics defines all Prometheus metrics for athena-provd.
// All metrics use the "athena_provd_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "athena_provd"

// --- Client State Machine Metrics ---

var (
	// StateTransitions counts client state transitions.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Total client state machine transitions.",
	}, []string{"from", "to"})

	// Retransmissions counts retransmitted messages by state.
	Retransmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retransmissions_total",
		Help:      "Total retransmitted DHCP messages, by state.",
	}, []string{"state"})

	// EventQueueDrops counts packets dropped because the state machine's
	// event queue was full.
	EventQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_queue_drops_total",
		Help:      "Total packets dropped due to a full state machine event queue.",
	})
)

// --- DHCP Packet Metrics ---

var (
	// PacketsReceived counts DHCP packets received by message type.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_received_total",
		Help:      "Total DHCP packets received, by message type.",
	}, []string{"msg_type"})

	// PacketsSent counts DHCP packets sent by message type.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_sent_total",
		Help:      "Total DHCP packets sent, by message type.",
	}, []string{"msg_type"})

	// PacketDecodeErrors counts undecodable received packets.
	PacketDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packet_decode_errors_total",
		Help:      "Total received packets that failed to decode.",
	})

	// PacketsFiltered counts packets rejected by the validity filter.
	PacketsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packets_filtered_total",
		Help:      "Total packets rejected by the validity filter, by reason (xid, chaddr).",
	}, []string{"reason"})

	// Naks counts DHCPNAK responses received.
	Naks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "naks_total",
		Help:      "Total DHCPNAK responses received.",
	})
)

// --- Lease Metrics ---

var (
	// LeaseAcquisitions counts successful initial acquisitions.
	LeaseAcquisitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_acquisitions_total",
		Help:      "Total successful lease acquisitions.",
	})

	// LeaseRenewals counts successful renewals.
	LeaseRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_renewals_total",
		Help:      "Total successful lease renewals.",
	})

	// LeaseFailures counts failed attempts by the state they failed in.
	LeaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_failures_total",
		Help:      "Total failed lease attempts, by state.",
	}, []string{"state"})

	// LeaseDeclines counts addresses declined after a conflict.
	LeaseDeclines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_declines_total",
		Help:      "Total leases declined after a detected address conflict.",
	})

	// LeaseExpiries counts leases that reached hard expiry.
	LeaseExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lease_expiries_total",
		Help:      "Total leases that expired without renewal.",
	})

	// LeaseExpirySeconds is the current lease expiry as a Unix timestamp
	// (0 when no lease is held).
	LeaseExpirySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lease_expiry_seconds",
		Help:      "Unix timestamp of the current lease expiry, 0 when unbound.",
	})
)

// --- ANQP Cache Metrics ---

var (
	// ANQPCacheEntries is the current number of cache entries.
	ANQPCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "anqp_cache_entries",
		Help:      "Current number of ANQP cache entries.",
	})

	// ANQPCacheHits counts cache lookups returning a valid entry.
	ANQPCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_cache_hits_total",
		Help:      "Total ANQP cache hits.",
	})

	// ANQPCacheMisses counts cache lookups returning a miss.
	ANQPCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_cache_misses_total",
		Help:      "Total ANQP cache misses.",
	})

	// ANQPQueriesInitiated counts accepted Initiate calls.
	ANQPQueriesInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_queries_initiated_total",
		Help:      "Total ANQP queries gated through the cache.",
	})

	// ANQPUpdates counts Update calls by outcome.
	ANQPUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_updates_total",
		Help:      "Total ANQP cache updates, by outcome (stored, skipped).",
	}, []string{"outcome"})

	// ANQPSweepEvictions counts entries removed by the periodic sweep.
	ANQPSweepEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_sweep_evictions_total",
		Help:      "Total expired ANQP cache entries removed by the sweep.",
	})

	// ANQPParseErrors counts malformed ANQP elements.
	ANQPParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anqp_parse_errors_total",
		Help:      "Total ANQP elements that failed to parse.",
	})
)

// --- Conflict Probe Metrics ---

var (
	// ConflictProbes counts conflict probes by method and result.
	ConflictProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflict_probes_total",
		Help:      "Total duplicate-address probes performed.",
	}, []string{"method", "result"})

	// ConflictProbeDuration tracks probe latency by method.
	ConflictProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "conflict_probe_duration_seconds",
		Help:      "Duplicate-address probe duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	}, []string{"method"})

	// ConflictsDetected counts offered addresses found in use.
	ConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_detected_total",
		Help:      "Total offered addresses found already in use.",
	})
)

// --- Rogue Observation Metrics ---

var (
	// RogueServersActive is a gauge of currently tracked unexpected servers.
	RogueServersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rogue_servers_active",
		Help:      "Number of currently tracked unexpected DHCP servers.",
	})

	// RogueSightings counts sightings of unexpected DHCP servers.
	RogueSightings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rogue_sightings_total",
		Help:      "Total sightings of unexpected DHCP server traffic.",
	})

	// RogueProbes counts active rogue-detection probe rounds.
	RogueProbes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rogue_probes_total",
		Help:      "Total rogue-detection probe rounds.",
	})
)

// --- Network Check Metrics ---

var (
	// ResolverProbes counts resolver probes by result.
	ResolverProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_probes_total",
		Help:      "Total lease resolver probes.",
	}, []string{"result"})

	// ResolverLatencySeconds is the smoothed probe latency per resolver.
	ResolverLatencySeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resolver_latency_seconds",
		Help:      "Smoothed (EWMA) resolver probe latency in seconds.",
	}, []string{"server"})

	// ResolverHealthy reports per-resolver health (1 = healthy).
	ResolverHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resolver_healthy",
		Help:      "Resolver health flag (1 = healthy, 0 = unhealthy).",
	}, []string{"server"})
)

// --- DDNS Metrics ---

var (
	// DDNSUpdates counts DNS update operations by type and result.
	DDNSUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ddns_updates_total",
		Help:      "Total DDNS update operations.",
	}, []string{"type", "result"})

	// DDNSDuration tracks DNS update latency.
	DDNSDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ddns_update_duration_seconds",
		Help:      "DDNS update duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
	}, []string{"type"})
)

// --- AAA Probe Metrics ---

var (
	// AAAProbes counts RADIUS reachability probes by result.
	AAAProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aaa_probes_total",
		Help:      "Total RADIUS reachability probes.",
	}, []string{"result"})

	// AAAProbeDuration tracks RADIUS probe latency.
	AAAProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aaa_probe_duration_seconds",
		Help:      "RADIUS reachability probe duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})
)

// --- Event Bus Metrics ---

var (
	// EventsPublished counts events published to the bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus.",
	}, []string{"event_type"})

	// EventBufferDrops counts events dropped due to full buffer.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to full event bus buffer.",
	})

	// HookExecutions counts hook executions by type and result.
	HookExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hook_executions_total",
		Help:      "Total hook executions.",
	}, []string{"hook_type", "result"})

	// HookDuration tracks hook execution latency.
	HookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hook_execution_duration_seconds",
		Help:      "Hook execution duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
	}, []string{"hook_type"})
)

// --- API Metrics ---

var (
	// APIRequests counts HTTP API requests by method, path, and status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total HTTP API requests.",
	}, []string{"method", "path", "status"})

	// APIRequestDuration tracks API request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// SSEConnections is a gauge of active SSE (Server-Sent Events) connections.
	SSEConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_connections_active",
		Help:      "Number of active SSE connections.",
	})
)

// --- Journal Metrics ---

var (
	// JournalRecords counts records appended to the provisioning journal.
	JournalRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_records_total",
		Help:      "Total records appended to the provisioning journal.",
	})

	// JournalPruned counts journal records removed by retention pruning.
	JournalPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_pruned_total",
		Help:      "Total journal records removed by retention pruning.",
	})
)

// --- Daemon Info ---

var (
	// DaemonInfo is a constant gauge with daemon metadata.
	DaemonInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_info",
		Help:      "Daemon build and version info.",
	}, []string{"version"})

	// DaemonStartTime tracks daemon start time as a unix timestamp.
	DaemonStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_start_time_seconds",
		Help:      "Daemon start time as Unix timestamp.",
	})
)
