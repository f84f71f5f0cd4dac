// athena-provd — DHCPv4 client provisioning daemon with Hotspot 2.0
// network evaluation for Linux edge devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	nethttp "net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/athena-provd/athena-provd/internal/aaa"
	"github.com/athena-provd/athena-provd/internal/anqp"
	"github.com/athena-provd/athena-provd/internal/api"
	"github.com/athena-provd/athena-provd/internal/config"
	"github.com/athena-provd/athena-provd/internal/conflict"
	"github.com/athena-provd/athena-provd/internal/ddns"
	"github.com/athena-provd/athena-provd/internal/dhcp"
	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/hostname"
	"github.com/athena-provd/athena-provd/internal/hs20"
	"github.com/athena-provd/athena-provd/internal/journal"
	"github.com/athena-provd/athena-provd/internal/lease"
	"github.com/athena-provd/athena-provd/internal/logging"
	"github.com/athena-provd/athena-provd/internal/metrics"
	"github.com/athena-provd/athena-provd/internal/netcheck"
	"github.com/athena-provd/athena-provd/internal/netif"
	"github.com/athena-provd/athena-provd/internal/rogue"
	syslogfwd "github.com/athena-provd/athena-provd/internal/syslog"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/athena-provd/config.toml", "path to configuration file")
	debugPort := flag.String("debug-port", "", "enable pprof debug server on this port (e.g. 6060)")
	flag.Parse()

	// Start pprof debug server if requested
	if *debugPort != "" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(1)
		go func() {
			addr := "0.0.0.0:" + *debugPort
			fmt.Fprintf(os.Stderr, "pprof debug server on http://%s/debug/pprof/\n", addr)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server failed: %v\n", err)
			}
		}()
	}

	// SIGUSR1 dumps all goroutine stacks to /tmp/athena-provd-goroutines.txt
	// Works even under 100% CPU since signals are kernel-delivered
	go func() {
		sigUsr1 := make(chan os.Signal, 1)
		signal.Notify(sigUsr1, syscall.SIGUSR1)
		for range sigUsr1 {
			buf := make([]byte, 64*1024*1024) // 64MB
			n := runtime.Stack(buf, true)     // true = all goroutines
			path := "/tmp/athena-provd-goroutines.txt"
			if err := os.WriteFile(path, buf[:n], 0644); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write goroutine dump: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "goroutine dump written to %s (%d bytes)\n", path, n)
			}
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Daemon.LogLevel, os.Stdout)
	logger.Info("athena-provd starting",
		"config", *configPath,
		"interface", cfg.Daemon.Interface,
		"version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve the interface up front — without it nothing else can run
	iface, err := net.InterfaceByName(cfg.Daemon.Interface)
	if err != nil {
		logger.Error("interface not found", "interface", cfg.Daemon.Interface, "error", err)
		os.Exit(1)
	}

	// Lease store (BoltDB)
	store, err := lease.NewStore(cfg.Daemon.StateDB, cfg.Daemon.LeaseHistory)
	if err != nil {
		logger.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("state database opened", "path", cfg.Daemon.StateDB, "lease_count", store.Count())

	// Event bus
	bus := events.NewBus(cfg.Hooks.EventBufferSize, logger)
	go bus.Start()
	defer bus.Stop()

	// Hook dispatcher — scripts and webhooks driven by bus events
	dispatcher := events.NewDispatcher(bus, logger,
		cfg.Hooks.ScriptConcurrency, 10*time.Second)
	defaultScriptTimeout := config.DurationOr(cfg.Hooks.ScriptTimeout, 30*time.Second)
	for _, sc := range cfg.Hooks.Scripts {
		dispatcher.AddScript(events.ScriptConfig{
			Name:       sc.Name,
			Events:     sc.Events,
			Command:    sc.Command,
			Timeout:    config.DurationOr(sc.Timeout, defaultScriptTimeout),
			Interfaces: sc.Interfaces,
		})
	}
	for _, wh := range cfg.Hooks.Webhooks {
		dispatcher.AddWebhook(events.WebhookConfig{
			Name:         wh.Name,
			Events:       wh.Events,
			URL:          wh.URL,
			Method:       wh.Method,
			Headers:      wh.Headers,
			Timeout:      config.DurationOr(wh.Timeout, 10*time.Second),
			Retries:      wh.Retries,
			RetryBackoff: config.DurationOr(wh.RetryBackoff, time.Second),
			Secret:       wh.Secret,
			Template:     wh.Template,
		})
	}
	dispatcher.Start()
	defer dispatcher.Stop()

	// Lease recorder persists acquisitions and retires released leases
	recorder := lease.NewRecorder(store, bus, logger)
	recorder.Start()
	defer recorder.Stop()

	// Provisioning journal
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.New(store.DB(), bus,
			cfg.Journal.MaxRecords,
			config.DurationOr(cfg.Journal.Retention, 0), logger)
		if err != nil {
			logger.Warn("failed to initialize journal", "error", err)
		} else {
			jrnl.Start()
			defer jrnl.Stop()
		}
	}

	// Syslog forwarder
	var syslogForwarder *syslogfwd.Forwarder
	if cfg.Syslog.Enabled && cfg.Syslog.Address != "" {
		syslogForwarder = syslogfwd.NewForwarder(cfg.Syslog, bus, logger)
		if err := syslogForwarder.Start(); err != nil {
			logger.Warn("failed to start syslog forwarder", "error", err)
			syslogForwarder = nil
		} else {
			defer syslogForwarder.Stop()
		}
	}

	// Resolve the hostname sent in option 12
	name := cfg.Daemon.Hostname
	if name == "" {
		name, _ = os.Hostname()
	}
	sanitised, ok := hostname.Sanitise(name, iface.HardwareAddr)
	if !ok {
		sanitised = hostname.Fallback(iface.HardwareAddr)
		logger.Warn("hostname unusable, using fallback", "raw", name, "fallback", sanitised)
	}

	// Hint the previous address in DISCOVER (option 50): configured
	// request_ip wins, otherwise the last lease we held on this interface
	requestedIP := cfg.RequestIP()
	if requestedIP == nil {
		if prev := store.Current(cfg.Daemon.Interface); prev != nil {
			requestedIP = prev.Addr
			logger.Info("requesting previous address", "addr", prev.Addr)
		}
	}

	var clientID []byte
	if cfg.Daemon.ClientID != "" {
		clientID = []byte(cfg.Daemon.ClientID)
	}

	client := dhcp.NewClient(dhcp.ClientConfig{
		Interface:      cfg.Daemon.Interface,
		HWAddr:         iface.HardwareAddr,
		Hostname:       sanitised,
		ClientID:       clientID,
		RequestedIP:    requestedIP,
		InitialTimeout: cfg.InitialTimeout(),
		MaxTimeout:     cfg.MaxTimeout(),
		OverallTimeout: cfg.OverallTimeout(),
	}, bus, logger)

	// Interface configurator applies/removes the leased address
	client.SetConfigurator(netif.NewManager(cfg.Conflict.GratuitousARP, logger))

	// Duplicate-address detection on incoming offers
	var checker *conflict.Checker
	if cfg.Conflict.Enabled {
		arpProber, err := conflict.NewARPProber(cfg.Daemon.Interface, logger)
		if err != nil {
			logger.Warn("ARP prober initialization failed — ARP conflict detection disabled",
				"error", err)
		}
		var icmpProber *conflict.ICMPProber
		if cfg.Conflict.ICMPFallback {
			icmpProber, err = conflict.NewICMPProber(logger)
			if err != nil {
				logger.Warn("ICMP prober initialization failed — ICMP fallback disabled",
					"error", err)
			}
		}
		checker = conflict.NewChecker(cfg.Daemon.Interface, arpProber, icmpProber,
			bus, logger, conflict.CheckerConfig{
				ProbeTimeout: config.DurationOr(cfg.Conflict.ProbeTimeout, 500*time.Millisecond),
				ProbeCount:   cfg.Conflict.ProbeCount,
				ICMPFallback: cfg.Conflict.ICMPFallback,
			})

		client.OnOffer(func(addr, server net.IP) {
			go func() {
				res := checker.Check(ctx, addr)
				if res.Conflict && cfg.Conflict.DeclineOnConflict {
					client.Decline(fmt.Sprintf("address %s in use (%s)", addr, res.Method))
				}
			}()
		})
		logger.Info("conflict detection enabled",
			"probe_count", cfg.Conflict.ProbeCount,
			"icmp_fallback", cfg.Conflict.ICMPFallback,
			"decline_on_conflict", cfg.Conflict.DeclineOnConflict)
	}

	// Rogue DHCP server detection
	var rogueDetector *rogue.Detector
	if cfg.Rogue.Enabled {
		var trusted []net.IP
		for _, s := range cfg.Rogue.TrustedServers {
			if ip := net.ParseIP(s); ip != nil {
				trusted = append(trusted, ip)
			}
		}
		rd, err := rogue.NewDetector(store.DB(), bus, cfg.Daemon.Interface, trusted, logger)
		if err != nil {
			logger.Warn("failed to initialize rogue detector", "error", err)
		} else {
			rogueDetector = rd
			client.OnPacket(rogueDetector.Observe)
			rogueDetector.StartProbing(
				config.DurationOr(cfg.Rogue.ProbeInterval, 5*time.Minute),
				3*time.Second)
			defer rogueDetector.Stop()
			logger.Info("rogue DHCP detection enabled", "trusted_servers", len(trusted))
		}
	}

	// Hotspot 2.0 network evaluation
	var cache *anqp.Cache
	var evaluator *hs20.Evaluator
	if cfg.HS20.Enabled {
		cache = anqp.NewCache(logger)
		go cache.Run(ctx)
		evaluator = hs20.NewEvaluator(cache, bus, cfg.HS20.HomeRealms,
			refEAPMethod(cfg.HS20), logger)
		logger.Info("Hotspot 2.0 evaluation enabled",
			"home_realms", cfg.HS20.HomeRealms,
			"eap_method", cfg.HS20.EAPMethod)
	}

	// AAA reachability prober, wired into the evaluator so qualifying
	// realms get verified against the RADIUS server
	prober := aaa.NewProber(cfg.AAA, bus, logger)
	if prober != nil {
		if evaluator != nil {
			evaluator.SetProber(prober)
		}
		defer prober.Stop()
	}

	// Resolver health monitoring — servers swap in on lease acquisition
	var monitor *netcheck.Monitor
	if cfg.Netcheck.Enabled {
		monitor = netcheck.NewMonitor(cfg.Daemon.Interface, bus, logger, netcheck.MonitorConfig{
			Interval:         config.DurationOr(cfg.Netcheck.Interval, 30*time.Second),
			ProbeTimeout:     config.DurationOr(cfg.Netcheck.ProbeTimeout, 2*time.Second),
			FailureThreshold: cfg.Netcheck.FailureThreshold,
			ExtraServers:     cfg.Netcheck.ExtraServers,
		})
		monitor.Start()
		defer monitor.Stop()
	}

	// Dynamic DNS self-registration
	var ddnsMgr *ddns.Manager
	if cfg.DDNS.Enabled {
		ddnsMgr = ddns.NewManager(cfg.DDNS, bus, logger)
		ddnsMgr.Start()
		defer ddnsMgr.Stop()
		logger.Info("dynamic DNS registration enabled", "zone", cfg.DDNS.Zone, "server", cfg.DDNS.Server)
	}

	client.OnLeaseAcquired(func(l *lease.Lease) {
		recorder.RecordLease(l)
		if rogueDetector != nil && l.Server != nil {
			rogueDetector.Trust(l.Server)
		}
		if monitor != nil {
			monitor.SetServers(l.DNSServers)
		}
		if checker != nil {
			checker.Invalidate(l.Addr)
		}
	})

	metrics.DaemonStartTime.SetToCurrentTime()
	metrics.DaemonInfo.WithLabelValues(version).Set(1)

	if cfg.Daemon.PIDFile != "" {
		if err := writePIDFile(cfg.Daemon.PIDFile); err != nil {
			logger.Warn("failed to write PID file", "path", cfg.Daemon.PIDFile, "error", err)
		} else {
			defer removePIDFile(cfg.Daemon.PIDFile)
		}
	}

	// API server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiOpts := []api.ServerOption{
			api.WithConfigPath(*configPath),
			api.WithVersion(version),
		}
		if cache != nil {
			apiOpts = append(apiOpts, api.WithANQP(cache, evaluator))
		}
		if rogueDetector != nil {
			apiOpts = append(apiOpts, api.WithRogueDetector(rogueDetector))
		}
		if jrnl != nil {
			apiOpts = append(apiOpts, api.WithJournal(jrnl))
		}
		if prober != nil {
			apiOpts = append(apiOpts, api.WithAAAProber(prober))
		}
		if monitor != nil {
			apiOpts = append(apiOpts, api.WithNetMonitor(monitor))
		}

		apiServer = api.NewServer(cfg, client, store, bus, logger, apiOpts...)
		apiLn, err := apiServer.Listen()
		if err != nil {
			logger.Error("FATAL: API server failed to start", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := apiServer.Serve(apiLn); err != nil {
				logger.Error("API server failed", "error", err)
			}
		}()
	}

	client.Start()

	logger.Info("athena-provd ready",
		"interface", cfg.Daemon.Interface,
		"conflict_detection", cfg.Conflict.Enabled,
		"hs20", cfg.HS20.Enabled,
		"api", cfg.API.Enabled)

	// Wait for signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				logger.Error("failed to reload config", "error", err)
				continue
			}
			cfg = newCfg
			if apiServer != nil {
				apiServer.UpdateConfig(cfg)
			}
			if ddnsMgr != nil {
				ddnsMgr.UpdateConfig(cfg.DDNS)
			}
			// Timing, interface, and hook changes need a restart
			logger.Info("configuration reloaded (API users, DDNS)")

		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("received shutdown signal", "signal", sig.String())

			if cfg.Daemon.ReleaseOnExit && client.Lease() != nil {
				logger.Info("releasing lease on exit")
				client.Release()
				// Let the RELEASE hit the wire before tearing down
				time.Sleep(500 * time.Millisecond)
			}
			client.Shutdown()

			cancel()

			if apiServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				apiServer.Stop(shutdownCtx)
				shutdownCancel()
			}

			// Deferred stops tear down the subsystems before the bus
			// and store close
			logger.Info("athena-provd stopped")
			return
		}
	}
}

// refEAPMethod builds the reference credential from config. The inner
// auth name maps to a Non-EAP Inner Authentication Type parameter
// (IEEE 802.11-2016 Table 9-276).
func refEAPMethod(cfg config.HS20Config) anqp.EAPMethod {
	ref := anqp.EAPMethod{Method: uint8(cfg.EAPMethod)}
	var inner byte
	switch cfg.InnerAuth {
	case "pap":
		inner = 1
	case "chap":
		inner = 2
	case "mschap":
		inner = 3
	case "mschapv2":
		inner = 4
	default:
		return ref
	}
	ref.Params = []anqp.AuthParam{{ID: anqp.AuthParamNonEAPInner, Value: []byte{inner}}}
	return ref
}

// writePIDFile writes the current process ID to the given path.
func writePIDFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating PID directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// removePIDFile removes the PID file.
func removePIDFile(path string) {
	os.Remove(path)
}
