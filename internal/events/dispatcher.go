package events

import (
	"log/slog"
	"strings"
	"time"
)

// Dispatcher routes bus events to script hooks and webhooks. Hook
// failures never propagate back to the publishing subsystem: a broken
// script cannot stall lease acquisition.
type Dispatcher struct {
	bus      *Bus
	scripts  *ScriptRunner
	webhooks *WebhookSender
	logger   *slog.Logger

	scriptCfgs  []ScriptConfig
	webhookCfgs []WebhookConfig
	ch          chan Event
	done        chan struct{}
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(bus *Bus, logger *slog.Logger, scriptConcurrency int, webhookTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		scripts:  NewScriptRunner(scriptConcurrency, logger),
		webhooks: NewWebhookSender(webhookTimeout, logger),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// AddScript registers a script hook. Call before Start.
func (d *Dispatcher) AddScript(cfg ScriptConfig) {
	d.scriptCfgs = append(d.scriptCfgs, cfg)
}

// AddWebhook registers a webhook hook. Call before Start.
func (d *Dispatcher) AddWebhook(cfg WebhookConfig) {
	d.webhookCfgs = append(d.webhookCfgs, cfg)
}

// Start subscribes to the event bus and begins dispatching. Call in a goroutine.
func (d *Dispatcher) Start() {
	d.ch = d.bus.Subscribe(1000)

	d.logger.Info("event dispatcher started",
		"script_hooks", len(d.scriptCfgs),
		"webhook_hooks", len(d.webhookCfgs))

	for {
		select {
		case evt, ok := <-d.ch:
			if !ok {
				return
			}
			d.dispatch(evt)
		case <-d.done:
			return
		}
	}
}

// Stop shuts down the dispatcher and waits for in-flight hooks to finish.
func (d *Dispatcher) Stop() {
	close(d.done)
	if d.ch != nil {
		d.bus.Unsubscribe(d.ch)
	}
	d.scripts.Wait()
	d.webhooks.Wait()
	d.logger.Info("event dispatcher stopped")
}

func (d *Dispatcher) dispatch(evt Event) {
	evtType := string(evt.Type)

	for _, cfg := range d.scriptCfgs {
		if matchesEvent(cfg.Events, evtType) && matchesInterface(cfg.Interfaces, evt) {
			d.scripts.Run(cfg, evt)
		}
	}
	for _, cfg := range d.webhookCfgs {
		if matchesEvent(cfg.Events, evtType) {
			d.webhooks.Send(cfg, evt)
		}
	}
}

// matchesEvent reports whether the event type matches any configured
// pattern: exact names, a bare "*", or a "lease.*"-style prefix wildcard.
// An empty pattern list matches everything.
func matchesEvent(patterns []string, eventType string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		switch {
		case p == "*", p == eventType:
			return true
		case strings.HasSuffix(p, ".*"):
			if strings.HasPrefix(eventType, strings.TrimSuffix(p, "*")) {
				return true
			}
		}
	}
	return false
}

// matchesInterface applies a hook's interface filter. Events that carry
// no interface (ANQP, AAA probes) always match.
func matchesInterface(ifaces []string, evt Event) bool {
	if len(ifaces) == 0 {
		return true
	}
	iface := eventInterface(evt)
	if iface == "" {
		return true
	}
	for _, s := range ifaces {
		if s == iface {
			return true
		}
	}
	return false
}

// eventInterface extracts the interface name from whichever payload the
// event carries.
func eventInterface(evt Event) string {
	switch {
	case evt.Lease != nil:
		return evt.Lease.Interface
	case evt.State != nil:
		return evt.State.Interface
	case evt.Conflict != nil:
		return evt.Conflict.Interface
	case evt.Rogue != nil:
		return evt.Rogue.Interface
	case evt.Net != nil:
		return evt.Net.Interface
	default:
		return ""
	}
}
