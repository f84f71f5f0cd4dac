package lease

import (
	"log/slog"
	"sync"
	"time"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/pkg/dhcpv4"
)

// Recorder keeps the store in step with the client's lease lifecycle.
// Newly bound leases are handed in directly through RecordLease; release,
// decline, and expiry are observed on the event bus so every teardown path
// archives through the same code.
type Recorder struct {
	store  *Store
	bus    *events.Bus
	logger *slog.Logger

	ch   chan events.Event
	done chan struct{}
	wg   sync.WaitGroup
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store *Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start subscribes to the event bus and begins recording teardowns.
func (r *Recorder) Start() {
	r.ch = r.bus.Subscribe(500)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case evt, ok := <-r.ch:
				if !ok {
					return
				}
				r.handleEvent(evt)
			case <-r.done:
				return
			}
		}
	}()
}

// Stop unsubscribes from the bus and waits for in-flight work.
func (r *Recorder) Stop() {
	close(r.done)
	if r.ch != nil {
		r.bus.Unsubscribe(r.ch)
	}
	r.wg.Wait()
}

// RecordLease persists a newly bound or renewed lease. A previous lease on
// the same interface holding a different address is archived first.
func (r *Recorder) RecordLease(l *Lease) {
	if prev := r.store.Current(l.Interface); prev != nil && !prev.Addr.Equal(l.Addr) {
		if err := r.store.Archive(prev); err != nil {
			r.logger.Error("archiving superseded lease failed",
				"interface", l.Interface,
				"addr", prev.Addr.String(),
				"error", err)
		}
	}

	if err := r.store.Save(l); err != nil {
		r.logger.Error("persisting lease failed",
			"interface", l.Interface,
			"addr", l.Addr.String(),
			"error", err)
		return
	}

	r.logger.Debug("lease persisted",
		"interface", l.Interface,
		"addr", l.Addr.String(),
		"expiry", l.Expiry)
}

func (r *Recorder) handleEvent(evt events.Event) {
	var state dhcpv4.LeaseState
	switch evt.Type {
	case events.EventLeaseReleased:
		state = dhcpv4.LeaseStateReleased
	case events.EventLeaseDeclined:
		state = dhcpv4.LeaseStateDeclined
	case events.EventLeaseExpired:
		state = dhcpv4.LeaseStateExpired
	default:
		return
	}
	if evt.Lease == nil || evt.Lease.Interface == "" {
		return
	}
	r.retire(evt.Lease.Interface, state)
}

// retire archives the active lease under its final state and drops it.
func (r *Recorder) retire(iface string, state dhcpv4.LeaseState) {
	l := r.store.Current(iface)
	if l == nil {
		return
	}

	l.State = state
	l.LastUpdated = time.Now()
	if err := r.store.Archive(l); err != nil {
		r.logger.Error("archiving lease failed",
			"interface", iface,
			"addr", l.Addr.String(),
			"error", err)
	}
	if err := r.store.Remove(iface); err != nil {
		r.logger.Error("removing lease failed",
			"interface", iface,
			"error", err)
		return
	}

	r.logger.Info("lease retired",
		"interface", iface,
		"addr", l.Addr.String(),
		"state", string(state))
}
