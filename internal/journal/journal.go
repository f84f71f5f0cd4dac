// Package journal keeps an append-only provisioning history in BoltDB:
// state transitions, lease lifecycle, conflicts, and rogue sightings, in
// the order they happened. Records are pruned by count and by age so the
// journal stays bounded on long-lived devices.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/athena-provd/athena-provd/internal/events"
	"github.com/athena-provd/athena-provd/internal/metrics"
)

var bucketJournal = []byte("journal")

// Record is one journal entry.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Interface string `json:"interface,omitempty"`
	IP        string `json:"ip,omitempty"`
	MAC       string `json:"mac,omitempty"`
	Server    string `json:"server,omitempty"`
	OldState  string `json:"old_state,omitempty"`
	NewState  string `json:"new_state,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// QueryParams filters a journal query. Zero fields match everything.
type QueryParams struct {
	Type  string
	From  time.Time
	To    time.Time
	Limit int // 0 means the default of 500
}

// Journal is a bus subscriber persisting provisioning records.
type Journal struct {
	db         *bolt.DB
	bus        *events.Bus
	logger     *slog.Logger
	maxRecords int
	retention  time.Duration

	ch   chan events.Event
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a journal in db. maxRecords bounds the record count;
// retention bounds record age. Either can be zero to disable that bound.
func New(db *bolt.DB, bus *events.Bus, maxRecords int, retention time.Duration, logger *slog.Logger) (*Journal, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJournal)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating journal bucket: %w", err)
	}

	return &Journal{
		db:         db,
		bus:        bus,
		logger:     logger,
		maxRecords: maxRecords,
		retention:  retention,
		done:       make(chan struct{}),
	}, nil
}

// Start subscribes to the event bus and begins recording.
func (j *Journal) Start() {
	j.ch = j.bus.Subscribe(2000)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case evt, ok := <-j.ch:
				if !ok {
					return
				}
				j.handleEvent(evt)
			case <-j.done:
				return
			}
		}
	}()
	j.logger.Info("provisioning journal started")
}

// Stop unsubscribes and waits for in-flight writes.
func (j *Journal) Stop() {
	close(j.done)
	if j.ch != nil {
		j.bus.Unsubscribe(j.ch)
	}
	j.wg.Wait()
	j.logger.Info("provisioning journal stopped")
}

// handleEvent converts a bus event into a journal record and persists it.
func (j *Journal) handleEvent(evt events.Event) {
	rec, ok := recordFromEvent(evt)
	if !ok {
		return
	}
	if err := j.Append(rec); err != nil {
		j.logger.Error("failed to write journal record",
			"type", rec.Type, "error", err)
	}
}

// recordFromEvent maps the journaled event types onto Record fields. Not
// every bus event is journaled; probe chatter and resolver health flaps
// would drown the provisioning history.
func recordFromEvent(evt events.Event) (Record, bool) {
	rec := Record{
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:      string(evt.Type),
		Reason:    evt.Reason,
	}

	switch evt.Type {
	case events.EventStateChange:
		if evt.State == nil {
			return rec, false
		}
		rec.Interface = evt.State.Interface
		rec.OldState = evt.State.Old
		rec.NewState = evt.State.New

	case events.EventLeaseAcquired, events.EventLeaseRenewed,
		events.EventLeaseReleased, events.EventLeaseDeclined,
		events.EventLeaseExpired, events.EventLeaseFailed:
		if evt.Lease == nil {
			return rec, false
		}
		l := evt.Lease
		rec.Interface = l.Interface
		if l.IP != nil {
			rec.IP = l.IP.String()
		}
		if l.MAC != nil {
			rec.MAC = l.MAC.String()
		}
		if l.Server != nil {
			rec.Server = l.Server.String()
		}

	case events.EventConflictDetected:
		if evt.Conflict == nil {
			return rec, false
		}
		rec.Interface = evt.Conflict.Interface
		rec.IP = evt.Conflict.IP
		rec.Detail = fmt.Sprintf("method=%s responder=%s",
			evt.Conflict.DetectionMethod, evt.Conflict.ResponderMAC)

	case events.EventRogueDetected:
		if evt.Rogue == nil {
			return rec, false
		}
		rec.Interface = evt.Rogue.Interface
		rec.Server = evt.Rogue.ServerIP
		rec.Detail = fmt.Sprintf("offered=%s count=%d",
			evt.Rogue.OfferedIP, evt.Rogue.Count)

	default:
		return rec, false
	}

	return rec, true
}

// Append persists one record under a time-ordered key and prunes.
func (j *Journal) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("bad record timestamp %q: %w", rec.Timestamp, err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling journal record: %w", err)
	}

	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)

		// Keys sort chronologically: nanosecond timestamp padded to fixed
		// width, with the record ID as a tiebreak for same-nanosecond
		// events.
		key := []byte(fmt.Sprintf("%020d-%s", ts.UnixNano(), rec.ID))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("storing journal record: %w", err)
		}
		return j.pruneLocked(b)
	})
	if err != nil {
		return err
	}

	metrics.JournalRecords.Inc()
	return nil
}

// pruneLocked removes records past the retention window and, after that,
// the oldest records above the count bound. Runs inside the write
// transaction that appended.
func (j *Journal) pruneLocked(b *bolt.Bucket) error {
	pruned := 0

	if j.retention > 0 {
		cutoff := []byte(fmt.Sprintf("%020d", time.Now().Add(-j.retention).UnixNano()))
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			pruned++
		}
	}

	if j.maxRecords > 0 {
		excess := b.Stats().KeyN + 1 - pruned - j.maxRecords
		c := b.Cursor()
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.First() {
			if err := c.Delete(); err != nil {
				return err
			}
			excess--
			pruned++
		}
	}

	if pruned > 0 {
		metrics.JournalPruned.Add(float64(pruned))
	}
	return nil
}

// Query returns matching records, newest first.
func (j *Journal) Query(params QueryParams) ([]Record, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 500
	}

	var results []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJournal).Cursor()
		for k, v := c.Last(); k != nil && len(results) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if !matchesQuery(rec, params) {
				continue
			}
			results = append(results, rec)
		}
		return nil
	})
	return results, err
}

// Count returns the number of stored records.
func (j *Journal) Count() int {
	var count int
	j.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketJournal).Stats().KeyN
		return nil
	})
	return count
}

func matchesQuery(rec Record, params QueryParams) bool {
	if params.Type != "" && rec.Type != params.Type {
		return false
	}
	if params.From.IsZero() && params.To.IsZero() {
		return true
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return false
	}
	if !params.From.IsZero() && ts.Before(params.From) {
		return false
	}
	if !params.To.IsZero() && ts.After(params.To) {
		return false
	}
	return true
}
