package lease

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// BoltDB bucket names. One database file backs the whole daemon; other
// subsystems create their own buckets through DB().
var (
	bucketCurrent = []byte("lease_current")
	bucketHistory = []byte("lease_history")
	bucketMeta    = []byte("meta")
)

const defaultHistoryLimit = 50

// Store persists the active lease per interface plus a bounded history of
// superseded leases, with the active set mirrored in memory for lock-cheap
// reads.
type Store struct {
	db           *bolt.DB
	mu           sync.RWMutex
	current      map[string]*Lease // interface name → active lease
	historyLimit int
}

// NewStore opens or creates the state database and loads active leases
// into memory. historyLimit bounds the archived leases kept per interface;
// zero or negative selects the default.
func NewStore(path string, historyLimit int) (*Store, error) {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("opening state database %s: %w", path, err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCurrent, bucketHistory, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing database buckets: %w", err)
	}

	s := &Store{
		db:           db,
		current:      make(map[string]*Lease),
		historyLimit: historyLimit,
	}

	// Load active leases into memory
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading leases from database: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// loadAll reads all active leases from BoltDB into memory.
func (s *Store) loadAll() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		return b.ForEach(func(k, v []byte) error {
			l := &Lease{}
			if err := json.Unmarshal(v, l); err != nil {
				return fmt.Errorf("unmarshalling lease %s: %w", k, err)
			}
			s.current[l.Interface] = l
			return nil
		})
	})
}

// Save stores the active lease for its interface, replacing any previous
// one.
func (s *Store) Save(l *Lease) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshalling lease for %s: %w", l.Interface, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		if err := b.Put([]byte(l.Key()), data); err != nil {
			return fmt.Errorf("writing lease for %s: %w", l.Interface, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current[l.Interface] = l
	s.mu.Unlock()

	return nil
}

// Remove drops the active lease for an interface. History is untouched.
func (s *Store) Remove(iface string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrent)
		if err := b.Delete([]byte(iface)); err != nil {
			return fmt.Errorf("deleting lease for %s: %w", iface, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.current, iface)
	s.mu.Unlock()

	return nil
}

// Archive appends a lease to the interface's history, trimming the oldest
// entries beyond the configured bound.
func (s *Store) Archive(l *Lease) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshalling lease for %s: %w", l.Interface, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		ib, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(l.Interface))
		if err != nil {
			return fmt.Errorf("creating history bucket for %s: %w", l.Interface, err)
		}

		seq, err := ib.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating history sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := ib.Put(key, data); err != nil {
			return fmt.Errorf("writing history entry for %s: %w", l.Interface, err)
		}

		n := 0
		c := ib.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		for k, _ := c.First(); k != nil && n > s.historyLimit; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return fmt.Errorf("pruning history for %s: %w", l.Interface, err)
			}
			n--
		}
		return nil
	})
}

// Current returns the active lease for an interface, or nil.
func (s *Store) Current(iface string) *Lease {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.current[iface]
	if !ok {
		return nil
	}
	return l.Clone()
}

// All returns the active leases for every interface (cloned).
func (s *Store) All() []*Lease {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leases := make([]*Lease, 0, len(s.current))
	for _, l := range s.current {
		leases = append(leases, l.Clone())
	}
	return leases
}

// Count returns the number of interfaces holding an active lease.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}

// History returns archived leases for an interface, newest first. limit
// caps the result when positive.
func (s *Store) History(iface string, limit int) ([]*Lease, error) {
	var out []*Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket(bucketHistory).Bucket([]byte(iface))
		if ib == nil {
			return nil
		}
		c := ib.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			l := &Lease{}
			if err := json.Unmarshal(v, l); err != nil {
				return fmt.Errorf("unmarshalling history entry %x: %w", k, err)
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

// DB returns the underlying BoltDB instance (for the journal, rogue
// tracker, etc.).
func (s *Store) DB() *bolt.DB {
	return s.db
}
