package dhcp

import (
	"sync"
	"time"
)

// timerToken names the alarms the state machine schedules. Each token has
// at most one pending timer; rescheduling a token replaces it.
type timerToken int

const (
	timerRetransmit timerToken = iota + 1 // next DISCOVER/REQUEST resend
	timerOverall                          // terminal per-state deadline
	timerRenew                            // renewal point while bound
	timerExpiry                           // hard lease expiry
)

func (t timerToken) String() string {
	switch t {
	case timerRetransmit:
		return "retransmit"
	case timerOverall:
		return "overall"
	case timerRenew:
		return "renew"
	case timerExpiry:
		return "expiry"
	default:
		return "unknown"
	}
}

// scheduler delivers one-shot, token-keyed alarms into the state machine's
// event stream. A fire carries the generation it was armed with, so a
// consumer can discard fires that raced a cancel.
type scheduler struct {
	mu      sync.Mutex
	seq     uint64
	pending map[timerToken]*pendingTimer
	deliver func(token timerToken, gen uint64)
}

type pendingTimer struct {
	gen   uint64
	timer *time.Timer
}

func newScheduler(deliver func(timerToken, uint64)) *scheduler {
	return &scheduler{
		pending: make(map[timerToken]*pendingTimer),
		deliver: deliver,
	}
}

// Schedule arms the token to fire once after d, replacing any pending
// timer for the same token. It returns the generation of the new arm.
func (s *scheduler) Schedule(token timerToken, d time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[token]; ok {
		p.timer.Stop()
	}
	s.seq++
	gen := s.seq
	s.pending[token] = &pendingTimer{
		gen: gen,
		timer: time.AfterFunc(d, func() {
			s.fire(token, gen)
		}),
	}
	return gen
}

func (s *scheduler) fire(token timerToken, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[token]
	if !ok || p.gen != gen {
		// Canceled or re-armed after this fire was queued.
		s.mu.Unlock()
		return
	}
	delete(s.pending, token)
	s.mu.Unlock()

	s.deliver(token, gen)
}

// Cancel disarms the token if pending.
func (s *scheduler) Cancel(token timerToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[token]; ok {
		p.timer.Stop()
		delete(s.pending, token)
	}
}

// CancelAll disarms every pending token.
func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, token)
	}
}
