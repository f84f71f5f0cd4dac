package dhcp

import (
	"sync"
	"testing"
	"time"
)

type timerRecorder struct {
	mu    sync.Mutex
	fires []timerToken
	gens  []uint64
	ch    chan struct{}
}

func newTimerRecorder() *timerRecorder {
	return &timerRecorder{ch: make(chan struct{}, 16)}
}

func (r *timerRecorder) deliver(token timerToken, gen uint64) {
	r.mu.Lock()
	r.fires = append(r.fires, token)
	r.gens = append(r.gens, gen)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *timerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func (r *timerRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire before deadline")
	}
}

func TestSchedulerFires(t *testing.T) {
	rec := newTimerRecorder()
	s := newScheduler(rec.deliver)
	defer s.CancelAll()

	gen := s.Schedule(timerRetransmit, 10*time.Millisecond)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fires) != 1 || rec.fires[0] != timerRetransmit {
		t.Fatalf("fires = %v, want [retransmit]", rec.fires)
	}
	if rec.gens[0] != gen {
		t.Errorf("fired gen = %d, want %d", rec.gens[0], gen)
	}
}

func TestSchedulerCancel(t *testing.T) {
	rec := newTimerRecorder()
	s := newScheduler(rec.deliver)
	defer s.CancelAll()

	s.Schedule(timerOverall, 20*time.Millisecond)
	s.Cancel(timerOverall)

	time.Sleep(60 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("cancelled timer fired %d times", rec.count())
	}
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	rec := newTimerRecorder()
	s := newScheduler(rec.deliver)
	defer s.CancelAll()

	first := s.Schedule(timerRetransmit, 15*time.Millisecond)
	second := s.Schedule(timerRetransmit, 30*time.Millisecond)
	if second == first {
		t.Fatal("reschedule did not advance the generation")
	}

	rec.wait(t)
	time.Sleep(60 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.fires) != 1 {
		t.Fatalf("fires = %d, want 1 (replaced timer must not fire)", len(rec.fires))
	}
	if rec.gens[0] != second {
		t.Errorf("fired gen = %d, want %d (the replacement)", rec.gens[0], second)
	}
}

func TestSchedulerIndependentTokens(t *testing.T) {
	rec := newTimerRecorder()
	s := newScheduler(rec.deliver)
	defer s.CancelAll()

	s.Schedule(timerRetransmit, 10*time.Millisecond)
	s.Schedule(timerOverall, 10*time.Millisecond)

	rec.wait(t)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := map[timerToken]bool{}
	for _, tok := range rec.fires {
		seen[tok] = true
	}
	if !seen[timerRetransmit] || !seen[timerOverall] {
		t.Errorf("fired tokens = %v, want both retransmit and overall", rec.fires)
	}
}

func TestSchedulerCancelAll(t *testing.T) {
	rec := newTimerRecorder()
	s := newScheduler(rec.deliver)

	s.Schedule(timerRetransmit, 20*time.Millisecond)
	s.Schedule(timerOverall, 20*time.Millisecond)
	s.Schedule(timerRenew, 20*time.Millisecond)
	s.CancelAll()

	time.Sleep(60 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("timers fired after CancelAll: %d", rec.count())
	}
}
