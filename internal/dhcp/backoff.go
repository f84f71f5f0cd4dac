package dhcp

import (
	"math/rand"
	"time"
)

// jitterFraction bounds the random skew applied to every retransmission
// delay: each fire lands within ±10% of the scheduled value.
const jitterFraction = 0.10

// backoff produces the retransmission schedule for a single acquisition
// attempt: the base delay doubles from an initial value up to a cap, and
// each concrete delay is skewed by up to ±10% so retry storms from many
// clients do not synchronize.
type backoff struct {
	initial time.Duration
	max     time.Duration
	n       int // retransmissions scheduled so far
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max}
}

// Reset rewinds the schedule to the initial delay.
func (b *backoff) Reset() {
	b.n = 0
}

// Next returns the jittered delay until the next retransmission and
// advances the schedule.
func (b *backoff) Next() time.Duration {
	b.n++
	return jitter(nthDelay(b.initial, b.max, b.n))
}

// nthDelay returns the un-jittered delay for the nth retransmission
// (1-based): min(initial * 2^(n-1), max).
func nthDelay(initial, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := initial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// jitter skews d by a uniform random factor within ±jitterFraction.
func jitter(d time.Duration) time.Duration {
	f := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(float64(d) * f)
}
