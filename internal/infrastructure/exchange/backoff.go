package exchange

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays that double per attempt up to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func NewBackoff(base, max time.Duration) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return Backoff{Base: base, Max: max}
}

// Delay returns the deterministic delay for a zero-based attempt number.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Jittered adds up to 25% random slack on top of Delay so reconnecting
// clients do not stampede the endpoint in lockstep.
func (b Backoff) Jittered(attempt int) time.Duration {
	d := b.Delay(attempt)
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
