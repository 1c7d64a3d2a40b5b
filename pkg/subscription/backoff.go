package subscription

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Initial * Multiplier^attempt, capped at
// Max, then spread by +/- Jitter (a fraction of the delay).
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

var DefaultBackoff = Backoff{
	Initial:    250 * time.Millisecond,
	Max:        15 * time.Second,
	Multiplier: 2,
	Jitter:     0.2,
}

// Next returns the delay before reconnect attempt n (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Initial) * math.Pow(mult, float64(max(attempt, 0)))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		spread := d * min(b.Jitter, 1)
		d += spread * (2*rand.Float64() - 1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}
