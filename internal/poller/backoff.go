package poller

import "time"

// Defaults for the status polling interval.
const (
	DefaultInitial = 200 * time.Millisecond
	DefaultMax     = 1000 * time.Millisecond
	DefaultFactor  = 1.3
)

// Backoff is a bounded exponential interval: Initial, then ×Factor after every
// non-terminal observation, never above Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff returns 200ms ×1.3 capped at 1s.
func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitial, Max: DefaultMax, Factor: DefaultFactor}
}

func (b Backoff) normalized() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultInitial
	}
	if b.Max <= 0 {
		b.Max = DefaultMax
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	return b
}

// First returns the first interval.
func (b Backoff) First() time.Duration {
	return b.normalized().Initial
}

// Next returns the interval that follows cur. The sequence is non-decreasing
// and capped at Max.
func (b Backoff) Next(cur time.Duration) time.Duration {
	b = b.normalized()
	if cur < b.Initial {
		return b.Initial
	}
	next := time.Duration(float64(cur) * b.Factor)
	if next > b.Max || next < cur {
		return b.Max
	}
	return next
}

// Schedule returns the first n intervals.
func (b Backoff) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	cur := b.First()
	for range n {
		out = append(out, cur)
		cur = b.Next(cur)
	}
	return out
}
