package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns min(base*2^attempt, max). With jitter the result is sampled
// uniformly from [0, delay].
func Delay(attempt int, base, max time.Duration, jitter bool) time.Duration {
	d := capped(attempt, base, max)
	if !jitter || d <= 0 {
		return d
	}
	return time.Duration(rand.Float64() * float64(d))
}

// SeededDelay is Delay with full jitter drawn from a generator seeded by
// (seed, attempt), so the same pair always yields the same delay.
func SeededDelay(seed uint64, attempt int, base, max time.Duration) time.Duration {
	d := capped(attempt, base, max)
	if d <= 0 {
		return d
	}
	r := rand.New(rand.NewPCG(seed, uint64(attempt)))
	return time.Duration(r.Float64() * float64(d))
}

func capped(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && d > float64(max) {
		return max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Backoff bundles delay parameters. A non-nil Seed makes jittered delays
// deterministic.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool
	Seed   *uint64
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Jitter && b.Seed != nil {
		return SeededDelay(*b.Seed, attempt, b.Base, b.Max)
	}
	return Delay(attempt, b.Base, b.Max, b.Jitter)
}
