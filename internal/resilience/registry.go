package resilience

import (
	"sort"
	"sync"

	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/metrics"
)

// Registry lazily creates one Breaker per operation family and keeps it for
// the life of the process.
type Registry struct {
	cfg config.ResilienceConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry using cfg for thresholds.
func NewRegistry(cfg config.ResilienceConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Breaker returns the breaker for family, creating it on first use.
func (r *Registry) Breaker(family string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[family]; ok {
		return b
	}
	bc := r.cfg.BreakerFor(family)
	b := NewBreaker(family, BreakerSettings{
		FailureThreshold: bc.FailureThreshold,
		Cooldown:         bc.Cooldown,
		SuccessThreshold: bc.SuccessThreshold,
	}, OnStateChange(recordTransition))
	metrics.BreakerState.WithLabelValues(family).Set(stateValue(StateClosed))
	r.breakers[family] = b
	return b
}

// Policy returns the retry policy for family.
func (r *Registry) Policy(family string) Policy {
	return PolicyFrom(r.cfg.RetryFor(family))
}

// Snapshots returns every breaker's state, sorted by name.
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func recordTransition(name string, from, to State) {
	metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
	metrics.BreakerTransitions.WithLabelValues(name, string(from), string(to)).Inc()
}

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
