package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is matched by every rejection from an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError is returned when a call is rejected without being attempted.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("resilience: circuit %q open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is ErrCircuitOpen.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// BreakerSettings are the thresholds for one breaker.
type BreakerSettings struct {
	FailureThreshold int
	Cooldown         time.Duration
	SuccessThreshold int
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastChanged time.Time `json:"last_changed"`
}

// Breaker is a closed/open/half_open circuit breaker for one operation
// family. All state access is serialised by mu.
type Breaker struct {
	name     string
	settings BreakerSettings
	classify Classifier
	now      func() time.Time
	onChange func(name string, from, to State)

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastChanged time.Time
}

// BreakerOption customises a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides time.Now, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithBreakerClassifier overrides ClassifyError.
func WithBreakerClassifier(c Classifier) BreakerOption {
	return func(b *Breaker) { b.classify = c }
}

// OnStateChange registers a callback invoked (under the lock) on every transition.
func OnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker returns a closed breaker. Non-positive thresholds default to 1.
func NewBreaker(name string, s BreakerSettings, opts ...BreakerOption) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 1
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 1
	}
	b := &Breaker{
		name:     name,
		settings: s,
		classify: ClassifyError,
		now:      time.Now,
		state:    StateClosed,
	}
	for _, o := range opts {
		o(b)
	}
	b.lastChanged = b.now()
	return b
}

// Name returns the operation family this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastChanged: b.lastChanged,
	}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half_open and allows the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	elapsed := b.now().Sub(b.lastChanged)
	if elapsed >= b.settings.Cooldown {
		b.transition(StateHalfOpen)
		return nil
	}
	return &OpenError{Name: b.name, RetryAfter: b.settings.Cooldown - elapsed}
}

// RecordSuccess counts a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure classifies err and counts it if its class counts toward the breaker.
func (b *Breaker) RecordFailure(err error) {
	b.RecordFailureClass(b.classify(err))
}

// RecordFailureClass counts a failure that has already been classified.
func (b *Breaker) RecordFailureClass(class ErrorClass) {
	if !class.CountsTowardBreaker() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastChanged = b.now()
	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	case StateOpen:
		b.successes = 0
	}
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}
