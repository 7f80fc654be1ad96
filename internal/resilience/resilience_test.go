package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/zulandar/reelyard/internal/config"
)

type cmdErr struct {
	code   int
	output string
}

func (e *cmdErr) Error() string  { return fmt.Sprintf("exit status %d", e.code) }
func (e *cmdErr) ExitCode() int  { return e.code }
func (e *cmdErr) Output() string { return e.output }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), ClassTimeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, ClassNetwork},
		{"unexpected eof", io.ErrUnexpectedEOF, ClassNetwork},
		{"exit 124", &cmdErr{code: 124}, ClassTimeout},
		{"po token", &cmdErr{code: 1, output: "ERROR: The provided PO Token is invalid"}, ClassToken},
		{"unavailable", &cmdErr{code: 1, output: "ERROR: [youtube] x: Video unavailable"}, ClassNotFound},
		{"private", errors.New("Private video. Sign in if you've been granted access"), ClassNotFound},
		{"429", &cmdErr{code: 1, output: "HTTP Error 429: Too Many Requests"}, ClassThrottle},
		{"bot check", &cmdErr{code: 1, output: "Sign in to confirm you're not a bot"}, ClassAuth},
		{"403", errors.New("HTTP Error 403: Forbidden"), ClassAuth},
		{"reset", errors.New("read tcp: connection reset by peer"), ClassNetwork},
		{"503", errors.New("HTTP Error 503: Service Unavailable"), ClassNetwork},
		{"timed out", errors.New("read timed out"), ClassTimeout},
		{"other", errors.New("something odd"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestCountsTowardBreaker(t *testing.T) {
	for _, c := range []ErrorClass{ClassNotFound, ClassToken} {
		if c.CountsTowardBreaker() {
			t.Errorf("%s should not count toward the breaker", c)
		}
	}
	for _, c := range []ErrorClass{ClassNetwork, ClassThrottle, ClassAuth, ClassTimeout, ClassUnknown} {
		if !c.CountsTowardBreaker() {
			t.Errorf("%s should count toward the breaker", c)
		}
	}
}

func TestDelay_MonotonicAndCapped(t *testing.T) {
	base, max := 100*time.Millisecond, 5*time.Second
	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := Delay(attempt, base, max, false)
		if d < prev {
			t.Fatalf("attempt %d: delay %v < previous %v", attempt, d, prev)
		}
		if d > max {
			t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, max)
		}
		prev = d
	}
	if got := Delay(0, base, max, false); got != base {
		t.Errorf("Delay(0) = %v, want %v", got, base)
	}
	if got := Delay(3, base, max, false); got != 800*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 800ms", got)
	}
	if got := Delay(200, base, max, false); got != max {
		t.Errorf("Delay(200) = %v, want cap", got)
	}
}

func TestDelay_JitterWithinBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		ceiling := Delay(attempt, time.Second, 10*time.Second, false)
		for i := 0; i < 50; i++ {
			d := Delay(attempt, time.Second, 10*time.Second, true)
			if d < 0 || d > ceiling {
				t.Fatalf("attempt %d: jittered %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestSeededDelay_Deterministic(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		a := SeededDelay(42, attempt, time.Second, time.Minute)
		b := SeededDelay(42, attempt, time.Second, time.Minute)
		if a != b {
			t.Errorf("attempt %d: %v != %v for the same seed", attempt, a, b)
		}
		if a > Delay(attempt, time.Second, time.Minute, false) {
			t.Errorf("attempt %d: seeded delay %v above ceiling", attempt, a)
		}
	}

	seed := uint64(7)
	bo := Backoff{Base: time.Second, Max: time.Minute, Jitter: true, Seed: &seed}
	if bo.Delay(3) != SeededDelay(7, 3, time.Second, time.Minute) {
		t.Error("Backoff with Seed should use SeededDelay")
	}
	differs := false
	for attempt := 0; attempt < 8; attempt++ {
		if SeededDelay(1, attempt, time.Second, time.Minute) != SeededDelay(2, attempt, time.Second, time.Minute) {
			differs = true
		}
	}
	if !differs {
		t.Error("different seeds should give different delays")
	}
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_Transitions(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []string
	b := NewBreaker("download", BreakerSettings{FailureThreshold: 3, Cooldown: time.Minute, SuccessThreshold: 2},
		WithBreakerClock(clock.now),
		OnStateChange(func(_ string, from, to State) { changes = append(changes, string(from)+">"+string(to)) }))

	netErr := errors.New("connection reset by peer")
	b.RecordFailure(netErr)
	b.RecordFailure(netErr)
	if b.State() != StateClosed {
		t.Fatalf("state = %s after 2 failures, want closed", b.State())
	}
	b.RecordFailure(netErr)
	if b.State() != StateOpen {
		t.Fatalf("state = %s after threshold, want open", b.State())
	}

	err := b.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.RetryAfter != time.Minute {
		t.Errorf("OpenError = %+v", oe)
	}

	clock.advance(time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	// A half-open failure reopens immediately.
	b.RecordFailure(netErr)
	if b.State() != StateOpen {
		t.Fatalf("state = %s after half-open failure, want open", b.State())
	}

	clock.advance(time.Minute)
	b.Allow()
	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s after 1 success, want half_open", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s after success threshold, want closed", b.State())
	}

	want := []string{"closed>open", "open>half_open", "half_open>open", "open>half_open", "half_open>closed"}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", changes, want)
	}
}

func TestBreaker_IgnoresNotFoundAndToken(t *testing.T) {
	b := NewBreaker("metadata", BreakerSettings{FailureThreshold: 1, Cooldown: time.Minute})
	b.RecordFailure(errors.New("Video unavailable"))
	b.RecordFailure(errors.New("PO Token expired"))
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
	if s := b.Snapshot(); s.Failures != 0 {
		t.Errorf("failures = %d, want 0", s.Failures)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("x", BreakerSettings{FailureThreshold: 2, Cooldown: time.Minute})
	b.RecordFailure(errors.New("timeout"))
	b.RecordSuccess()
	b.RecordFailure(errors.New("timeout"))
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed (failures are consecutive)", b.State())
	}
}

func TestBreaker_Execute(t *testing.T) {
	b := NewBreaker("x", BreakerSettings{FailureThreshold: 1, Cooldown: time.Hour})
	calls := 0
	fail := func() error { calls++; return errors.New("connection refused") }
	b.Execute(fail)
	if err := b.Execute(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute on open breaker = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var events []RetryEvent
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Backoff{Base: time.Second, Max: time.Minute}},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("HTTP Error 503")
			}
			return "ok", nil
		},
		WithFamily("metadata"), WithSleep(noSleep), OnRetry(func(e RetryEvent) { events = append(events, e) }))
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if len(events) != 2 {
		t.Fatalf("retry events = %d, want 2", len(events))
	}
	if events[0].Delay != time.Second || events[1].Delay != 2*time.Second {
		t.Errorf("delays = %v, %v", events[0].Delay, events[1].Delay)
	}
	if events[0].Class != ClassNetwork || events[0].Family != "metadata" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3},
		func(context.Context) (int, error) { calls++; return 0, errors.New("timed out") },
		WithFamily("download"), WithSleep(noSleep))
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err == nil || err.Error() != "resilience: download failed after 3 attempts: timed out" {
		t.Errorf("err = %v", err)
	}
}

func TestDo_NotFoundAbortsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5},
		func(context.Context) (int, error) { calls++; return 0, errors.New("HTTP Error 404: Not Found") },
		WithSleep(noSleep))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if ClassifyError(err) != ClassNotFound {
		t.Errorf("err = %v, want the not_found error unwrapped", err)
	}
}

func TestDo_AbortOnAndAbortIf(t *testing.T) {
	sentinel := errors.New("model crashed")
	calls := 0
	Do(context.Background(), Policy{MaxAttempts: 5},
		func(context.Context) (int, error) { calls++; return 0, errors.New("PO Token expired") },
		WithSleep(noSleep), AbortOn(ClassToken))
	if calls != 1 {
		t.Errorf("AbortOn: calls = %d, want 1", calls)
	}

	calls = 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5},
		func(context.Context) (int, error) { calls++; return 0, sentinel },
		WithSleep(noSleep), AbortIf(func(err error) bool { return errors.Is(err, sentinel) }))
	if calls != 1 || !errors.Is(err, sentinel) {
		t.Errorf("AbortIf: calls = %d, err = %v", calls, err)
	}
}

func TestDo_BreakerOpensAndRejects(t *testing.T) {
	b := NewBreaker("download", BreakerSettings{FailureThreshold: 2, Cooldown: time.Hour})
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 4},
		func(context.Context) (int, error) { calls++; return 0, errors.New("connection reset") },
		WithBreaker(b), WithSleep(noSleep))
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (breaker opens after threshold)", calls)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestDo_BreakerExemptFailuresNotCounted(t *testing.T) {
	hostErr := errors.New("CUDA out of memory")
	b := NewBreaker("transcribe", BreakerSettings{FailureThreshold: 2, Cooldown: time.Hour})
	exempt := BreakerExempt(func(err error) bool { return errors.Is(err, hostErr) })

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), Policy{MaxAttempts: 1},
			func(context.Context) (int, error) { return 0, hostErr },
			WithBreaker(b), exempt)
		if !errors.Is(err, hostErr) {
			t.Fatalf("call %d: err = %v, want the exempt error returned", i, err)
		}
	}
	if snap := b.Snapshot(); snap.State != StateClosed || snap.Failures != 0 {
		t.Fatalf("breaker = %s with %d failures after exempt errors", snap.State, snap.Failures)
	}

	calls := 0
	Do(context.Background(), Policy{MaxAttempts: 3},
		func(context.Context) (int, error) { calls++; return 0, errors.New("connection reset") },
		WithBreaker(b), exempt, WithSleep(noSleep))
	if calls != 2 || b.State() != StateOpen {
		t.Errorf("calls = %d, state = %s; other failures should still open the breaker", calls, b.State())
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	_, err := Do(context.Background(), Policy{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, errors.New("killed")
		})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if ClassifyError(err) != ClassTimeout {
		t.Errorf("class = %s, want timeout", ClassifyError(err))
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context) (int, error) { calls++; return 0, nil })
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRegistry(t *testing.T) {
	cfg := config.ResilienceConfig{
		Retry:   config.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
		Breaker: config.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute},
		Operations: map[string]config.RetryConfig{
			"download": {MaxAttempts: 7},
		},
		Breakers: map[string]config.BreakerConfig{
			"transcribe": {FailureThreshold: 1},
		},
	}
	reg := NewRegistry(cfg)

	if reg.Breaker("download") != reg.Breaker("download") {
		t.Error("Breaker should return the same instance per family")
	}
	if p := reg.Policy("download"); p.MaxAttempts != 7 || p.Backoff.Base != time.Second || !p.Backoff.Jitter {
		t.Errorf("Policy(download) = %+v", p)
	}

	tb := reg.Breaker("transcribe")
	tb.RecordFailure(errors.New("timeout"))
	if tb.State() != StateOpen {
		t.Errorf("transcribe breaker = %s, want open after one failure", tb.State())
	}

	snaps := reg.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "download" || snaps[1].Name != "transcribe" {
		t.Errorf("snapshots = %+v", snaps)
	}
}
