package resilience

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zulandar/reelyard/internal/config"
	"github.com/zulandar/reelyard/internal/metrics"
)

// Policy bounds one retried operation.
type Policy struct {
	MaxAttempts    int
	Backoff        Backoff
	AttemptTimeout time.Duration
}

// PolicyFrom converts a config retry block into a Policy.
func PolicyFrom(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: c.MaxAttempts,
		Backoff: Backoff{
			Base:   c.BaseDelay,
			Max:    c.MaxDelay,
			Jitter: c.JitterEnabled(),
		},
		AttemptTimeout: c.AttemptTimeout,
	}
}

// RetryEvent describes one failed attempt that will be retried.
type RetryEvent struct {
	Family  string
	Attempt int
	Class   ErrorClass
	Delay   time.Duration
	Err     error
}

type retryOptions struct {
	family   string
	breaker  *Breaker
	classify Classifier
	abortOn  []ErrorClass
	abortIf  func(error) bool
	exempt   func(error) bool
	sleep    func(ctx context.Context, d time.Duration) error
	onRetry  func(RetryEvent)
}

// Option customises Do.
type Option func(*retryOptions)

// WithBreaker routes every attempt through b.
func WithBreaker(b *Breaker) Option {
	return func(o *retryOptions) { o.breaker = b }
}

// WithClassifier replaces ClassifyError.
func WithClassifier(c Classifier) Option {
	return func(o *retryOptions) { o.classify = c }
}

// WithFamily labels attempts for metrics and retry events.
func WithFamily(name string) Option {
	return func(o *retryOptions) { o.family = name }
}

// AbortOn adds classes that stop retrying immediately. not_found always does.
func AbortOn(classes ...ErrorClass) Option {
	return func(o *retryOptions) { o.abortOn = append(o.abortOn, classes...) }
}

// AbortIf stops retrying immediately when fn reports true for a failure.
func AbortIf(fn func(error) bool) Option {
	return func(o *retryOptions) { o.abortIf = fn }
}

// BreakerExempt keeps failures for which fn reports true out of the
// breaker's counts. They are still classified, retried and returned.
func BreakerExempt(fn func(error) bool) Option {
	return func(o *retryOptions) { o.exempt = fn }
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *retryOptions) { o.sleep = fn }
}

// OnRetry registers a hook called before each backoff sleep.
func OnRetry(fn func(RetryEvent)) Option {
	return func(o *retryOptions) { o.onRetry = fn }
}

// Do runs op up to p.MaxAttempts times. A not_found failure, or one of the
// AbortOn classes, returns immediately. When attempts run out the last error
// is returned wrapped.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := retryOptions{
		family:   "default",
		classify: ClassifyError,
		abortOn:  []ErrorClass{ClassNotFound},
		sleep:    sleepContext,
	}
	for _, fn := range opts {
		fn(&o)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := attemptOnce(ctx, p.AttemptTimeout, o, op)
		if err == nil {
			metrics.OperationAttempts.WithLabelValues(o.family, "success").Inc()
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		class := o.classify(err)
		metrics.OperationAttempts.WithLabelValues(o.family, string(class)).Inc()
		if slices.Contains(o.abortOn, class) || (o.abortIf != nil && o.abortIf(err)) {
			return zero, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := p.Backoff.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(RetryEvent{Family: o.family, Attempt: attempt + 1, Class: class, Delay: delay, Err: err})
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("resilience: %s failed after %d attempts: %w", o.family, maxAttempts, lastErr)
}

func attemptOnce[T any](ctx context.Context, timeout time.Duration, o retryOptions, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	b := o.breaker
	if b != nil {
		if err := b.Allow(); err != nil {
			return zero, err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := op(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	if b != nil {
		switch {
		case err == nil:
			b.RecordSuccess()
		case o.exempt != nil && o.exempt(err):
		default:
			b.RecordFailureClass(o.classify(err))
		}
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
