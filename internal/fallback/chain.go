// Package fallback tries an ordered list of alternative strategies for one
// logical operation, each through the retry executor, until one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zulandar/reelyard/internal/metrics"
	"github.com/zulandar/reelyard/internal/resilience"
)

// Strategy is one way of performing the operation.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Failure records one strategy that did not succeed.
type Failure struct {
	Strategy string
	Class    resilience.ErrorClass
	Err      error
}

// Result is the winning value plus the strategies that failed before it.
type Result[T any] struct {
	Value    T
	Strategy string
	Failures []Failure
}

// ExhaustedError is returned when no strategy succeeded. It unwraps to the
// most recent strategy error.
type ExhaustedError struct {
	Family   string
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("fallback: %s: no strategies to try", e.Family)
	}
	last := e.Failures[len(e.Failures)-1]
	return fmt.Sprintf("fallback: %s: all %d strategies failed, last (%s): %v",
		e.Family, len(e.Failures), last.Strategy, last.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

// Chain runs strategies in order for one operation family.
type Chain[T any] struct {
	Family  string
	Policy  resilience.Policy
	Breaker *resilience.Breaker

	// Classify defaults to resilience.ClassifyError.
	Classify resilience.Classifier

	// Continue decides whether a failed strategy moves on to the next one.
	// The default stops on not_found and continues on everything else.
	Continue func(class resilience.ErrorClass, err error) bool

	// Invalidate is called after a token-class failure, before the next
	// strategy runs, so the dead credential is not reused.
	Invalidate func(ctx context.Context, strategy string, err error)

	// RetryOptions are appended to every resilience.Do call.
	RetryOptions []resilience.Option

	Logger *slog.Logger
}

// Run tries each strategy in order and returns the first success. Strategies
// after the winner are never invoked.
func (c *Chain[T]) Run(ctx context.Context, strategies []Strategy[T]) (Result[T], error) {
	classify := c.Classify
	if classify == nil {
		classify = resilience.ClassifyError
	}
	cont := c.Continue
	if cont == nil {
		cont = continueUnlessNotFound
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []resilience.Option{
		resilience.WithFamily(c.Family),
		resilience.WithClassifier(classify),
		resilience.AbortOn(resilience.ClassToken),
	}
	if c.Breaker != nil {
		opts = append(opts, resilience.WithBreaker(c.Breaker))
	}
	opts = append(opts, c.RetryOptions...)

	var res Result[T]
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		v, err := resilience.Do(ctx, c.Policy, s.Run, opts...)
		if err == nil {
			res.Value = v
			res.Strategy = s.Name
			if len(res.Failures) > 0 {
				logger.Info("fallback strategy succeeded", "family", c.Family, "strategy", s.Name, "failed_before", len(res.Failures))
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		class := classify(err)
		res.Failures = append(res.Failures, Failure{Strategy: s.Name, Class: class, Err: err})
		metrics.StrategyFailures.WithLabelValues(c.Family, s.Name, string(class)).Inc()
		logger.Warn("fallback strategy failed", "family", c.Family, "strategy", s.Name, "class", class, "error", err)

		if class == resilience.ClassToken && c.Invalidate != nil {
			c.Invalidate(ctx, s.Name, err)
		}
		if !cont(class, err) {
			return res, err
		}
	}
	return res, &ExhaustedError{Family: c.Family, Failures: res.Failures}
}

func continueUnlessNotFound(class resilience.ErrorClass, _ error) bool {
	return class != resilience.ClassNotFound
}

// FilterEnabled keeps the names in order, dropping disabled ones and duplicates.
func FilterEnabled(order, disabled []string) []string {
	var out []string
	for _, n := range order {
		if slices.Contains(disabled, n) || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// IsExhausted reports whether err came from a chain that ran out of strategies.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}
