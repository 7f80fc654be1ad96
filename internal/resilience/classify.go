// Package resilience runs external operations with error classification,
// exponential backoff, and per-family circuit breaking.
package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorClass is the taxonomy every retry and breaker decision is keyed on.
type ErrorClass string

const (
	ClassNetwork  ErrorClass = "network"
	ClassThrottle ErrorClass = "throttle"
	ClassAuth     ErrorClass = "auth"
	ClassToken    ErrorClass = "token"
	ClassNotFound ErrorClass = "not_found"
	ClassTimeout  ErrorClass = "timeout"
	ClassUnknown  ErrorClass = "unknown"
)

// CountsTowardBreaker reports whether a failure of this class is evidence
// that the remote service is unhealthy.
func (c ErrorClass) CountsTowardBreaker() bool {
	return c != ClassNotFound && c != ClassToken
}

// Classifier maps a failed operation's error to an ErrorClass.
type Classifier func(err error) ErrorClass

// CommandFailure is implemented by errors that carry a subprocess exit code
// and captured output.
type CommandFailure interface {
	error
	ExitCode() int
	Output() string
}

// textRules are checked in order; the first class with a matching needle wins.
var textRules = []struct {
	class   ErrorClass
	needles []string
}{
	{ClassToken, []string{
		"po token", "po_token", "potoken", "invalid token", "token expired",
		"token has expired", "token is invalid", "visitor data",
	}},
	{ClassNotFound, []string{
		"video unavailable", "private video", "has been removed", "does not exist",
		"no longer available", "this channel does not exist", "http error 404",
		"404 not found", "status 404", "not found", "members-only", "unsupported url",
	}},
	{ClassThrottle, []string{
		"http error 429", "status 429", "too many requests", "rate limit",
		"rate-limit", "ratelimit", "quota exceeded", "slow down",
	}},
	{ClassAuth, []string{
		"sign in to confirm", "login required", "log in", "cookies",
		"http error 401", "status 401", "unauthorized", "http error 403",
		"status 403", "forbidden", "age-restricted", "confirm your age",
	}},
	{ClassTimeout, []string{
		"timed out", "timeout", "deadline exceeded",
	}},
	{ClassNetwork, []string{
		"connection reset", "connection refused", "connection aborted",
		"network is unreachable", "no route to host", "temporary failure in name resolution",
		"no such host", "broken pipe", "unexpected eof", "tls handshake",
		"remote end closed", "http error 5", "status 5", "bad gateway",
		"service unavailable", "unable to download",
	}},
}

// Classify maps an exit code, captured output and error to exactly one
// ErrorClass. Error-type checks take priority over text matching.
func Classify(exitCode int, output string, err error) ErrorClass {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ClassTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ClassTimeout
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return ClassNetwork
		}
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, io.ErrUnexpectedEOF) {
			return ClassNetwork
		}
	}
	if exitCode == 124 {
		return ClassTimeout
	}

	text := strings.ToLower(output)
	if err != nil {
		text += "\n" + strings.ToLower(err.Error())
	}
	for _, rule := range textRules {
		for _, n := range rule.needles {
			if strings.Contains(text, n) {
				return rule.class
			}
		}
	}
	return ClassUnknown
}

// ClassifyError classifies err, pulling exit code and output from any
// CommandFailure in its chain.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var cf CommandFailure
	if errors.As(err, &cf) {
		return Classify(cf.ExitCode(), cf.Output(), err)
	}
	return Classify(0, "", err)
}
