package command

import (
	"context"
	"slices"
	"sync"
)

// Call is one invocation recorded by FakeRunner.
type Call struct {
	Name string
	Args []string
}

// FakeRunner implements Runner for testing. Handler decides each call's
// outcome; a nil Handler succeeds with empty output.
type FakeRunner struct {
	Handler func(name string, args []string) (Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run records the call and delegates to Handler.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: slices.Clone(args)})
	f.mu.Unlock()
	if f.Handler == nil {
		return Result{}, nil
	}
	return f.Handler(name, args)
}

// Calls returns a copy of every recorded call.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Fail builds the error a real run would return for a non-zero exit.
func Fail(name string, code int, stderr string) (Result, error) {
	res := Result{Stderr: stderr, ExitCode: code}
	return res, &Error{Name: name, Code: code, Stderr: stderr, Err: errExit}
}

// ArgValue returns the argument following flag, or "".
func ArgValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
