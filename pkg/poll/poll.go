// Package poll provides a bounded wait-until utility for external state.
//
// WaitUntil repeatedly fetches a fresh snapshot of resources through an
// accessor, evaluates a readiness predicate over it and returns as soon as
// the predicate holds. Attempts happen on a fixed interval; there is no
// backoff. Transient accessor errors count as "not ready yet", every other
// accessor error ends the wait.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/chalkan3/consul-mesh-verify/pkg/retry"
)

// Defaults used when Options leaves a field unset
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// ErrTimeout is matched by every *TimeoutError
var ErrTimeout = errors.New("timeout exceeded")

// State is the lifecycle of a single wait
type State string

const (
	StateWaiting   State = "waiting"
	StateSucceeded State = "succeeded"
	StateTimedOut  State = "timed_out"
	StateAborted   State = "aborted"
)

// Accessor fetches the current snapshot of the awaited resources
type Accessor[T any] func(ctx context.Context) ([]T, error)

// Predicate decides whether a snapshot is ready
type Predicate[T any] func(items []T) bool

// AtLeast returns a predicate that holds once n or more items satisfy isReady
func AtLeast[T any](n int, isReady func(T) bool) Predicate[T] {
	return func(items []T) bool {
		ready := 0
		for _, item := range items {
			if isReady(item) {
				ready++
			}
		}
		return ready >= n
	}
}

// Target describes what is being waited for
type Target struct {
	// Kind is the resource kind, e.g. "pods"
	Kind string
	// Selector identifies the resources (namespace/label expression or a name)
	Selector string
	// Expected is the number of ready resources required
	Expected int
}

func (t Target) String() string {
	return fmt.Sprintf("%d ready %s matching %q", t.Expected, t.Kind, t.Selector)
}

// Attempt is reported to Options.OnAttempt after every accessor call
type Attempt struct {
	Target  Target
	Number  int
	Elapsed time.Duration
	Ready   bool
	Err     error
}

// Options controls timing and error policy of a wait
type Options struct {
	// Interval is the fixed pause between attempts
	Interval time.Duration
	// Timeout bounds the whole wait
	Timeout time.Duration
	// Clock defaults to the real clock
	Clock clock.Clock
	// Retryable decides which accessor errors are swallowed; defaults to retry.IsTransient
	Retryable func(error) bool
	// OnAttempt observes each attempt
	OnAttempt func(Attempt)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Retryable == nil {
		o.Retryable = retry.IsTransient
	}
	return o
}

// Result summarises a finished wait
type Result struct {
	State    State
	Attempts int
	Elapsed  time.Duration
}

// TimeoutError is returned when the deadline passes before the predicate holds
type TimeoutError struct {
	Target   Target
	Timeout  time.Duration
	Attempts int
	// LastErr is the most recent transient accessor error, if any
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s (%d attempts)", e.Timeout, e.Target, e.Attempts)
	if e.LastErr != nil {
		msg += fmt.Sprintf(": last error: %v", e.LastErr)
	}
	return msg
}

// Is lets errors.Is(err, ErrTimeout) match
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// AbortError is returned when the accessor fails with a non-retryable error
// or the context ends
type AbortError struct {
	Target   Target
	Attempts int
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("waiting for %s aborted after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// state is the per-call bookkeeping of a wait; it never outlives WaitUntil
type state struct {
	start    time.Time
	deadline time.Time
	attempts int
	lastErr  error
}

// WaitUntil blocks until ready holds for a snapshot returned by fetch, the
// timeout passes or ctx ends. A timed out wait makes ceil(Timeout/Interval)
// accessor calls and returns no earlier than the deadline.
func WaitUntil[T any](ctx context.Context, target Target, fetch Accessor[T], ready Predicate[T], opts Options) (Result, error) {
	opts = opts.withDefaults()
	clk := opts.Clock

	st := state{start: clk.Now()}
	st.deadline = st.start.Add(opts.Timeout)

	result := func(s State) Result {
		return Result{State: s, Attempts: st.attempts, Elapsed: clk.Since(st.start)}
	}

	for {
		if err := ctx.Err(); err != nil {
			return result(StateAborted), &AbortError{Target: target, Attempts: st.attempts, Err: err}
		}

		items, err := fetch(ctx)
		st.attempts++

		ok := false
		if err == nil {
			ok = ready(items)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		if opts.OnAttempt != nil {
			opts.OnAttempt(Attempt{
				Target:  target,
				Number:  st.attempts,
				Elapsed: clk.Since(st.start),
				Ready:   ok,
				Err:     err,
			})
		}

		if ok {
			return result(StateSucceeded), nil
		}
		if err != nil {
			if ctx.Err() != nil || !opts.Retryable(err) {
				return result(StateAborted), &AbortError{Target: target, Attempts: st.attempts, Err: err}
			}
			st.lastErr = err
		}

		remaining := st.deadline.Sub(clk.Now())
		if remaining <= 0 {
			return result(StateTimedOut), st.timeout(target, opts.Timeout)
		}

		timer := clk.NewTimer(min(opts.Interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result(StateAborted), &AbortError{Target: target, Attempts: st.attempts, Err: ctx.Err()}
		case <-timer.C():
		}

		if !clk.Now().Before(st.deadline) {
			return result(StateTimedOut), st.timeout(target, opts.Timeout)
		}
	}
}

func (s *state) timeout(target Target, timeout time.Duration) error {
	return &TimeoutError{
		Target:   target,
		Timeout:  timeout,
		Attempts: s.attempts,
		LastErr:  s.lastErr,
	}
}
