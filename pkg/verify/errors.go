package verify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
	"github.com/chalkan3/consul-mesh-verify/pkg/retry"
)

// Sentinel errors for the failure taxonomy
var (
	ErrNotFound        = errors.New("not found")
	ErrViolation       = errors.New("assertion violation")
	ErrTransientAccess = errors.New("transient access error")
)

// FailureKind classifies why a check did not pass
type FailureKind string

const (
	KindNone      FailureKind = ""
	KindNotFound  FailureKind = "not_found"
	KindTimeout   FailureKind = "timeout"
	KindTransient FailureKind = "transient"
	KindViolation FailureKind = "violation"
	KindError     FailureKind = "error"
)

// NotFoundError reports a named cloud or cluster resource that does not exist
type NotFoundError struct {
	Kind string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// NotFound builds a NotFoundError, optionally keeping the API error as cause
func NotFound(kind, name string, cause ...error) error {
	e := &NotFoundError{Kind: kind, Name: name}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

// Violation reports fetched state that does not match the expected posture
type Violation struct {
	Resource string
	Message  string
}

func (e *Violation) Error() string {
	if e.Resource == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Resource, e.Message)
}

func (e *Violation) Is(target error) bool {
	return target == ErrViolation
}

// Violationf builds a Violation with a formatted message
func Violationf(resource, format string, args ...any) error {
	return &Violation{Resource: resource, Message: fmt.Sprintf(format, args...)}
}

// TransientAccessError wraps a transient API failure that escaped a one-shot read
type TransientAccessError struct {
	Op  string
	Err error
}

func (e *TransientAccessError) Error() string {
	return fmt.Sprintf("%s: transient access error: %v", e.Op, e.Err)
}

func (e *TransientAccessError) Is(target error) bool {
	return target == ErrTransientAccess
}

func (e *TransientAccessError) Unwrap() error {
	return e.Err
}

// Access wraps an API error from op, tagging transient ones
func Access(op string, err error) error {
	if err == nil {
		return nil
	}
	if retry.IsTransient(err) {
		return &TransientAccessError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Classify maps err onto the failure taxonomy
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, poll.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrViolation):
		return KindViolation
	case errors.Is(err, ErrTransientAccess):
		return KindTransient
	default:
		return KindError
	}
}

// Expectations collects every violated expectation about one resource so a
// check can report all of them at once.
type Expectations struct {
	resource string
	err      error
}

// Expect starts a set of expectations about resource
func Expect(resource string) *Expectations {
	return &Expectations{resource: resource}
}

// That records a violation when ok is false
func (e *Expectations) That(ok bool, format string, args ...any) *Expectations {
	if !ok {
		e.err = multierr.Append(e.err, Violationf(e.resource, format, args...))
	}
	return e
}

// Err returns the combined violations, or nil
func (e *Expectations) Err() error {
	return e.err
}
