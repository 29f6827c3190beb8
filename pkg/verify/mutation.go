package verify

import (
	"context"
	"time"
)

// Mutation actions
const (
	ActionCreate  = "create"
	ActionExists  = "exists"
	ActionInstall = "install-or-upgrade"
)

// Mutation is a change a check made to the cluster while verifying it
type Mutation struct {
	Kind     string
	Name     string
	Action   string
	Duration time.Duration
	Err      error
}

// MutationObserver is notified of every attempted mutation
type MutationObserver interface {
	ObserveMutation(ctx context.Context, m Mutation)
}

// MutationObserverFunc adapts a function to MutationObserver
type MutationObserverFunc func(ctx context.Context, m Mutation)

func (f MutationObserverFunc) ObserveMutation(ctx context.Context, m Mutation) {
	f(ctx, m)
}
