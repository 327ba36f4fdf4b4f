package agent

import (
	"context"
	"errors"
)

// ErrReentrancy is returned by blocking entry points called with a context
// that is already driven by the agent scheduler.
var ErrReentrancy = errors.New("cannot run a blocking agent call inside an active agent scheduler; use ARun")

type schedulerKey struct{}

// WithScheduler marks ctx as driven by the agent scheduler. Marking an
// already marked context returns it unchanged.
func WithScheduler(ctx context.Context) context.Context {
	if InScheduler(ctx) {
		return ctx
	}
	return context.WithValue(ctx, schedulerKey{}, true)
}

// InScheduler reports whether ctx is driven by the agent scheduler.
func InScheduler(ctx context.Context) bool {
	v, _ := ctx.Value(schedulerKey{}).(bool)
	return v
}

// enter returns the scheduler context for a blocking entry point.
func enter(ctx context.Context) (context.Context, error) {
	if InScheduler(ctx) {
		return nil, ErrReentrancy
	}
	return WithScheduler(ctx), nil
}
