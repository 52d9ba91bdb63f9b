// Package middleware provides composable wrappers around role dispatch.
// Middleware runs synchronously around each step attempt and can modify
// execution (recover from panics, log, add tracing).
package middleware

import (
	"context"

	"github.com/quartet-sh/quartet/workflow"
)

// Handler is the terminal function that executes a step attempt and
// returns the artifact paths it produced.
type Handler func(ctx context.Context) ([]string, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// run being executed, the spec of the current step, and the next
// handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, run *workflow.Run, step workflow.StepSpec, next Handler) ([]string, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, run *workflow.Run, step workflow.StepSpec, next Handler) ([]string, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]string, error) {
				return mw(ctx, run, step, prev)
			}
		}
		return h(ctx)
	}
}
