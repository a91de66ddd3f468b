// Package flow assembles and runs invocation contexts.
//
// An Invocation binds a model to an optional conversation session and an
// optional set of capabilities. It drives the model → tool → model loop until
// the model produces a final text answer. Each request builds a fresh
// Invocation through the Factory; invocations are never shared.
package flow

import (
	"context"

	"github.com/hupe1980/lang2file/model"
)

// Runner is the surface the orchestration layer needs from an invocation.
type Runner interface {
	// Complete blocks until the final answer is available.
	Complete(ctx context.Context, opts CallOptions) (string, error)
	// Stream delivers the answer as ordered fragments.
	Stream(ctx context.Context, opts CallOptions) (<-chan string, <-chan error)
}

// RequestProcessor prepares the model request before the first model call.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request in place.
	ProcessRequest(ctx context.Context, inv *Invocation, call CallOptions, req *model.Request) error
}

var _ Runner = (*Invocation)(nil)
