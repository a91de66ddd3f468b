package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/lang2file/logging"
)

// ToolContext is the constrained surface a capability sees while it runs. It
// carries the request context (cancellation), the correlation identifiers of
// the scoped invocation and a logger. Capabilities get no handle on the
// registry or on other capabilities.
type ToolContext struct {
	ctx            context.Context
	invocationID   string
	sessionID      string
	functionCallID string
	logger         logging.Logger
}

// NewToolContext constructs a tool context for one function call of an invocation.
func NewToolContext(ctx context.Context, invocationID, sessionID, functionCallID string, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}

	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &ToolContext{
		ctx:            ctx,
		invocationID:   invocationID,
		sessionID:      sessionID,
		functionCallID: functionCallID,
		logger:         logger,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// InvocationID returns the id of the scoped invocation that issued the call.
func (tc *ToolContext) InvocationID() string { return tc.invocationID }

// SessionID returns the bound session id, empty for stateless invocations.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the invocation logger, tagged with the call's identifiers
// by the executor.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if !tc.IsValid() {
		return fmt.Errorf("invalid ToolContext")
	}

	return nil
}

// IsValid reports whether Validate would succeed (fast path).
func (tc *ToolContext) IsValid() bool {
	return tc != nil && tc.ctx != nil && tc.invocationID != "" && tc.functionCallID != ""
}
