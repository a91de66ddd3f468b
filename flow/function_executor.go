package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/tool"
)

// FunctionExecutor runs the function calls of one model turn. It returns
// exactly one response per call, in call order. Implementations must respect
// ctx cancellation and never panic.
type FunctionExecutor interface {
	Execute(ctx context.Context, scope Scope, calls []core.FunctionCall) []core.FunctionResponse
}

// Scope identifies the invocation a batch of calls belongs to and the
// capabilities it may use.
type Scope struct {
	InvocationID string
	SessionID    string
	Tools        map[string]tool.Tool
	Logger       logging.Logger
}

// NewScope indexes descriptors by name.
func NewScope(invocationID, sessionID string, descriptors []registry.Descriptor, logger logging.Logger) Scope {
	tools := make(map[string]tool.Tool, len(descriptors))
	for _, d := range descriptors {
		tools[d.Name] = d.Tool
	}

	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return Scope{
		InvocationID: invocationID,
		SessionID:    sessionID,
		Tools:        tools,
		Logger:       logger,
	}
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel int // 0 or <1 => one goroutine per call
}

type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs the default bounded executor.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{cfg: cfg}
}

func (e *parallelFunctionExecutor) Execute(ctx context.Context, scope Scope, calls []core.FunctionCall) []core.FunctionResponse {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.FunctionResponse, n)

	// Fast path: single call, execute inline.
	if n == 1 {
		results[0] = executeCall(ctx, scope, calls[0])
		return results
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	var g errgroup.Group
	g.SetLimit(maxPar)

	for i := range calls {
		g.Go(func() error {
			results[i] = executeCall(ctx, scope, calls[i])
			return nil
		})
	}

	_ = g.Wait()

	scope.Logger.Debug(
		"flow.functions.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

// executeCall runs one call and converts every outcome, including panics and
// out-of-scope names, into a function response.
func executeCall(ctx context.Context, scope Scope, fc core.FunctionCall) core.FunctionResponse {
	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name}

	if err := ctx.Err(); err != nil {
		resp.Error = err.Error()
		return resp
	}

	impl, ok := scope.Tools[fc.Name]
	if !ok {
		scope.Logger.Warn("flow.tool.denied", "tool", fc.Name, "function_call_id", fc.ID)
		resp.Error = tool.NewToolError(fc.Name, "tool not available", tool.CodeNotAvailable).Error()
		return resp
	}

	args, err := decodeArguments(fc)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	logger := logging.With(scope.Logger, "tool", fc.Name, "function_call_id", fc.ID)
	toolCtx := core.NewToolContext(ctx, scope.InvocationID, scope.SessionID, fc.ID, logger)

	start := time.Now()

	var result any

	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				scope.Logger.Error("flow.tool.panic", "tool", fc.Name, "recover", r)
			}
		}()
		result, err = impl.Call(toolCtx, args)
	}()

	logging.LogToolCall(scope.Logger, fc.Name, time.Since(start), err)

	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Response = encodeResult(result)

	return resp
}

func decodeArguments(fc core.FunctionCall) (map[string]any, error) {
	if fc.Arguments == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		te := tool.NewToolError(fc.Name, "arguments must be a JSON object", tool.CodeInvalidArguments)
		te.Cause = err
		return nil, te
	}

	if args == nil { // literal null
		args = map[string]any{}
	}

	return args, nil
}

// encodeResult renders a capability result as the text handed back to the model.
func encodeResult(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(b)
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
