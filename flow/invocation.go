package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
)

// ErrModelCallBudget is the cause of a CompletionError raised when an
// invocation needs more model calls than its bound allows.
var ErrModelCallBudget = errors.New("model call budget exhausted")

// CallOptions carries the per-call input.
type CallOptions struct {
	// Prompt is the user message.
	Prompt string
	// System is an optional system instruction.
	System string
}

// Invocation is one request's binding of model, memory and capabilities.
type Invocation struct {
	id         string
	model      model.Model
	store      core.ConversationStore
	sessionID  string
	tools      []registry.Descriptor
	maxCalls   int
	calls      atomic.Int32
	executor   FunctionExecutor
	processors []RequestProcessor
	logger     logging.Logger
}

// ID returns the invocation id.
func (inv *Invocation) ID() string { return inv.id }

// SessionID returns the bound session or "".
func (inv *Invocation) SessionID() string { return inv.sessionID }

// ToolNames returns the names of the capabilities in scope.
func (inv *Invocation) ToolNames() []string { return registry.Names(inv.tools) }

// ModelCalls returns how many model calls the invocation has issued.
func (inv *Invocation) ModelCalls() int { return int(inv.calls.Load()) }

func (inv *Invocation) bound() bool { return inv.store != nil && inv.sessionID != "" }

// Complete runs the invocation and returns the final answer.
func (inv *Invocation) Complete(ctx context.Context, opts CallOptions) (string, error) {
	return inv.run(ctx, opts, nil)
}

// Stream runs the invocation and delivers the answer as ordered fragments.
// The fragment channel is closed when the invocation ends; the error channel
// then carries at most one error.
func (inv *Invocation) Stream(ctx context.Context, opts CallOptions) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		_, err := inv.run(ctx, opts, func(fragment string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- fragment:
				return nil
			}
		})

		if err != nil {
			errCh <- err
		}

		close(out)
	}()

	return out, errCh
}

// run drives the model → tool → model loop. A non-nil emit switches the
// model to streaming and receives text fragments in order.
func (inv *Invocation) run(ctx context.Context, call CallOptions, emit func(string) error) (string, error) {
	if strings.TrimSpace(call.Prompt) == "" {
		return "", core.ErrInvalidInput
	}

	req := model.Request{Stream: emit != nil}

	for _, p := range inv.processors {
		if err := p.ProcessRequest(ctx, inv, call, &req); err != nil {
			return "", inv.fail(fmt.Errorf("request processor %s failed: %w", p.Name(), err))
		}
	}

	scope := NewScope(inv.id, inv.sessionID, inv.tools, inv.logger)

	for {
		if int(inv.calls.Add(1)) > inv.maxCalls {
			inv.calls.Add(-1)
			return "", inv.fail(fmt.Errorf("%w after %d calls", ErrModelCallBudget, inv.maxCalls))
		}

		start := time.Now()
		resp, streamed, err := inv.generate(ctx, req, emit)
		logging.LogLLMCall(inv.logger, inv.model.Info().Name, time.Since(start), err)

		if err != nil {
			return "", inv.fail(err)
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			answer := resp.Content.Text()

			if emit != nil && !streamed && answer != "" {
				if err := emit(answer); err != nil {
					return "", inv.fail(err)
				}
			}

			inv.remember(ctx, call.Prompt, answer)

			return answer, nil
		}

		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = core.NewID()
			}
		}

		req.Contents = append(req.Contents, assistantTurn(resp.Content, calls))

		results := inv.executor.Execute(ctx, scope, calls)
		if err := ctx.Err(); err != nil {
			return "", inv.fail(err)
		}

		req.Contents = append(req.Contents, toolTurn(results))
	}
}

// generate performs one model call. It reports whether any partial text was
// forwarded to emit.
func (inv *Invocation) generate(ctx context.Context, req model.Request, emit func(string) error) (model.Response, bool, error) {
	if emit == nil {
		resp, err := model.Collect(ctx, inv.model, req)
		return resp, false, err
	}

	if err := ctx.Err(); err != nil {
		return model.Response{}, false, err
	}

	respCh, errCh := inv.model.Generate(ctx, req)

	var (
		final    model.Response
		found    bool
		streamed bool
	)

	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if !resp.Partial {
				final, found = resp, true
				continue
			}

			if text := resp.Content.Text(); text != "" {
				if err := emit(text); err != nil {
					return model.Response{}, streamed, err
				}
				streamed = true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, streamed, err
			}
		case <-ctx.Done():
			return model.Response{}, streamed, ctx.Err()
		}
	}

	if !found {
		return model.Response{}, streamed, model.ErrNoResponse
	}

	return final, streamed, nil
}

// remember persists the exchange. Memory failures never fail the call.
func (inv *Invocation) remember(ctx context.Context, prompt, answer string) {
	if !inv.bound() {
		return
	}

	err := inv.store.Append(ctx, inv.sessionID,
		core.NewUserMessage(prompt),
		core.NewAssistantMessage(answer),
	)
	if err != nil {
		inv.logger.Warn("flow.memory.write_failed", "error", err)
	}
}

func (inv *Invocation) fail(err error) error {
	inv.logger.Error("flow.invocation.failed", "error", err)
	return &core.CompletionError{InvocationID: inv.id, Err: err}
}

// assistantTurn rebuilds the model's tool-calling turn with normalized call ids.
func assistantTurn(c core.Content, calls []core.FunctionCall) core.Content {
	parts := make([]core.Part, 0, len(calls)+1)
	if text := c.Text(); text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	return core.Content{Role: string(core.RoleAssistant), Parts: parts}
}

func toolTurn(results []core.FunctionResponse) core.Content {
	parts := make([]core.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: r})
	}
	return core.Content{Role: string(core.RoleTool), Parts: parts}
}
