package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/model"
)

// ErrScriptExhausted is returned when a ScriptedModel receives more requests
// than it has steps.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// Step is one scripted model turn.
type Step struct {
	// Text is the final answer text.
	Text string
	// Chunks, when set and the request streams, are emitted as partial
	// responses before the final one. Their concatenation should equal Text.
	Chunks []string
	// Calls are function calls emitted in the final response.
	Calls []core.FunctionCall
	// Err fails the turn.
	Err error
	// Block holds the turn until the request context is cancelled.
	Block bool
}

// Call builds a function call with JSON arguments.
func Call(id, name, args string) core.FunctionCall {
	return core.FunctionCall{ID: id, Name: name, Arguments: args}
}

// ScriptedModel replays steps in order. A Handler, when set, takes
// precedence and computes the step from the request.
type ScriptedModel struct {
	Handler func(req model.Request) Step

	mu       sync.Mutex
	steps    []Step
	requests []model.Request
}

// NewScriptedModel creates a model answering with the given steps in order.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{steps: steps}
}

// NewHandlerModel creates a model computing each turn from the request.
func NewHandlerModel(h func(req model.Request) Step) *ScriptedModel {
	return &ScriptedModel{Handler: h}
}

// Calls returns how many requests were received.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the received requests.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request.
func (m *ScriptedModel) LastRequest() (model.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return model.Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *ScriptedModel) next(req model.Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)

	if m.Handler != nil {
		return m.Handler(req)
	}

	if idx >= len(m.steps) {
		return Step{Err: fmt.Errorf("%w (request %d)", ErrScriptExhausted, idx+1)}
	}

	return m.steps[idx]
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)

	step := m.next(req)

	go func() {
		defer close(errCh)
		defer close(out)

		send := func(r model.Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case out <- r:
				return true
			}
		}

		if step.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if req.Stream {
			for _, c := range step.Chunks {
				if !send(model.Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, c)}) {
					return
				}
			}
		}

		parts := make([]core.Part, 0, len(step.Calls)+1)
		if step.Text != "" {
			parts = append(parts, core.TextPart{Text: step.Text})
		}
		for _, c := range step.Calls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: c})
		}

		finish := "stop"
		if len(step.Calls) > 0 {
			finish = "tool_calls"
		}

		send(model.Response{
			Content:      core.Content{Role: string(core.RoleAssistant), Parts: parts},
			FinishReason: finish,
		})
	}()

	return out, errCh
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "test", SupportsTools: true}
}
