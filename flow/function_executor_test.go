package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/logging"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/tool"
)

type teMockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
	active   *atomic.Int32
	peak     *atomic.Int32
}

func (mt *teMockTool) Name() string               { return mt.name }
func (mt *teMockTool) Description() string        { return "mock tool" }
func (mt *teMockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *teMockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if mt.active != nil {
		n := mt.active.Add(1)
		defer mt.active.Add(-1)
		for {
			p := mt.peak.Load()
			if n <= p || mt.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

func scopeOf(tools ...tool.Tool) Scope {
	ds := make([]registry.Descriptor, 0, len(tools))
	for _, t := range tools {
		ds = append(ds, registry.Descriptor{Name: t.Name(), Description: t.Description(), Tool: t})
	}
	return NewScope("inv", "sess", ds, logging.NoOpLogger{})
}

func TestExecutor_PreservesOrder(t *testing.T) {
	slow := &teMockTool{name: "slow", delay: 40 * time.Millisecond, result: "slow"}
	fast := &teMockTool{name: "fast", result: "fast"}

	exec := NewParallelFunctionExecutor(FunctionExecutorConfig{})
	results := exec.Execute(context.Background(), scopeOf(slow, fast), []core.FunctionCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
		{ID: "3", Name: "slow"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{results[0].ID, results[1].ID, results[2].ID})
	assert.Equal(t, "slow", results[0].Response)
	assert.Equal(t, "fast", results[1].Response)
}

func TestExecutor_BoundsParallelism(t *testing.T) {
	var active, peak atomic.Int32
	mt := &teMockTool{name: "t", delay: 20 * time.Millisecond, active: &active, peak: &peak}

	calls := make([]core.FunctionCall, 6)
	for i := range calls {
		calls[i] = core.FunctionCall{ID: string(rune('a' + i)), Name: "t"}
	}

	exec := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2})
	results := exec.Execute(context.Background(), scopeOf(mt), calls)

	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutor_ErrorsBecomeResponses(t *testing.T) {
	failing := &teMockTool{name: "failing", err: errors.New("disk full")}
	panicking := &teMockTool{name: "panicking", panicMsg: "kaboom"}
	structured := tool.NewFunctionTool("structured", "x", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			return struct {
				Path string `json:"path"`
			}{"a.txt"}, nil
		})

	exec := NewParallelFunctionExecutor(FunctionExecutorConfig{})
	results := exec.Execute(context.Background(), scopeOf(failing, panicking, structured), []core.FunctionCall{
		{ID: "1", Name: "failing"},
		{ID: "2", Name: "panicking"},
		{ID: "3", Name: "structured"},
		{ID: "4", Name: "structured", Arguments: `[1,2]`},
		{ID: "5", Name: "ghost"},
	})

	require.Len(t, results, 5)
	assert.Equal(t, "disk full", results[0].Error)
	assert.Contains(t, results[1].Error, "kaboom")
	assert.Equal(t, `{"path":"a.txt"}`, results[2].Response)
	assert.Empty(t, results[2].Error)
	assert.Contains(t, results[3].Error, tool.CodeInvalidArguments)
	assert.Contains(t, results[4].Error, tool.CodeNotAvailable)
}

func TestExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mt := &teMockTool{name: "t", result: "never"}
	results := NewParallelFunctionExecutor(FunctionExecutorConfig{}).
		Execute(ctx, scopeOf(mt), []core.FunctionCall{{ID: "1", Name: "t"}})

	require.Len(t, results, 1)
	assert.Equal(t, context.Canceled.Error(), results[0].Error)
}

func TestExecutor_Empty(t *testing.T) {
	assert.Nil(t, NewParallelFunctionExecutor(FunctionExecutorConfig{}).Execute(context.Background(), scopeOf(), nil))
}

func TestDecodeArguments(t *testing.T) {
	args, err := decodeArguments(core.FunctionCall{Name: "x"})
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = decodeArguments(core.FunctionCall{Name: "x", Arguments: "null"})
	require.NoError(t, err)
	assert.NotNil(t, args)

	_, err = decodeArguments(core.FunctionCall{Name: "x", Arguments: "{"})
	assert.True(t, tool.IsToolError(err, tool.CodeInvalidArguments))
}

func TestExecutor_ToolLoggerCarriesCallIdentifiers(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := logging.NewZapAdapter(zap.New(obs))

	touch := tool.NewFunctionTool("touch", "x", map[string]any{"type": "object"},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			tc.Logger().Info("touch.done")
			return "ok", nil
		})

	scope := scopeOf(touch)
	scope.Logger = logger

	exec := NewParallelFunctionExecutor(FunctionExecutorConfig{})
	results := exec.Execute(context.Background(), scope, []core.FunctionCall{{ID: "fc-9", Name: "touch"}})
	require.Len(t, results, 1)
	require.Empty(t, results[0].Error)

	entries := logs.FilterMessage("touch.done").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "touch", fields["tool"])
	assert.Equal(t, "fc-9", fields["function_call_id"])
}
