package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/internal/testutil"
	"github.com/hupe1980/lang2file/memory"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoTool(name string) registry.Descriptor {
	t := tool.NewFunctionTool(name, "echo "+name, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return map[string]any{"tool": name, "path": args["path"]}, nil
	})
	return registry.Descriptor{Name: name, Description: t.Description(), Tool: t}
}

func newFactory(t *testing.T, m model.Model, optFns ...func(o *Options)) *Factory {
	t.Helper()
	f, err := NewFactory(m, optFns...)
	require.NoError(t, err)
	return f
}

func TestNewFactory_RequiresModel(t *testing.T) {
	_, err := NewFactory(nil)
	require.Error(t, err)
}

func TestComplete_CapabilityFree(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Text: "hello back"})
	inv := newFactory(t, m).Build(BuildOptions{})

	answer, err := inv.Complete(context.Background(), CallOptions{Prompt: "hello", System: "be nice"})
	require.NoError(t, err)
	assert.Equal(t, "hello back", answer)

	req, _ := m.LastRequest()
	assert.Empty(t, req.Tools)
	assert.Equal(t, "be nice", req.Instructions)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "hello", req.Contents[0].Text())
	assert.Empty(t, inv.ToolNames())
}

func TestComplete_BlankPrompt(t *testing.T) {
	m := testutil.NewScriptedModel()
	inv := newFactory(t, m).Build(BuildOptions{})

	_, err := inv.Complete(context.Background(), CallOptions{Prompt: "  "})
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Zero(t, m.Calls())
}

func TestComplete_ToolLoop(t *testing.T) {
	m := testutil.NewScriptedModel(
		testutil.Step{Calls: []core.FunctionCall{
			testutil.Call("c1", "create_file", `{"path":"a.txt"}`),
			testutil.Call("c2", "read_file", `{"path":"b.txt"}`),
		}},
		testutil.Step{Text: "done"},
	)

	inv := newFactory(t, m).Build(BuildOptions{
		Tools: []registry.Descriptor{echoTool("create_file"), echoTool("read_file")},
	})

	answer, err := inv.Complete(context.Background(), CallOptions{Prompt: "make a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	require.Equal(t, 2, m.Calls())

	first := m.Requests()[0]
	require.Len(t, first.Tools, 2)
	assert.Equal(t, "create_file", first.Tools[0].Function.Name)
	assert.Equal(t, "read_file", first.Tools[1].Function.Name)

	second := m.Requests()[1]
	require.Len(t, second.Contents, 3)
	assert.Equal(t, string(core.RoleAssistant), second.Contents[1].Role)
	assert.Len(t, second.Contents[1].FunctionCalls(), 2)

	results := second.Contents[2].FunctionResponses()
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, `{"path":"a.txt","tool":"create_file"}`, results[0].Response)
	assert.Equal(t, "c2", results[1].ID)
	assert.Empty(t, results[1].Error)
}

func TestComplete_OutOfScopeToolIsNotExecuted(t *testing.T) {
	executed := false
	forbidden := tool.NewFunctionTool("delete_file", "delete", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			executed = true
			return nil, nil
		})

	m := testutil.NewScriptedModel(
		testutil.Step{Calls: []core.FunctionCall{testutil.Call("c1", forbidden.Name(), `{}`)}},
		testutil.Step{Text: "sorry"},
	)

	inv := newFactory(t, m).Build(BuildOptions{Tools: []registry.Descriptor{echoTool("read_file")}})

	answer, err := inv.Complete(context.Background(), CallOptions{Prompt: "delete everything"})
	require.NoError(t, err)
	assert.Equal(t, "sorry", answer)
	assert.False(t, executed)

	results := m.Requests()[1].Contents[2].FunctionResponses()
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "tool not available")
	assert.Contains(t, results[0].Error, tool.CodeNotAvailable)
}

func TestComplete_CapabilityFreeDeniesEveryCall(t *testing.T) {
	m := testutil.NewScriptedModel(
		testutil.Step{Calls: []core.FunctionCall{testutil.Call("", "read_file", `{}`)}},
		testutil.Step{Text: "no tools"},
	)

	inv := newFactory(t, m).Build(BuildOptions{})

	answer, err := inv.Complete(context.Background(), CallOptions{Prompt: "read it"})
	require.NoError(t, err)
	assert.Equal(t, "no tools", answer)

	results := m.Requests()[1].Contents[2].FunctionResponses()
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].ID, "missing call ids are generated")
	assert.Contains(t, results[0].Error, "tool not available")
}

func TestComplete_MaxModelCalls(t *testing.T) {
	m := testutil.NewHandlerModel(func(model.Request) testutil.Step {
		return testutil.Step{Calls: []core.FunctionCall{testutil.Call("", "read_file", `{}`)}}
	})

	inv := newFactory(t, m, func(o *Options) { o.MaxModelCalls = 3 }).
		Build(BuildOptions{Tools: []registry.Descriptor{echoTool("read_file")}})

	_, err := inv.Complete(context.Background(), CallOptions{Prompt: "loop"})
	require.ErrorIs(t, err, ErrModelCallBudget)

	var cerr *core.CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, inv.ID(), cerr.InvocationID)
	assert.Equal(t, 3, m.Calls())
	assert.Equal(t, 3, inv.ModelCalls())
}

func TestComplete_BackendError(t *testing.T) {
	boom := errors.New("backend unavailable")
	m := testutil.NewScriptedModel(testutil.Step{Err: boom})
	inv := newFactory(t, m).Build(BuildOptions{})

	_, err := inv.Complete(context.Background(), CallOptions{Prompt: "hi"})
	require.ErrorIs(t, err, boom)

	var ce *core.CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, inv.ID(), ce.InvocationID)
}

func TestComplete_SessionMemory(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "s1", core.NewUserMessage("earlier"), core.NewAssistantMessage("noted")))

	m := testutil.NewScriptedModel(testutil.Step{Text: "answer"})
	inv := newFactory(t, m, func(o *Options) { o.Store = store }).Build(BuildOptions{SessionID: "s1"})

	_, err := inv.Complete(ctx, CallOptions{Prompt: "question"})
	require.NoError(t, err)

	req, _ := m.LastRequest()
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "earlier", req.Contents[0].Text())
	assert.Equal(t, "noted", req.Contents[1].Text())
	assert.Equal(t, "question", req.Contents[2].Text())

	msgs, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []core.Message{
		core.NewUserMessage("earlier"),
		core.NewAssistantMessage("noted"),
		core.NewUserMessage("question"),
		core.NewAssistantMessage("answer"),
	}, msgs)
}

func TestComplete_ToolTurnsAreNotStored(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()

	m := testutil.NewScriptedModel(
		testutil.Step{Calls: []core.FunctionCall{testutil.Call("c1", "read_file", `{}`)}},
		testutil.Step{Text: "content"},
	)
	inv := newFactory(t, m, func(o *Options) { o.Store = store }).
		Build(BuildOptions{SessionID: "s1", Tools: []registry.Descriptor{echoTool("read_file")}})

	_, err := inv.Complete(ctx, CallOptions{Prompt: "read"})
	require.NoError(t, err)

	msgs, _ := store.Get(ctx, "s1")
	assert.Equal(t, []core.Message{core.NewUserMessage("read"), core.NewAssistantMessage("content")}, msgs)
}

type failingStore struct{}

func (failingStore) Append(context.Context, string, ...core.Message) error {
	return errors.New("write failed")
}

func (failingStore) Get(context.Context, string) ([]core.Message, error) {
	return nil, errors.New("read failed")
}

func (failingStore) Clear(context.Context, string) error { return nil }

func TestComplete_MemoryFailureIsNotFatal(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Text: "fine"})
	inv := newFactory(t, m, func(o *Options) { o.Store = failingStore{} }).Build(BuildOptions{SessionID: "s1"})

	answer, err := inv.Complete(context.Background(), CallOptions{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fine", answer)
}

func TestBuild_SkipsUnboundAndDuplicateDescriptors(t *testing.T) {
	f := newFactory(t, testutil.NewScriptedModel())
	inv := f.Build(BuildOptions{Tools: []registry.Descriptor{
		echoTool("a"), {Name: "ghost"}, echoTool("b"), echoTool("a"),
	}})
	assert.Equal(t, []string{"a", "b"}, inv.ToolNames())
	assert.NotEmpty(t, inv.ID())
	assert.NotEqual(t, inv.ID(), f.Build(BuildOptions{}).ID())
}

func collect(t *testing.T, out <-chan string, errCh <-chan error) ([]string, error) {
	t.Helper()
	var fragments []string
	for f := range out {
		fragments = append(fragments, f)
	}
	return fragments, <-errCh
}

func TestStream_OrderedFragments(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Text: "abc", Chunks: []string{"a", "b", "c"}})
	inv := newFactory(t, m).Build(BuildOptions{})

	out, errCh := inv.Stream(context.Background(), CallOptions{Prompt: "letters"})
	fragments, err := collect(t, out, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fragments)

	req, _ := m.LastRequest()
	assert.True(t, req.Stream)
}

func TestStream_NonStreamingFinalAnswer(t *testing.T) {
	m := testutil.NewScriptedModel(
		testutil.Step{Calls: []core.FunctionCall{testutil.Call("c1", "read_file", `{}`)}},
		testutil.Step{Text: "whole answer"},
	)
	inv := newFactory(t, m).Build(BuildOptions{Tools: []registry.Descriptor{echoTool("read_file")}})

	out, errCh := inv.Stream(context.Background(), CallOptions{Prompt: "read"})
	fragments, err := collect(t, out, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"whole answer"}, fragments)
}

func TestStream_Error(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Err: errors.New("nope")})
	inv := newFactory(t, m).Build(BuildOptions{})

	out, errCh := inv.Stream(context.Background(), CallOptions{Prompt: "x"})
	fragments, err := collect(t, out, errCh)
	assert.Empty(t, fragments)
	require.Error(t, err)
	assert.True(t, core.IsCompletionError(err))
}

func TestStream_CancellationReleasesGoroutines(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Text: "abcd", Chunks: strings.Split("abcd", "")})
	inv := newFactory(t, m).Build(BuildOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	out, errCh := inv.Stream(ctx, CallOptions{Prompt: "x"})

	first := <-out
	assert.Equal(t, "a", first)
	cancel()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after cancellation")
	}

	for range out {
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_BlockedModelCancellation(t *testing.T) {
	m := testutil.NewScriptedModel(testutil.Step{Block: true})
	inv := newFactory(t, m).Build(BuildOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, errCh := inv.Stream(ctx, CallOptions{Prompt: "x"})
	fragments, err := collect(t, out, errCh)
	assert.Empty(t, fragments)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
