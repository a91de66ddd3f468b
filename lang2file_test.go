package lang2file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/internal/testutil"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
	"github.com/hupe1980/lang2file/router"
	"github.com/hupe1980/lang2file/tool/filetool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// backend answers the three kinds of requests the pipeline sends.
type backend struct {
	classify  string
	selection string
	final     func(req model.Request) testutil.Step
}

func (b backend) handle(req model.Request) testutil.Step {
	switch {
	case req.Instructions == router.ClassifierPrompt:
		return testutil.Step{Text: b.classify}
	case len(req.Contents) == 1 && strings.Contains(req.Contents[0].Text(), "Available tools:"):
		return testutil.Step{Text: b.selection}
	case b.final != nil:
		return b.final(req)
	default:
		return testutil.Step{Text: "ok"}
	}
}

func newApp(t *testing.T, m model.Model) (*Lang2File, string) {
	t.Helper()

	dir := t.TempDir()

	reg := registry.New()
	require.NoError(t, reg.RegisterProviders(filetool.New(func(o *filetool.Options) { o.BaseDir = dir })))

	app, err := New(m, reg)
	require.NoError(t, err)

	return app, dir
}

func kinds(m *testutil.ScriptedModel) (classify, selectN, final int) {
	for _, r := range m.Requests() {
		switch {
		case r.Instructions == router.ClassifierPrompt:
			classify++
		case len(r.Contents) == 1 && strings.Contains(r.Contents[0].Text(), "Available tools:"):
			selectN++
		default:
			final++
		}
	}
	return
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, registry.New())
	require.Error(t, err)

	_, err = New(testutil.NewScriptedModel(), nil)
	require.Error(t, err)
}

func TestNew_FreezesRegistry(t *testing.T) {
	app, _ := newApp(t, testutil.NewScriptedModel())
	assert.True(t, app.Registry().Frozen())
}

func TestChat_BlankInput(t *testing.T) {
	m := testutil.NewScriptedModel()
	app, _ := newApp(t, m)

	_, err := app.Chat(context.Background(), "   ")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = app.ChatStream(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, m.Calls())
}

func TestChat_GreetingIsCapabilityFree(t *testing.T) {
	m := testutil.NewHandlerModel(backend{}.handle)
	app, _ := newApp(t, m)

	reply, err := app.Chat(context.Background(), "hello!")
	require.NoError(t, err)

	assert.False(t, reply.Task)
	assert.Empty(t, reply.Tools)
	assert.Equal(t, "ok", reply.Text)
	assert.Regexp(t, `^[A-Za-z0-9]{32}$`, reply.SessionID)

	classify, selectN, final := kinds(m)
	assert.Zero(t, classify)
	assert.Zero(t, selectN)
	assert.Equal(t, 1, final)

	req, _ := m.LastRequest()
	assert.Empty(t, req.Tools)
}

func TestChat_CreateFolderSelectsOnlyCreateCapability(t *testing.T) {
	m := testutil.NewHandlerModel(backend{
		selection: `{"tools":["create_directory"]}`,
		final: func(req model.Request) testutil.Step {
			if last := req.Contents[len(req.Contents)-1]; last.Role == string(core.RoleTool) {
				return testutil.Step{Text: "folder created"}
			}
			return testutil.Step{Calls: []core.FunctionCall{
				testutil.Call("c1", "create_directory", `{"path":"notes"}`),
			}}
		},
	}.handle)

	app, dir := newApp(t, m)

	reply, err := app.Chat(context.Background(), "create a folder called notes")
	require.NoError(t, err)

	assert.True(t, reply.Task)
	assert.Equal(t, []string{"create_directory"}, reply.Tools)
	assert.Equal(t, "folder created", reply.Text)
	assert.Empty(t, reply.SessionID)

	classify, selectN, final := kinds(m)
	assert.Zero(t, classify, "pattern match must not consult the model")
	assert.Equal(t, 1, selectN)
	assert.Equal(t, 2, final)

	for _, r := range m.Requests()[1:] {
		require.Len(t, r.Tools, 1)
		assert.Equal(t, "create_directory", r.Tools[0].Function.Name)
	}

	info, err := os.Stat(filepath.Join(dir, "notes"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestChat_MalformedSelectionFallsBackToCapabilityFree(t *testing.T) {
	m := testutil.NewHandlerModel(backend{selection: "I would use create_file"}.handle)
	app, _ := newApp(t, m)

	reply, err := app.Chat(context.Background(), "write a document about cats")
	require.NoError(t, err)

	assert.True(t, reply.Task)
	assert.Empty(t, reply.Tools)
	assert.Equal(t, "ok", reply.Text)

	req, _ := m.LastRequest()
	assert.Empty(t, req.Tools)
}

func TestChat_UnknownSelectionIsDropped(t *testing.T) {
	m := testutil.NewHandlerModel(backend{selection: `{"tools":["format_disk","read_file"]}`}.handle)
	app, _ := newApp(t, m)

	reply, err := app.Chat(context.Background(), "open the file todo.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file"}, reply.Tools)
}

func TestChat_AmbiguousInputAsksModel(t *testing.T) {
	m := testutil.NewHandlerModel(backend{classify: "false"}.handle)
	app, _ := newApp(t, m)

	reply, err := app.Chat(context.Background(), "my files are a mess")
	require.NoError(t, err)
	assert.False(t, reply.Task)

	classify, selectN, final := kinds(m)
	assert.Equal(t, 1, classify)
	assert.Zero(t, selectN)
	assert.Equal(t, 1, final)
}

func TestChat_CompletionFailure(t *testing.T) {
	m := testutil.NewHandlerModel(backend{
		final: func(model.Request) testutil.Step { return testutil.Step{Err: errors.New("quota")} },
	}.handle)
	app, _ := newApp(t, m)

	_, err := app.Chat(context.Background(), "tell me a joke")
	require.Error(t, err)
	assert.True(t, core.IsCompletionError(err))
	assert.Equal(t, 1, m.Calls(), "no retries")
}

func TestChatSession_MemoryRoundTrip(t *testing.T) {
	m := testutil.NewHandlerModel(backend{}.handle)
	app, _ := newApp(t, m)
	ctx := context.Background()

	reply, err := app.ChatSession(ctx, "s1", "tell me a joke")
	require.NoError(t, err)
	assert.Equal(t, "s1", reply.SessionID)

	_, err = app.ChatSession(ctx, "s1", "another one")
	require.NoError(t, err)

	req, _ := m.LastRequest()
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "tell me a joke", req.Contents[0].Text())

	history, err := app.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 4)

	require.NoError(t, app.Reset(ctx, "s1"))
	history, err = app.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatSession_TaskBindsSuppliedSession(t *testing.T) {
	m := testutil.NewHandlerModel(backend{selection: `{"tools":[]}`}.handle)
	app, _ := newApp(t, m)
	ctx := context.Background()

	reply, err := app.ChatSession(ctx, "s2", "delete the file old.txt")
	require.NoError(t, err)
	assert.True(t, reply.Task)
	assert.Equal(t, "s2", reply.SessionID)

	history, err := app.History(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatStream(t *testing.T) {
	m := testutil.NewHandlerModel(backend{
		final: func(model.Request) testutil.Step {
			return testutil.Step{Text: "hi there", Chunks: []string{"hi", " there"}}
		},
	}.handle)
	app, _ := newApp(t, m)

	stream, err := app.ChatStream(context.Background(), "hey")
	require.NoError(t, err)
	assert.False(t, stream.Task)
	assert.NotEmpty(t, stream.SessionID)

	var got []string
	for f := range stream.Fragments {
		got = append(got, f)
	}
	require.NoError(t, <-stream.Err)
	assert.Equal(t, []string{"hi", " there"}, got)
}
