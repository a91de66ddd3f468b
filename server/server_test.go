package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lang2file"
	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/internal/testutil"
	"github.com/hupe1980/lang2file/model"
	"github.com/hupe1980/lang2file/registry"
)

func newTestServer(t *testing.T, h func(model.Request) testutil.Step, optFns ...func(o *Options)) *Server {
	t.Helper()
	app, err := lang2file.New(testutil.NewHandlerModel(h), registry.New())
	require.NoError(t, err)
	return New(app, optFns...)
}

func reply(text string) func(model.Request) testutil.Step {
	return func(model.Request) testutil.Step { return testutil.Step{Text: text} }
}

func TestChat_JSON(t *testing.T) {
	s := newTestServer(t, reply("hi!"))

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"input":"hello","session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got lang2file.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hi!", got.Text)
	assert.Equal(t, "s1", got.SessionID)
	assert.False(t, got.Task)
}

func TestChatText_RawBody(t *testing.T) {
	s := newTestServer(t, reply("plain answer"))

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chatText", strings.NewReader("hello"))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plain answer", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.NotEmpty(t, rec.Header().Get("X-Session-ID"))
}

func TestChat_Errors(t *testing.T) {
	s := newTestServer(t, func(model.Request) testutil.Step { return testutil.Step{Err: errors.New("down")} })

	t.Run("blank input", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader("  ")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("completion failure", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader("hello")))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "completion failed")
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agent/chat", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestChatStream_SSE(t *testing.T) {
	s := newTestServer(t, func(model.Request) testutil.Step {
		return testutil.Step{Text: "one\ntwo", Chunks: []string{"one\n", "two"}}
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/agent/chatStream", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{
		"data: one", "data: ", "",
		"data: two", "",
		"event: done", "data: ", "",
	}, lines)
}

func TestChatStream_Error(t *testing.T) {
	s := newTestServer(t, func(model.Request) testutil.Step { return testutil.Step{Err: errors.New("down")} })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/chatStream", strings.NewReader("hello")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.NotContains(t, rec.Body.String(), "event: done")
}

func TestHealth(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	s := newTestServer(t, reply(""), func(o *Options) { o.Now = func() time.Time { return now } })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agent/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, HealthResponse{Status: "ok", Timestamp: 1700000000000, Service: "agent-service"}, got)
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, reply("answer"))
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agent/chat?session_id=abc", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agent/sessions/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Equal(t, "abc", hist.SessionID)
	assert.Equal(t, []core.Message{core.NewUserMessage("hello"), core.NewAssistantMessage("answer")}, hist.Messages)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/agent/sessions/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agent/sessions/abc", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Empty(t, hist.Messages)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, reply(""), func(o *Options) { o.AllowedOrigins = []string{"http://localhost:3000"} })
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/agent/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/api/agent/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStart_GracefulShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := newTestServer(t, reply(""), func(o *Options) { o.Address = addr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/agent/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
