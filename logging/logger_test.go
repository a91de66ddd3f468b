package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	_ Logger = NoOpLogger{}
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*ZapAdapter)(nil)
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{" error ", LogLevelError, false},
		{"verbose", LogLevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLoggerTo(&buf, LogLevelInfo, "text", false)

	l.Debug("hidden")
	With(l, "component", "router").Info("router.classify.decision", "task", true)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "router.classify.decision")
	assert.Contains(t, out, "component=router")
	assert.Contains(t, out, "task=true")
}

func TestZapAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	With(l, "invocation_id", "inv-1").Warn("flow.tool.denied", "tool", "delete_file")

	entries := logs.FilterMessage("flow.tool.denied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "inv-1", fields["invocation_id"])
	assert.Equal(t, "delete_file", fields["tool"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

type captureLogger struct {
	NoOpLogger
	args []any
}

func (c *captureLogger) Info(_ string, args ...any) { c.args = args }

func TestWith_ForeignLogger(t *testing.T) {
	c := &captureLogger{}
	With(c, "a", 1).Info("msg", "b", 2)
	assert.Equal(t, []any{"a", 1, "b", 2}, c.args)

	assert.Equal(t, NoOpLogger{}, With(nil, "a", 1))
}

func TestLogToolCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	LogToolCall(l, "read_file", time.Millisecond, nil)
	LogToolCall(l, "read_file", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1, logs.FilterMessage("tool.call.completed").Len())
	assert.Equal(t, 1, logs.FilterMessage("tool.call.failed").Len())
}
