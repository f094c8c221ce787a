package log

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func useWriter(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	var buf bytes.Buffer
	InitWriter(&buf, level)
	return &buf
}

func TestLog_Format(t *testing.T) {
	buf := useWriter(t, LevelDebug)

	Info(CatEngine, "loaded", "path", "/s/a.lua", "ok", true)

	line := buf.String()
	require.Contains(t, line, "[INFO] [engine] loaded path=/s/a.lua ok=true")
	require.True(t, strings.HasSuffix(line, "\n"))
}

func TestLog_OddFields(t *testing.T) {
	buf := useWriter(t, LevelDebug)

	Warn(CatWatcher, "dangling", "key")

	require.Contains(t, buf.String(), "dangling key=<missing>")
}

func TestLog_MinLevel(t *testing.T) {
	buf := useWriter(t, LevelWarn)

	Debug(CatRegistry, "hidden")
	Info(CatRegistry, "hidden too")
	Error(CatRegistry, "shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "[ERROR] [registry] shown")

	SetMinLevel(LevelDebug)
	Debug(CatRegistry, "now visible")
	require.Contains(t, buf.String(), "[DEBUG] [registry] now visible")
}

func TestLog_Disabled(t *testing.T) {
	buf := useWriter(t, LevelDebug)

	SetEnabled(false)
	Error(CatConfig, "dropped")
	require.Empty(t, buf.String())

	SetEnabled(true)
	Error(CatConfig, "kept")
	require.Contains(t, buf.String(), "kept")
}

func TestLog_ErrorErr(t *testing.T) {
	buf := useWriter(t, LevelDebug)

	ErrorErr(CatBackend, "load failed", errors.New("syntax"), "file", "a.lua")
	ErrorErr(CatBackend, "no error", nil)

	out := buf.String()
	require.Contains(t, out, "load failed file=a.lua error=syntax")
	require.Contains(t, out, "no error error=<nil>")
}

func TestLog_NoLoggerIsNoop(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })
	defaultLogger = nil

	require.NotPanics(t, func() { Info(CatScript, "nobody listening") })
	require.Nil(t, NewListener(context.Background()))
}

func TestNewListener(t *testing.T) {
	useWriter(t, LevelDebug)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewListener(ctx)
	Info(CatScript, "hello from a script")

	select {
	case ev := <-ch:
		require.Contains(t, ev.Payload, "[script] hello from a script")
	case <-time.After(time.Second):
		t.Fatal("no log event delivered")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseLevel(in), in)
	}
	require.Equal(t, "UNKNOWN", Level(42).String())
}
