package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"dev":   slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"prod":  slog.LevelError,
	}
	for in, want := range tests {
		got, ok := ParseLevel(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}

	_, ok := ParseLevel("verbose")
	require.False(t, ok)
}

func TestPionFactoryScopesAndFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewPionFactory(logger).NewLogger("ice")
	l.Tracef("hidden %d", 1)
	l.Warnf("candidate %s failed", "host")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "candidate host failed")
	require.Contains(t, out, "scope=pion/ice")
	require.Contains(t, out, "level=WARN")
}
