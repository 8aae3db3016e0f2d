package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledDiscards(t *testing.T) {
	t.Cleanup(func() { Init(Options{}) })

	Init(Options{})
	require.False(t, Tracing())
}

func TestInitWritesText(t *testing.T) {
	t.Cleanup(func() { Init(Options{}) })

	var buf bytes.Buffer
	Init(Options{Enabled: true, Writer: &buf, Level: slog.LevelDebug})
	require.True(t, Tracing())

	L.Debug("large: grow", "segment", 4096)
	require.Contains(t, buf.String(), "large: grow")
	require.Contains(t, buf.String(), "segment=4096")
}

func TestInitWritesJSON(t *testing.T) {
	t.Cleanup(func() { Init(Options{}) })

	var buf bytes.Buffer
	Init(Options{Enabled: true, Writer: &buf, JSON: true})
	require.False(t, Tracing(), "info level hides debug records")

	L.Error("pool: invalid data", "op", "free")
	require.Contains(t, buf.String(), `"op":"free"`)
}
