// Package logger holds the structured logger shared by the allocator packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// EnvLogAlloc enables debug-level allocation tracing to stderr when set.
const EnvLogAlloc = "POOL_LOG_ALLOC"

// L is the global logger instance. It's initialized to discard all output by default.
// Call Init() to enable logging, or set POOL_LOG_ALLOC in the environment.
var L = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Writer  io.Writer  // Destination. Default: os.Stderr
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	JSON    bool       // Emit JSON records instead of key=value text
}

// Init configures logging. Call from main() before any allocation.
// If opts.Enabled is false, all log output is discarded.
func Init(opts Options) {
	if !opts.Enabled {
		L = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	L = slog.New(handler)
}

// Tracing reports whether debug-level records are emitted.
func Tracing() bool {
	return L.Enabled(context.Background(), slog.LevelDebug)
}

func init() {
	if os.Getenv(EnvLogAlloc) != "" {
		Init(Options{Enabled: true, Level: slog.LevelDebug})
	}
}
