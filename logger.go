package glbridge

import (
	"log/slog"

	"github.com/visiona/glbridge/internal/logging"
)

// SetLogger configures the logger for glbridge and all its sub-packages.
// By default the bridge produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging (restore the silent default).
//
// Log levels used by glbridge:
//   - [slog.LevelDebug]: per-message diagnostics (negotiation answers,
//     state changes, skipped frames)
//   - [slog.LevelInfo]: lifecycle events (playing, rebuilt, stream ended)
//   - [slog.LevelWarn]: non-fatal issues (drain timeout, pipeline warnings)
//   - [slog.LevelError]: fatal pipeline errors before rebuild or shutdown
//
// Example:
//
//	glbridge.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}

// Logger returns the active logger.
func Logger() *slog.Logger {
	return logging.Logger()
}
