package compute

import (
	"log/slog"

	"github.com/gogpu/compute/internal/logging"
)

// SetLogger configures the logger for compute and all its sub-packages.
// By default, compute produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by compute:
//   - [slog.LevelDebug]: cache misses, pipeline creation, dispatch geometry
//   - [slog.LevelInfo]: lifecycle events (device opened)
//   - [slog.LevelWarn]: device loss, resource release errors
//   - [slog.LevelError]: device compiler rejections, with the generated source
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.SetLogger(l)
}

// Logger returns the current logger used by compute.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
