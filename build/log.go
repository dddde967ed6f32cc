package build

import (
	"os"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter is an io.Writer that fans log output out to whichever backend
// the active build tag selects (console by default, file under -tags
// filelog); see log_console.go / log_filelog.go.
type LogWriter struct{}

// activeRotator is the rotator InitLogRotator last configured, consulted by
// LogWriter.Write so the default console build still writes the rotated
// on-disk log, not just stdout.
var activeRotator *rotator.Rotator

// RotatingLogWriter wraps a rotating log file writer with the ability to
// produce and register per-subsystem child loggers. Actors call
// NewRotatingLogWriter once at startup and hand it to every package's
// UseLogger setter.
type RotatingLogWriter struct {
	backend  *slog.Backend
	rotator  *rotator.Rotator
	subsysts map[string]slog.Logger
}

// NewRotatingLogWriter constructs a writer with no rotator configured; call
// InitLogRotator before logging starts to enable on-disk rotation.
func NewRotatingLogWriter() *RotatingLogWriter {
	w := &LogWriter{}
	return &RotatingLogWriter{
		backend:  slog.NewBackend(w),
		subsysts: make(map[string]slog.Logger),
	}
}

// InitLogRotator opens (or creates) a log file at logFile and begins
// rotating it once it exceeds maxLogFileSize megabytes, retaining at most
// maxLogFiles rotated copies.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := splitDir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return err
	}

	rot, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}
	r.rotator = rot
	activeRotator = rot

	return setLogFilePath(logFile)
}

func splitDir(path string) (string, string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return ".", path
}

// GenSubLogger returns a new logger for a subsystem, bound to the rotating
// file backend if one was initialised.
func (r *RotatingLogWriter) GenSubLogger(tag string) slog.Logger {
	logger := r.backend.Logger(tag)
	return logger
}

// RegisterSubLogger records the logger created for a subsystem so it can be
// looked up by tag later (log-level commands, tests).
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.subsysts[subsystem] = logger
}

// SubLogger returns the previously registered logger for subsystem, or nil.
func (r *RotatingLogWriter) SubLogger(subsystem string) slog.Logger {
	return r.subsysts[subsystem]
}

// SetLogLevels applies level to every subsystem logger registered so far.
func (r *RotatingLogWriter) SetLogLevels(level slog.Level) {
	for _, logger := range r.subsysts {
		logger.SetLevel(level)
	}
}

// Close shuts down the rotator, flushing any buffered output. Safe to call
// even if InitLogRotator was never invoked.
func (r *RotatingLogWriter) Close() error {
	if r.rotator == nil {
		return nil
	}
	return r.rotator.Close()
}

// NewSubLogger creates a standalone subsystem logger. Before root is wired up
// via SetupLoggers, gen is nil and the logger falls back to a disabled
// backend so early package-level var initialisation never panics.
func NewSubLogger(subsystem string, gen func(string) slog.Logger) slog.Logger {
	if gen == nil {
		return slog.Disabled
	}
	return gen(subsystem)
}
