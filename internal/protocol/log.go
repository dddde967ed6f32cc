package protocol

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the package-wide logger used by protocol.
func UseLogger(logger slog.Logger) {
	log = logger
}
