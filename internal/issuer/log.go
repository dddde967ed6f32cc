package issuer

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the package-wide logger used by issuer.
func UseLogger(logger slog.Logger) {
	log = logger
}
