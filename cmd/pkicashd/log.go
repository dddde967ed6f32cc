package main

import (
	"github.com/decred/slog"
	"github.com/pkicash/pkicashd/build"
	"github.com/pkicash/pkicashd/internal/approval"
	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/protocol"
	"github.com/pkicash/pkicashd/internal/transport"
	"github.com/pkicash/pkicashd/internal/transport/meshnet"
	"github.com/pkicash/pkicashd/internal/wallet"
)

// SetupLoggers wires every package's subsystem logger to root, the central
// registration dcrlnd's own SetupLoggers performs once the rotator is
// ready. Called once, from initLogging, after InitLogRotator.
func SetupLoggers(root *build.RotatingLogWriter) {
	log = addSubLogger(root, "PCSD")
	addSubLogger(root, "CRYP", pkicrypto.UseLogger)
	addSubLogger(root, "ENGN", engine.UseLogger)
	addSubLogger(root, "ISSR", issuer.UseLogger)
	addSubLogger(root, "WALT", wallet.UseLogger)
	addSubLogger(root, "TRPT", transport.UseLogger, meshnet.UseLogger)
	addSubLogger(root, "PROT", protocol.UseLogger)
	addSubLogger(root, "APRV", approval.UseLogger)
}

func addSubLogger(root *build.RotatingLogWriter, subsystem string, useLoggers ...func(slog.Logger)) slog.Logger {
	logger := root.GenSubLogger(subsystem)
	root.RegisterSubLogger(subsystem, logger)
	for _, use := range useLoggers {
		use(logger)
	}
	return logger
}
