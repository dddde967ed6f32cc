package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultRole        = "wallet"
	defaultListenAddr  = ""
	defaultLogFilename = "pkicashd.log"
	defaultDataDirname = "data"
)

// config is the full set of options pkicashd accepts, parsed from the
// command line only (no config file is read), mirroring the teacher's
// flat go-flags struct with inline `long`/`description` tags.
type config struct {
	DataDir    string `short:"d" long:"datadir" description:"Directory to store actor state in"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}" default:"info"`

	Role string `long:"role" description:"Actor role to run: engine, issuer, or wallet" default:"wallet"`
	Name string `long:"name" description:"Display name announced to peers"`

	ListenAddr string   `long:"listenaddr" description:"Address for the meshnet websocket listener, e.g. 127.0.0.1:7700; empty to run dial-only"`
	PeerAddrs  []string `long:"peeraddr" description:"dest_hash=ws://host:port pair, may be given multiple times"`

	// EngineDest/EnginePK name the one state engine this process talks to.
	// The protocol handlers (issuer_handler.go, wallet_handler.go) are
	// built around a single issuer registering with a single engine, so
	// there is one pair rather than a dest-keyed map of engines.
	EngineDest string `long:"enginedest" description:"Destination hash of the state engine this issuer/wallet talks to"`
	EnginePK   string `long:"enginepk" description:"Hex public key of the state engine this issuer/wallet trusts"`

	// TrustedIssuers pre-seeds issuer trust without the registration
	// handshake: on an engine, each entry is registered via
	// engine.Engine.RegisterIssuer at startup; on a wallet, the list is
	// passed to wallet.Store.SetTrustedIssuers and enforced on every
	// inbound coin delivery. Unused by the issuer role.
	TrustedIssuers []string `long:"trustedissuer" description:"Hex public key of an issuer to trust immediately, may be given multiple times"`
}

func defaultConfig() config {
	return config{
		DataDir:    defaultDataDirname,
		DebugLevel: "info",
		Role:       defaultRole,
		ListenAddr: defaultListenAddr,
	}
}

// loadConfig parses the command line with go-flags, the same
// flags.NewParser(&cfg, flags.Default) idiom used throughout the
// decred tool family.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.IsErrorType(err, flags.ErrHelp) {
			os.Exit(0)
		}
		return nil, err
	}

	switch cfg.Role {
	case "engine", "issuer", "wallet":
	default:
		return nil, fmt.Errorf("unknown role %q: must be engine, issuer, or wallet", cfg.Role)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &cfg, nil
}

func (c *config) path(name string) string {
	return filepath.Join(c.DataDir, name)
}

func (c *config) logFile() string {
	return c.path(defaultLogFilename)
}
