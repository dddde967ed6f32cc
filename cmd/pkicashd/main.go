// Command pkicashd runs one actor of the pkicash protocol: an engine, an
// issuer (bank), or a wallet, depending on --role. Each actor owns its
// store and talks to the others only through the meshnet transport.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/decred/slog"
	"github.com/pkicash/pkicashd/build"
	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/protocol"
	"github.com/pkicash/pkicashd/internal/transport/meshnet"
	"github.com/pkicash/pkicashd/internal/wallet"
)

var backendLog = build.NewRotatingLogWriter()
var log = slog.Disabled

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer backendLog.Close()

	mesh := meshnet.New(destHashFor(cfg), cfg.ListenAddr, nil)
	defer mesh.Close()
	for _, pair := range cfg.PeerAddrs {
		dest, addr, ok := splitPeerAddr(pair)
		if !ok {
			log.Warnf("ignoring malformed --peeraddr %q, want dest_hash=ws://host:port", pair)
			continue
		}
		mesh.AddPeerAddr(dest, addr)
	}

	act := newActor()
	defer act.stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Role {
	case "engine":
		return runEngine(ctx, cfg, mesh, act)
	case "issuer":
		return runIssuer(ctx, cfg, mesh, act)
	case "wallet":
		return runWallet(ctx, cfg, mesh, act)
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
}

func destHashFor(cfg *config) string {
	if cfg.Name != "" {
		return cfg.Role + ":" + cfg.Name
	}
	return cfg.Role
}

func splitPeerAddr(pair string) (dest, addr string, ok bool) {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func runEngine(ctx context.Context, cfg *config, mesh *meshnet.Mesh, act *actor) error {
	kp, err := loadOrCreateKey(cfg.path("engine.key"))
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.path("engine.db"), kp)
	if err != nil {
		return fmt.Errorf("open engine store: %w", err)
	}
	defer eng.Close()

	for _, pk := range cfg.TrustedIssuers {
		if err := eng.RegisterIssuer(ctx, pk); err != nil {
			return fmt.Errorf("pre-register trusted issuer %s: %w", pk, err)
		}
	}

	handler, err := protocol.NewEngineHandler(eng, mesh, cfg.Name)
	if err != nil {
		return fmt.Errorf("create engine handler: %w", err)
	}
	mesh.OnMessage(act.wrapHandler(handler.Dispatch))

	adminLn, err := serveAdmin(cfg, act, nil, handler, nil)
	if err != nil {
		return fmt.Errorf("start admin socket: %w", err)
	}
	defer adminLn.Close()

	log.Infof("engine %s listening as %s, pk=%s", cfg.Name, mesh.Destination(), eng.PublicKeyHex())
	return waitForSignal(ctx)
}

func runIssuer(ctx context.Context, cfg *config, mesh *meshnet.Mesh, act *actor) error {
	iss, err := loadOrCreateIssuer(cfg.path("issuer.key"))
	if err != nil {
		return err
	}

	handler, err := protocol.NewIssuerHandler(iss, mesh, cfg.Name, cfg.EngineDest, cfg.EnginePK)
	if err != nil {
		return fmt.Errorf("create issuer handler: %w", err)
	}
	mesh.OnMessage(act.wrapHandler(handler.Dispatch))

	if cfg.EngineDest != "" {
		if err := handler.RequestEngineRegistration(ctx); err != nil {
			log.Warnf("could not request engine registration: %v", err)
		}
	}

	adminLn, err := serveAdmin(cfg, act, nil, nil, handler)
	if err != nil {
		return fmt.Errorf("start admin socket: %w", err)
	}
	defer adminLn.Close()

	log.Infof("issuer %s listening as %s, pk=%s", cfg.Name, mesh.Destination(), iss.PublicKeyHex())
	return waitForSignal(ctx)
}

func runWallet(ctx context.Context, cfg *config, mesh *meshnet.Mesh, act *actor) error {
	store, err := wallet.Open(cfg.path("wallet.json"))
	if err != nil {
		return fmt.Errorf("open wallet store: %w", err)
	}
	if store.Address() == "" {
		if err := store.SetAddress(mesh.Destination()); err != nil {
			return err
		}
	}
	store.SetTrustedIssuers(cfg.TrustedIssuers)

	handler := protocol.NewWalletHandler(store, mesh)
	mesh.OnMessage(act.wrapHandler(handler.Dispatch))

	adminLn, err := serveAdmin(cfg, act, handler, nil, nil)
	if err != nil {
		return fmt.Errorf("start admin socket: %w", err)
	}
	defer adminLn.Close()

	log.Infof("wallet %s listening as %s, balance=%d", cfg.Name, mesh.Destination(), store.GetBalance())
	return waitForSignal(ctx)
}

func loadOrCreateKey(path string) (pkicrypto.KeyPair, error) {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return pkicrypto.KeyPair{}, err
		}
		sk, err := pkicrypto.PrivateKeyFromHex(strings.TrimSpace(string(data)))
		if err != nil {
			return pkicrypto.KeyPair{}, err
		}
		return pkicrypto.KeyPair{Private: sk, Public: sk.Public().(ed25519.PublicKey)}, nil
	}

	kp, err := pkicrypto.GenerateKeyPair()
	if err != nil {
		return pkicrypto.KeyPair{}, err
	}
	if err := os.WriteFile(path, []byte(pkicrypto.PrivateKeyToHex(kp.Private)), 0600); err != nil {
		return pkicrypto.KeyPair{}, err
	}
	return kp, nil
}

func loadOrCreateIssuer(path string) (*issuer.Issuer, error) {
	if _, err := os.Stat(path); err == nil {
		return issuer.LoadKey(path)
	}
	kp, err := pkicrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	iss, err := issuer.New(&kp)
	if err != nil {
		return nil, err
	}
	if err := iss.SaveKey(path); err != nil {
		return nil, err
	}
	return iss, nil
}

func waitForSignal(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func initLogging(cfg *config) error {
	if err := backendLog.InitLogRotator(cfg.logFile(), 10, 3); err != nil {
		return err
	}
	SetupLoggers(backendLog)

	level, ok := slog.LevelFromString(cfg.DebugLevel)
	if !ok {
		level = slog.LevelInfo
	}
	backendLog.SetLogLevels(level)
	return nil
}
