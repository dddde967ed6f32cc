// Command pkicash-cli is the operator tool for pkicashd. Its inspection and
// bootstrap commands (balances, coin lists, logs, receive keys, contacts,
// engine and issuer key and ledger views) open a role's on-disk store
// directly. Commands that act on live protocol state (payments, requests,
// approvals, declines, pending lists) are sent to the running daemon over
// its admin socket and run on the daemon's own actor loop.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkicash/pkicashd/internal/adminproto"
	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/wallet"
	"github.com/urfave/cli"
)

// adminDialTimeout bounds how long we wait for a running pkicashd to
// accept the admin-socket connection before giving up.
const adminDialTimeout = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "pkicash-cli"
	app.Usage = "inspect and bootstrap pkicashd wallet/engine/issuer stores"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Usage: "directory holding the role's store files",
			Value: defaultDataDir(),
		},
	}
	app.Commands = []cli.Command{
		walletCommand,
		engineCommand,
		issuerCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pkicash-cli:", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".pkicashd"
	}
	return filepath.Join(dir, ".pkicashd")
}

func dataPath(ctx *cli.Context, name string) string {
	return filepath.Join(ctx.GlobalString("datadir"), name)
}

// sendAdmin dials the running daemon's admin socket, sends cmd as one
// JSON line, and waits for its one-line response. There is no running
// daemon to talk to if a role only ever uses the read-only store
// commands, so this is called lazily, from the commands that need it.
func sendAdmin(ctx *cli.Context, cmd adminproto.Command) (adminproto.Response, error) {
	conn, err := net.DialTimeout("unix", dataPath(ctx, "admin.sock"), adminDialTimeout)
	if err != nil {
		return adminproto.Response{}, fmt.Errorf("connect to pkicashd admin socket: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return adminproto.Response{}, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return adminproto.Response{}, err
		}
		return adminproto.Response{}, fmt.Errorf("pkicashd admin socket closed without a response")
	}

	var resp adminproto.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return adminproto.Response{}, err
	}
	return resp, nil
}

// printAdminResult renders an adminproto.Response the way the rest of
// the tool prints results: errors to stderr with a non-zero exit, plain
// data as-is.
func printAdminResult(resp adminproto.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if resp.Data != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Data)
	}
	fmt.Println("ok")
	return nil
}

func parseArgInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// actionDecorator adapts an error-returning action into the form
// urfave/cli expects, printing nothing extra: the caller's own error
// already carries enough context.
func actionDecorator(fn func(*cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		return fn(ctx)
	}
}

var walletCommand = cli.Command{
	Name:  "wallet",
	Usage: "inspect a wallet store",
	Subcommands: []cli.Command{
		{
			Name:   "balance",
			Usage:  "print the wallet's total held value",
			Action: actionDecorator(walletBalance),
		},
		{
			Name:   "coins",
			Usage:  "list coins currently held",
			Action: actionDecorator(walletCoins),
		},
		{
			Name:   "log",
			Usage:  "print the transaction log, most recent first",
			Action: actionDecorator(walletLog),
		},
		{
			Name:   "receive-key",
			Usage:  "generate a fresh receive keypair and print its public half",
			Action: actionDecorator(walletReceiveKey),
		},
		{
			Name:      "add-contact",
			Usage:     "add an address-book entry",
			ArgsUsage: "name address pk",
			Action:    actionDecorator(walletAddContact),
		},
		{
			Name:   "contacts",
			Usage:  "list address-book entries",
			Action: actionDecorator(walletContacts),
		},
		{
			Name:      "pay",
			Usage:     "send a held coin to a peer through the running daemon",
			ArgsUsage: "engine-dest coin-id pk-next recipient-dest [description]",
			Action:    actionDecorator(walletPay),
		},
		{
			Name:      "accept-payment",
			Usage:     "accept a pending payment request, spending the given coins",
			ArgsUsage: "request-id engine-dest coin-id[,coin-id...]",
			Action:    actionDecorator(walletAcceptPayment),
		},
		{
			Name:      "decline-payment",
			Usage:     "decline a pending payment request",
			ArgsUsage: "request-id [reason]",
			Action:    actionDecorator(walletDeclinePayment),
		},
		{
			Name:      "request-coins",
			Usage:     "ask an issuer to mint coins to this wallet",
			ArgsUsage: "bank-dest amount pk[,pk...] [description]",
			Action:    actionDecorator(walletRequestCoins),
		},
		{
			Name:      "request-payment",
			Usage:     "ask a peer wallet to pay this wallet",
			ArgsUsage: "peer-dest own-address amount pk[,pk...] [description]",
			Action:    actionDecorator(walletRequestPayment),
		},
		{
			Name:   "pending",
			Usage:  "list incoming requests awaiting this wallet's decision",
			Action: actionDecorator(walletPending),
		},
	},
}

func walletPay(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 4 {
		return cli.ShowCommandHelp(ctx, "pay")
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:        "pay",
		EngineDest:    args.Get(0),
		CoinID:        args.Get(1),
		PKNext:        args.Get(2),
		RecipientDest: args.Get(3),
		Description:   args.Get(4),
	})
	return printAdminResult(resp, err)
}

func walletAcceptPayment(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 3 {
		return cli.ShowCommandHelp(ctx, "accept-payment")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:     "accept-payment",
		RequestID:  id,
		EngineDest: args.Get(1),
		CoinIDs:    splitCSV(args.Get(2)),
	})
	return printAdminResult(resp, err)
}

func walletDeclinePayment(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 1 {
		return cli.ShowCommandHelp(ctx, "decline-payment")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:    "decline-payment",
		RequestID: id,
		Reason:    args.Get(1),
	})
	return printAdminResult(resp, err)
}

func walletRequestCoins(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 3 {
		return cli.ShowCommandHelp(ctx, "request-coins")
	}
	amount, err := parseArgInt(args.Get(1))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:      "request-coins",
		BankDest:    args.Get(0),
		Amount:      amount,
		PublicKeys:  splitCSV(args.Get(2)),
		Description: args.Get(3),
	})
	return printAdminResult(resp, err)
}

func walletRequestPayment(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 4 {
		return cli.ShowCommandHelp(ctx, "request-payment")
	}
	amount, err := parseArgInt(args.Get(2))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:      "request-payment",
		PeerDest:    args.Get(0),
		Address:     args.Get(1),
		Amount:      amount,
		PublicKeys:  splitCSV(args.Get(3)),
		Description: args.Get(4),
	})
	return printAdminResult(resp, err)
}

func walletPending(ctx *cli.Context) error {
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "list-incoming"})
	return printAdminResult(resp, err)
}

func openWallet(ctx *cli.Context) (*wallet.Store, error) {
	return wallet.Open(dataPath(ctx, "wallet.json"))
}

func walletBalance(ctx *cli.Context) error {
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	fmt.Println(store.GetBalance())
	return nil
}

func walletCoins(ctx *cli.Context) error {
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	coins := store.ListCoins()
	sort.Slice(coins, func(i, j int) bool { return coins[i].CoinID < coins[j].CoinID })
	for _, c := range coins {
		fmt.Printf("%s\t%d\n", c.CoinID, c.Value)
	}
	return nil
}

func walletLog(ctx *cli.Context) error {
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	for _, entry := range store.TransactionLog() {
		fmt.Printf("%s\t%s\t%s\t%d\t%s\t%s\n",
			entry.Timestamp.Format("2006-01-02T15:04:05Z"),
			entry.Action, entry.CoinID, entry.Value, entry.Counterparty, entry.Description)
	}
	return nil
}

func walletReceiveKey(ctx *cli.Context) error {
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	pk, err := store.GenerateReceiveKeypair()
	if err != nil {
		return err
	}
	fmt.Println(pk)
	return nil
}

func walletAddContact(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 3 {
		return cli.ShowCommandHelp(ctx, "add-contact")
	}
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	return store.AddContact(args.Get(0), args.Get(1), args.Get(2))
}

func walletContacts(ctx *cli.Context) error {
	store, err := openWallet(ctx)
	if err != nil {
		return err
	}
	for i, c := range store.Contacts() {
		fmt.Printf("%d\t%s\t%s\t%s\n", i, c.Name, c.Address, c.PublicKey)
	}
	return nil
}

var engineCommand = cli.Command{
	Name:  "engine",
	Usage: "inspect an engine ledger",
	Subcommands: []cli.Command{
		{
			Name:   "pubkey",
			Usage:  "print the engine's own public key",
			Action: actionDecorator(engineAction(enginePubkey)),
		},
		{
			Name:   "issuers",
			Usage:  "list trusted issuer public keys",
			Action: actionDecorator(engineAction(engineIssuers)),
		},
		{
			Name:   "coins",
			Usage:  "list every coin in the ledger",
			Action: actionDecorator(engineAction(engineCoins)),
		},
		{
			Name:      "coin-state",
			Usage:     "print the current owner of one coin",
			ArgsUsage: "coin-id",
			Action:    actionDecorator(engineAction(engineCoinState)),
		},
		{
			Name:   "pending",
			Usage:  "list issuer registrations awaiting approval, via the running daemon",
			Action: actionDecorator(enginePending),
		},
		{
			Name:      "approve-issuer",
			Usage:     "approve a pending issuer registration, via the running daemon",
			ArgsUsage: "request-id",
			Action:    actionDecorator(engineApproveIssuer),
		},
		{
			Name:      "decline-issuer",
			Usage:     "decline a pending issuer registration, via the running daemon",
			ArgsUsage: "request-id [reason]",
			Action:    actionDecorator(engineDeclineIssuer),
		},
	},
}

func enginePending(ctx *cli.Context) error {
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "list-pending"})
	return printAdminResult(resp, err)
}

func engineApproveIssuer(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "approve-issuer")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "approve-issuer", RequestID: id})
	return printAdminResult(resp, err)
}

func engineDeclineIssuer(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 1 {
		return cli.ShowCommandHelp(ctx, "decline-issuer")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "decline-issuer", RequestID: id, Reason: args.Get(1)})
	return printAdminResult(resp, err)
}

// engineAction opens the engine store at datadir/engine.db with the
// engine key from datadir/engine.key (created and saved there if absent;
// pubkey/issuers/coins/coin-state only read) and closes it after fn
// returns.
func engineAction(fn func(*cli.Context, *engine.Engine) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		kp, err := loadEngineKey(dataPath(ctx, "engine.key"))
		if err != nil {
			return err
		}
		eng, err := engine.New(dataPath(ctx, "engine.db"), kp)
		if err != nil {
			return err
		}
		defer eng.Close()
		return fn(ctx, eng)
	}
}

func enginePubkey(_ *cli.Context, eng *engine.Engine) error {
	fmt.Println(eng.PublicKeyHex())
	return nil
}

func engineIssuers(_ *cli.Context, eng *engine.Engine) error {
	issuers, err := eng.ListIssuers(context.Background())
	if err != nil {
		return err
	}
	for _, pk := range issuers {
		fmt.Println(pk)
	}
	return nil
}

func engineCoins(_ *cli.Context, eng *engine.Engine) error {
	coins, err := eng.ListCoins(context.Background())
	if err != nil {
		return err
	}
	for _, c := range coins {
		fmt.Printf("%s\t%d\t%s\n", c.CoinID, c.Value, c.CurrentPK)
	}
	return nil
}

func engineCoinState(ctx *cli.Context, eng *engine.Engine) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "coin-state")
	}
	state, err := eng.GetCoinState(context.Background(), args.Get(0))
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("coin %s not found", args.Get(0))
	}
	fmt.Println(state.PKCurrent)
	return nil
}

func loadEngineKey(path string) (pkicrypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		kp, genErr := pkicrypto.GenerateKeyPair()
		if genErr != nil {
			return pkicrypto.KeyPair{}, genErr
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return pkicrypto.KeyPair{}, err
		}
		if err := os.WriteFile(path, []byte(pkicrypto.PrivateKeyToHex(kp.Private)), 0600); err != nil {
			return pkicrypto.KeyPair{}, err
		}
		return kp, nil
	}
	if err != nil {
		return pkicrypto.KeyPair{}, err
	}
	sk, err := pkicrypto.PrivateKeyFromHex(trimNewline(string(data)))
	if err != nil {
		return pkicrypto.KeyPair{}, err
	}
	return pkicrypto.KeyPair{Private: sk, Public: sk.Public().(ed25519.PublicKey)}, nil
}

var issuerCommand = cli.Command{
	Name:  "issuer",
	Usage: "inspect an issuer's signing identity",
	Subcommands: []cli.Command{
		{
			Name:   "pubkey",
			Usage:  "print the issuer's own public key, generating a key file if absent",
			Action: actionDecorator(issuerPubkey),
		},
		{
			Name:   "pending",
			Usage:  "list coin requests awaiting approval, via the running daemon",
			Action: actionDecorator(issuerPending),
		},
		{
			Name:      "mint",
			Usage:     "approve a pending coin request, minting coins through the engine",
			ArgsUsage: "request-id value-per-coin engine-dest pk-engine",
			Action:    actionDecorator(issuerMint),
		},
		{
			Name:      "decline-coin",
			Usage:     "decline a pending coin request",
			ArgsUsage: "request-id [reason]",
			Action:    actionDecorator(issuerDeclineCoin),
		},
	},
}

func issuerPending(ctx *cli.Context) error {
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "list-pending"})
	return printAdminResult(resp, err)
}

func issuerMint(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 4 {
		return cli.ShowCommandHelp(ctx, "mint")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	valuePerCoin, err := parseArgInt(args.Get(1))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{
		Action:       "approve-coin",
		RequestID:    id,
		ValuePerCoin: valuePerCoin,
		EngineDest:   args.Get(2),
		PKEngine:     args.Get(3),
	})
	return printAdminResult(resp, err)
}

func issuerDeclineCoin(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 1 {
		return cli.ShowCommandHelp(ctx, "decline-coin")
	}
	id, err := parseArgInt(args.Get(0))
	if err != nil {
		return err
	}
	resp, err := sendAdmin(ctx, adminproto.Command{Action: "decline-coin", RequestID: id, Reason: args.Get(1)})
	return printAdminResult(resp, err)
}

func issuerPubkey(ctx *cli.Context) error {
	path := dataPath(ctx, "issuer.key")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		kp, err := pkicrypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		iss, err := issuer.New(&kp)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := iss.SaveKey(path); err != nil {
			return err
		}
		fmt.Println(iss.PublicKeyHex())
		return nil
	}

	iss, err := issuer.LoadKey(path)
	if err != nil {
		return err
	}
	fmt.Println(iss.PublicKeyHex())
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
