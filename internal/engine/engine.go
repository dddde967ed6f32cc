// Package engine implements the State Engine: the single trusted authority
// that keeps the ledger of which public key currently owns each coin,
// validates every transfer signature, and buffers signed confirmations for
// recipients to fetch.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/pkierrors"
)

// Engine is the authoritative transfer ledger for one state-engine
// identity. All exported methods are safe for concurrent use; every store
// call serialises through the store's mutex, and RegisterCoin and
// ProcessTransaction also hold txMu across their whole check-then-write
// sequence.
type Engine struct {
	store *store
	sk    pkicrypto.KeyPair

	// txMu makes "read the ledger row, verify, write" one step with
	// respect to every other registration and transfer.
	txMu sync.Mutex
}

// New opens an Engine backed by a sqlite database at dsn (":memory:" for
// an ephemeral ledger), using kp as the engine's own signing identity.
func New(dsn string, kp pkicrypto.KeyPair) (*Engine, error) {
	st, err := openStore(dsn)
	if err != nil {
		return nil, err
	}
	return &Engine{store: st, sk: kp}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	return e.store.Close()
}

// PublicKeyHex returns the engine's own public key, the pk_engine every
// coin it registers must name.
func (e *Engine) PublicKeyHex() string {
	return pkicrypto.PublicKeyToHex(e.sk.Public)
}

// RegisterIssuer adds pk to the set of issuer public keys this engine is
// willing to register coins from. Idempotent.
func (e *Engine) RegisterIssuer(ctx context.Context, pkIssuerHex string) error {
	if err := e.store.registerIssuer(ctx, pkIssuerHex); err != nil {
		return pkierrors.New("engine.RegisterIssuer", pkierrors.KindOther, err)
	}
	log.Debugf("registered issuer %s", shorten(pkIssuerHex))
	return nil
}

// ListIssuers returns every registered trusted-issuer public key.
func (e *Engine) ListIssuers(ctx context.Context) ([]string, error) {
	issuers, err := e.store.listIssuers(ctx)
	if err != nil {
		return nil, pkierrors.New("engine.ListIssuers", pkierrors.KindOther, err)
	}
	return issuers, nil
}

// RegisterCoin records a freshly minted coin and performs its initial
// transfer from the issuer to the recipient atomically: it validates the
// issuer's trust, the issuer signature, and the initial transfer
// signature, inserts the ledger row with pk_current already advanced to
// pkNext, and enqueues an "issued" confirmation for recipientDest.
func (e *Engine) RegisterCoin(ctx context.Context, c coin.Coin, recipientDest, pkNextHex, transferSignatureHex string) (coin.Confirmation, error) {
	const op = "engine.RegisterCoin"

	e.txMu.Lock()
	defer e.txMu.Unlock()

	trusted, err := e.store.isTrustedIssuer(ctx, c.IssuerPK)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}
	if !trusted {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindUntrustedIssuer,
			fmt.Errorf("issuer %s is not trusted", shorten(c.IssuerPK)))
	}

	if !c.VerifyIssuer() {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature,
			fmt.Errorf("issuer signature on coin %s does not verify", c.CoinID))
	}

	transferPayload := pkicrypto.BuildPayload(c.CoinID, pkNextHex)
	issuerPK, err := pkicrypto.PublicKeyFromHex(c.IssuerPK)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature, err)
	}
	transferSig, err := pkicrypto.SignatureFromHex(transferSignatureHex)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature, err)
	}
	if !pkicrypto.Verify(issuerPK, transferPayload, transferSig) {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature,
			fmt.Errorf("initial transfer signature on coin %s does not verify", c.CoinID))
	}

	exists, err := e.store.coinExists(ctx, c.CoinID)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}
	if exists {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindDuplicateCoin,
			fmt.Errorf("coin %s already registered", c.CoinID))
	}

	// The engine's recorded owner becomes the recipient immediately: the
	// issuer never appears as owner in anyone's view of the ledger, even
	// though it signed the initial "owner" field of the coin record.
	advanced := c
	advanced.CurrentPK = pkNextHex

	confirmation := coin.Confirmation{
		CoinID:   c.CoinID,
		NextPK:   pkNextHex,
		Status:   coin.StatusIssued,
		EnginePK: e.PublicKeyHex(),
	}
	sig := pkicrypto.Sign(e.sk.Private, confirmation.SigningPayload())
	confirmation.EngineSignature = pkicrypto.SignatureToHex(sig)

	if err := e.store.insertCoin(ctx, advanced, confirmation, recipientDest); err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}

	log.Infof("registered coin %s, value %d, recipient %s", c.CoinID, c.Value, shorten(recipientDest))
	return confirmation, nil
}

// TransactionRequest is the input to ProcessTransaction: a wallet-signed
// transfer statement.
type TransactionRequest struct {
	CoinID        string
	NextPK        string
	RecipientDest string
	Signature     string
}

// ProcessTransaction validates and applies a transfer request. The
// validation algorithm is the central rule of the ledger: read the
// current owner, recompute the signing payload, verify the signature
// against that owner, and only then advance pk_current — all while holding
// txMu, so a replayed signature computed against a now-stale pk_current
// can never succeed twice.
func (e *Engine) ProcessTransaction(ctx context.Context, tx TransactionRequest) (coin.Confirmation, error) {
	const op = "engine.ProcessTransaction"

	e.txMu.Lock()
	defer e.txMu.Unlock()

	row, err := e.store.getCoin(ctx, tx.CoinID)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}
	if row == nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindUnknownCoin,
			fmt.Errorf("coin %s not found", tx.CoinID))
	}

	currentPK, err := pkicrypto.PublicKeyFromHex(row.PKCurrent)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}
	sig, err := pkicrypto.SignatureFromHex(tx.Signature)
	if err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature, err)
	}

	payload := pkicrypto.BuildPayload(tx.CoinID, tx.NextPK)
	if !pkicrypto.Verify(currentPK, payload, sig) {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindInvalidSignature,
			fmt.Errorf("transfer signature for coin %s does not verify against current owner", tx.CoinID))
	}

	confirmation := coin.Confirmation{
		CoinID:   tx.CoinID,
		NextPK:   tx.NextPK,
		Status:   coin.StatusConfirmed,
		EnginePK: e.PublicKeyHex(),
	}
	engineSig := pkicrypto.Sign(e.sk.Private, confirmation.SigningPayload())
	confirmation.EngineSignature = pkicrypto.SignatureToHex(engineSig)

	// This is the single atomic step the no-double-spend invariant
	// depends on: a concurrent replay of the same signature waits on
	// txMu, then reads the already advanced pk_current, and the verify
	// above fails for it.
	if err := e.store.updateOwnerAndEnqueue(ctx, tx.CoinID, tx.NextPK, confirmation, tx.RecipientDest); err != nil {
		return coin.Confirmation{}, pkierrors.New(op, pkierrors.KindOther, err)
	}

	log.Infof("coin %s transferred to %s", tx.CoinID, shorten(tx.NextPK))
	return confirmation, nil
}

// CoinState is the read-only view of a ledger row returned by
// GetCoinState.
type CoinState struct {
	CoinID    string
	PKCurrent string
}

// GetCoinState returns the current owner of coinID, or nil if the coin is
// not in the ledger.
func (e *Engine) GetCoinState(ctx context.Context, coinID string) (*CoinState, error) {
	row, err := e.store.getCoin(ctx, coinID)
	if err != nil {
		return nil, pkierrors.New("engine.GetCoinState", pkierrors.KindOther, err)
	}
	if row == nil {
		return nil, nil
	}
	return &CoinState{CoinID: row.CoinID, PKCurrent: row.PKCurrent}, nil
}

// ListCoins returns the full set of coins the ledger knows about,
// regardless of owner.
func (e *Engine) ListCoins(ctx context.Context) ([]coin.Coin, error) {
	rows, err := e.store.listCoins(ctx)
	if err != nil {
		return nil, pkierrors.New("engine.ListCoins", pkierrors.KindOther, err)
	}
	out := make([]coin.Coin, len(rows))
	for i, r := range rows {
		out[i] = r.Coin
	}
	return out, nil
}

// GetPendingDeliveries returns every undelivered pending-delivery row for
// recipientDest and atomically marks them delivered — at most once per
// fetch, per row.
func (e *Engine) GetPendingDeliveries(ctx context.Context, recipientDest string) ([]coin.Delivery, error) {
	rows, err := e.store.takePendingDeliveries(ctx, recipientDest)
	if err != nil {
		return nil, pkierrors.New("engine.GetPendingDeliveries", pkierrors.KindOther, err)
	}
	out := make([]coin.Delivery, len(rows))
	for i, r := range rows {
		out[i] = r.Delivery
	}
	return out, nil
}

func shorten(hexStr string) string {
	if len(hexStr) <= 16 {
		return hexStr
	}
	return hexStr[:16] + "…"
}
