package engine_test

import (
	"context"
	"testing"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/pkierrors"
	"github.com/stretchr/testify/require"
)

// engineHarness bundles a fresh in-memory engine with a matching issuer,
// mirroring the clientDBHarness pattern the teacher uses for its own
// storage-layer tests.
type engineHarness struct {
	t      *testing.T
	engine *engine.Engine
	issuer *issuer.Issuer
	ctx    context.Context
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	engineKP, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	e, err := engine.New(":memory:", engineKP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	iss, err := issuer.New(nil)
	require.NoError(t, err)

	return &engineHarness{t: t, engine: e, issuer: iss, ctx: context.Background()}
}

func freshPK(t *testing.T) (string, pkicrypto.KeyPair) {
	t.Helper()
	kp, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	return pkicrypto.PublicKeyToHex(kp.Public), kp
}

// TestS1HappyMintAndTransfer matches spec scenario S1: mint, register,
// fetch a single pending delivery, confirm it is not returned again.
func TestS1HappyMintAndTransfer(t *testing.T) {
	h := newEngineHarness(t)

	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(10, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)

	confirmation, err := h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)
	require.Equal(t, coin.StatusIssued, confirmation.Status)
	require.Equal(t, pkA, confirmation.NextPK)

	deliveries, err := h.engine.GetPendingDeliveries(h.ctx, "addrA")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, coin.StatusIssued, deliveries[0].Confirmation.Status)
	require.Equal(t, pkA, deliveries[0].Confirmation.NextPK)

	again, err := h.engine.GetPendingDeliveries(h.ctx, "addrA")
	require.NoError(t, err)
	require.Empty(t, again)
}

// TestS2ChainedTransfer matches spec scenario S2.
func TestS2ChainedTransfer(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, skA := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(10, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)
	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)

	pkB, _ := freshPK(t)
	payload := pkicrypto.BuildPayload(c.CoinID, pkB)
	sig := pkicrypto.Sign(skA.Private, payload)

	confirmation, err := h.engine.ProcessTransaction(h.ctx, engine.TransactionRequest{
		CoinID:        c.CoinID,
		NextPK:        pkB,
		RecipientDest: "addrB",
		Signature:     pkicrypto.SignatureToHex(sig),
	})
	require.NoError(t, err)
	require.Equal(t, coin.StatusConfirmed, confirmation.Status)
	require.Equal(t, pkB, confirmation.NextPK)

	state, err := h.engine.GetCoinState(h.ctx, c.CoinID)
	require.NoError(t, err)
	require.Equal(t, pkB, state.PKCurrent)
}

// TestS3DoubleSpendFails matches spec scenario S3.
func TestS3DoubleSpendFails(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, skA := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(10, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)
	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)

	pkB, _ := freshPK(t)
	sig := pkicrypto.Sign(skA.Private, pkicrypto.BuildPayload(c.CoinID, pkB))
	tx := engine.TransactionRequest{
		CoinID:        c.CoinID,
		NextPK:        pkB,
		RecipientDest: "addrB",
		Signature:     pkicrypto.SignatureToHex(sig),
	}

	_, err = h.engine.ProcessTransaction(h.ctx, tx)
	require.NoError(t, err)

	// Replay the exact same signed request, and a different request
	// signed under the same now-stale key: both must fail.
	_, err = h.engine.ProcessTransaction(h.ctx, tx)
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindInvalidSignature))

	pkC, _ := freshPK(t)
	sig2 := pkicrypto.Sign(skA.Private, pkicrypto.BuildPayload(c.CoinID, pkC))
	_, err = h.engine.ProcessTransaction(h.ctx, engine.TransactionRequest{
		CoinID:        c.CoinID,
		NextPK:        pkC,
		RecipientDest: "addrC",
		Signature:     pkicrypto.SignatureToHex(sig2),
	})
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindInvalidSignature))

	state, err := h.engine.GetCoinState(h.ctx, c.CoinID)
	require.NoError(t, err)
	require.Equal(t, pkB, state.PKCurrent)
}

// TestS4UntrustedIssuer matches spec scenario S4.
func TestS4UntrustedIssuer(t *testing.T) {
	h := newEngineHarness(t)
	// deliberately skip RegisterIssuer

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(10, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)

	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindUntrustedIssuer))

	coins, err := h.engine.ListCoins(h.ctx)
	require.NoError(t, err)
	require.Empty(t, coins)
}

// TestS5TamperedCoin matches spec scenario S5.
func TestS5TamperedCoin(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(10, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)

	c.IssuerSignature = "0000000000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000000000000000000000000000000000000000000000000000"

	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindInvalidSignature))
}

// TestS6UnknownCoin matches spec scenario S6.
func TestS6UnknownCoin(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.ProcessTransaction(h.ctx, engine.TransactionRequest{
		CoinID:        "nope",
		NextPK:        "deadbeef",
		RecipientDest: "addrX",
		Signature:     "00",
	})
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindUnknownCoin))
}

// TestS7DeliveryIdempotence matches spec scenario S7.
func TestS7DeliveryIdempotence(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(5, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)
	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)

	first, err := h.engine.GetPendingDeliveries(h.ctx, "addrA")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := h.engine.GetPendingDeliveries(h.ctx, "addrA")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestRegisterCoinRejectsDuplicateCoinID(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(5, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)
	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)

	_, err = h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindDuplicateCoin))
}

func TestConfirmationSignatureVerifies(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.engine.RegisterIssuer(h.ctx, h.issuer.PublicKeyHex()))

	pkA, _ := freshPK(t)
	c, transfer, err := h.issuer.IssueCoin(5, pkA, "engineA", h.engine.PublicKeyHex())
	require.NoError(t, err)

	confirmation, err := h.engine.RegisterCoin(h.ctx, c, "addrA", transfer.NextPK, transfer.Signature)
	require.NoError(t, err)
	require.True(t, confirmation.Verify())
}
