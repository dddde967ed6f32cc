package protocol_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/protocol"
	"github.com/pkicash/pkicashd/internal/transport"
	"github.com/pkicash/pkicashd/internal/wallet"
	"github.com/stretchr/testify/require"
)

// waitFor polls cond until it returns true or the deadline passes, for
// assertions on state mutated by envelopes delivered on background
// goroutines.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

// TestFullLifecycleOverLoopback exercises issuer -> engine -> wallet ->
// wallet over the in-memory loopback transport: registration, minting, a
// payment-request-driven transfer, and the double-spend rejection path.
func TestFullLifecycleOverLoopback(t *testing.T) {
	ctx := context.Background()
	reg := transport.NewRegistry()

	engineKP, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	eng, err := engine.New(":memory:", engineKP)
	require.NoError(t, err)
	defer eng.Close()

	engineTp := transport.NewLoopback(reg, "engine-dest")
	engineHandler, err := protocol.NewEngineHandler(eng, engineTp, "Central Engine")
	require.NoError(t, err)
	engineHandler.Start()

	issuerKP, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	iss, err := issuer.New(&issuerKP)
	require.NoError(t, err)

	bankTp := transport.NewLoopback(reg, "bank-dest")
	bankHandler, err := protocol.NewIssuerHandler(iss, bankTp, "Test Bank", "engine-dest", eng.PublicKeyHex())
	require.NoError(t, err)
	bankHandler.Start()

	walletStoreA, err := wallet.Open(filepath.Join(t.TempDir(), "a.json"))
	require.NoError(t, err)
	require.NoError(t, walletStoreA.SetAddress("wallet-a-dest"))
	walletTpA := transport.NewLoopback(reg, "wallet-a-dest")
	walletHandlerA := protocol.NewWalletHandler(walletStoreA, walletTpA)
	walletHandlerA.Start()

	walletStoreB, err := wallet.Open(filepath.Join(t.TempDir(), "b.json"))
	require.NoError(t, err)
	require.NoError(t, walletStoreB.SetAddress("wallet-b-dest"))
	walletTpB := transport.NewLoopback(reg, "wallet-b-dest")
	walletHandlerB := protocol.NewWalletHandler(walletStoreB, walletTpB)
	walletHandlerB.Start()

	// Registration handshake: bank -> engine -> bank -> engine (operator
	// approves) -> bank.
	require.NoError(t, bankHandler.RequestEngineRegistration(ctx))
	waitFor(t, func() bool { return len(engineHandler.Ledger().IncomingRequests()) == 1 })
	regReq := engineHandler.Ledger().IncomingRequests()[0]
	require.NoError(t, engineHandler.ApproveIssuerRegistration(ctx, regReq.ID))
	waitFor(t, func() bool { return bankHandler.HandshakeBook().IsConfirmed("engine-dest") })
	approvedReg := engineHandler.Ledger().IncomingRequests()[0]
	require.Equal(t, protocol.StatusApproved, approvedReg.Status)
	require.NotEmpty(t, approvedReg.ApprovalToken)

	// Wallet A requests a coin from the bank.
	pkA, err := walletStoreA.GenerateReceiveKeypair()
	require.NoError(t, err)
	require.NoError(t, walletHandlerA.RequestCoins(ctx, "bank-dest", 10, []string{pkA}, "welcome grant"))
	waitFor(t, func() bool { return len(bankHandler.Ledger().IncomingRequests()) == 1 })
	coinReq := bankHandler.Ledger().IncomingRequests()[0]
	require.NoError(t, bankHandler.ApproveCoinRequest(ctx, coinReq.ID, 10, "engine-dest", eng.PublicKeyHex()))
	approvedCoinReq := bankHandler.Ledger().IncomingRequests()[0]
	require.Equal(t, protocol.StatusApproved, approvedCoinReq.Status)
	require.NotEmpty(t, approvedCoinReq.ApprovalToken)

	waitFor(t, func() bool { return walletStoreA.GetBalance() == 10 })
	coins := walletStoreA.ListCoins()
	require.Len(t, coins, 1)
	coinID := coins[0].CoinID

	// Wallet B requests a payment from wallet A.
	pkB, err := walletStoreB.GenerateReceiveKeypair()
	require.NoError(t, err)
	require.NoError(t, walletHandlerB.RequestPayment(ctx, "wallet-a-dest", "wallet-b-dest", 10, []string{pkB}, "coffee"))
	waitFor(t, func() bool { return len(walletHandlerA.Ledger().IncomingRequests()) == 1 })
	payReq := walletHandlerA.Ledger().IncomingRequests()[0]

	require.NoError(t, walletHandlerA.AcceptPaymentRequest(ctx, payReq.ID, "engine-dest", []string{coinID}))

	waitFor(t, func() bool { return walletStoreB.GetBalance() == 10 })
	require.Equal(t, int64(0), walletStoreA.GetBalance())

	match := walletHandlerB.Ledger().OutgoingPaymentRequests()[0]
	require.Equal(t, protocol.StatusPaid, match.Status)

	// Double-spend: wallet A no longer holds the coin at all, so a second
	// send attempt fails locally without ever reaching the engine.
	err = walletHandlerA.SendPayment(ctx, "engine-dest", coinID, pkB, "wallet-b-dest", "replay")
	require.Error(t, err)
}
