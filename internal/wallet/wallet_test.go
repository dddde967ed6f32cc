package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/pkicash/pkicashd/internal/pkierrors"
	"github.com/pkicash/pkicashd/internal/wallet"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *wallet.Store {
	t.Helper()
	s, err := wallet.Open(filepath.Join(t.TempDir(), "wallet.json"))
	require.NoError(t, err)
	return s
}

func buildDelivery(t *testing.T, pkNextHex string, value int64, status coin.Status) (coin.Delivery, pkicrypto.KeyPair) {
	t.Helper()

	engineKP, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	issuerKP, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	c := coin.Coin{
		CoinID:         "coin-1",
		Value:          value,
		CurrentPK:      pkNextHex,
		IssuerPK:       pkicrypto.PublicKeyToHex(issuerKP.Public),
		EngineEndpoint: "engineA",
		EnginePK:       pkicrypto.PublicKeyToHex(engineKP.Public),
	}
	issuerSig := pkicrypto.Sign(issuerKP.Private, c.SigningPayload())
	c.IssuerSignature = pkicrypto.SignatureToHex(issuerSig)

	conf := coin.Confirmation{
		CoinID:   c.CoinID,
		NextPK:   pkNextHex,
		Status:   status,
		EnginePK: pkicrypto.PublicKeyToHex(engineKP.Public),
	}
	confSig := pkicrypto.Sign(engineKP.Private, conf.SigningPayload())
	conf.EngineSignature = pkicrypto.SignatureToHex(confSig)

	return coin.Delivery{Coin: c, Confirmation: conf}, engineKP
}

// TestWalletConservationInvariant matches spec testable property 6: for
// every coin the wallet holds, pk_current is the public key derived from
// sk_current. We check this the same way the engine itself would: a
// transfer signed with the wallet's stored sk_current must verify under
// the coin's recorded pk_current.
func TestWalletConservationInvariant(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)

	delivery, _ := buildDelivery(t, pkHex, 10, coin.StatusIssued)
	require.NoError(t, s.ReceiveFromEngine(delivery, "bank-dest"))

	transfer, err := s.CreateTransaction(delivery.Coin.CoinID, "deadbeef", "addrB")
	require.NoError(t, err)

	pk, err := pkicrypto.PublicKeyFromHex(pkHex)
	require.NoError(t, err)
	sig, err := pkicrypto.SignatureFromHex(transfer.Signature)
	require.NoError(t, err)
	require.True(t, pkicrypto.Verify(pk, transfer.SigningPayload(), sig))
}

func TestReceiveFromEngineRejectsUnknownPendingKey(t *testing.T) {
	s := newTestStore(t)

	kp, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	unexpectedPK := pkicrypto.PublicKeyToHex(kp.Public)

	delivery, _ := buildDelivery(t, unexpectedPK, 10, coin.StatusIssued)

	err = s.ReceiveFromEngine(delivery, "bank-dest")
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindMissingPendingKey))

	_, ok := s.GetCoin(delivery.Coin.CoinID)
	require.False(t, ok)
}

func TestReceiveFromEngineRejectsBadConfirmationSignature(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)

	delivery, _ := buildDelivery(t, pkHex, 10, coin.StatusIssued)
	delivery.Confirmation.EngineSignature = "00"

	err = s.ReceiveFromEngine(delivery, "bank-dest")
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindInvalidSignature))
}

func TestReceiveFromEngineRejectsUntrustedIssuer(t *testing.T) {
	s := newTestStore(t)
	s.SetTrustedIssuers([]string{"some-other-issuer"})

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)

	delivery, _ := buildDelivery(t, pkHex, 10, coin.StatusIssued)

	err = s.ReceiveFromEngine(delivery, "bank-dest")
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindUntrustedIssuer))

	_, ok := s.GetCoin(delivery.Coin.CoinID)
	require.False(t, ok)
}

func TestReceiveFromEngineAcceptsListedTrustedIssuer(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)

	delivery, _ := buildDelivery(t, pkHex, 10, coin.StatusIssued)
	s.SetTrustedIssuers([]string{delivery.Coin.IssuerPK})

	require.NoError(t, s.ReceiveFromEngine(delivery, "bank-dest"))
	_, ok := s.GetCoin(delivery.Coin.CoinID)
	require.True(t, ok)
}

func TestCreateTransactionThenConfirmSendRemovesCoin(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)
	delivery, _ := buildDelivery(t, pkHex, 7, coin.StatusIssued)
	require.NoError(t, s.ReceiveFromEngine(delivery, "bank-dest"))

	_, err = s.CreateTransaction(delivery.Coin.CoinID, "deadbeef", "addrB")
	require.NoError(t, err)

	// Signing alone must not remove the coin: a failed send should leave
	// it spendable.
	_, ok := s.GetCoin(delivery.Coin.CoinID)
	require.True(t, ok)

	require.NoError(t, s.ConfirmSend(delivery.Coin.CoinID, "addrB", ""))

	_, ok = s.GetCoin(delivery.Coin.CoinID)
	require.False(t, ok)
}

func TestCreateTransactionFailsForUnknownCoin(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTransaction("nope", "deadbeef", "addrB")
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindUnknownCoin))
}

// TestTransactionLogMonotonicity matches spec testable property 8.
func TestTransactionLogMonotonicity(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)
	delivery, _ := buildDelivery(t, pkHex, 3, coin.StatusIssued)
	require.NoError(t, s.ReceiveFromEngine(delivery, "bank-dest"))

	require.Len(t, s.TransactionLog(), 1)

	require.NoError(t, s.ConfirmSend(delivery.Coin.CoinID, "addrB", "payment"))
	logEntries := s.TransactionLog()
	require.Len(t, logEntries, 2)
	// Most recent entry first.
	require.Equal(t, "sent", logEntries[0].Action)
	require.Equal(t, "received-from-issuer", logEntries[1].Action)
}

func TestGenerateReceiveKeypairEvictsOldestOnOverflow(t *testing.T) {
	s := newTestStore(t)
	s.SetMaxPendingKeypairs(2)

	pk1, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)
	_, err = s.GenerateReceiveKeypair()
	require.NoError(t, err)
	_, err = s.GenerateReceiveKeypair()
	require.NoError(t, err)

	require.Equal(t, 2, s.PendingKeypairCount())

	// pk1 was evicted: a delivery addressed to it is now rejected, not
	// silently lost.
	delivery, _ := buildDelivery(t, pk1, 5, coin.StatusIssued)
	err = s.ReceiveFromEngine(delivery, "bank-dest")
	require.Error(t, err)
	require.True(t, pkierrors.Is(err, pkierrors.KindMissingPendingKey))
}

func TestContactsCRUD(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddContact("alice", "addrA", "pkA"))
	require.Len(t, s.Contacts(), 1)

	require.NoError(t, s.UpdateContact(0, "alice", "addrA2", "pkA"))
	require.Equal(t, "addrA2", s.Contacts()[0].Address)

	require.NoError(t, s.DeleteContact(0))
	require.Empty(t, s.Contacts())
}

func TestValidateCoin(t *testing.T) {
	s := newTestStore(t)

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)
	delivery, _ := buildDelivery(t, pkHex, 1, coin.StatusIssued)

	require.True(t, s.ValidateCoin(delivery.Coin, []string{delivery.Coin.IssuerPK}))
	require.False(t, s.ValidateCoin(delivery.Coin, []string{"some-other-issuer"}))
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	s, err := wallet.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetAddress("dest-hash"))

	pkHex, err := s.GenerateReceiveKeypair()
	require.NoError(t, err)
	delivery, _ := buildDelivery(t, pkHex, 9, coin.StatusIssued)
	require.NoError(t, s.ReceiveFromEngine(delivery, "bank-dest"))

	reopened, err := wallet.Open(path)
	require.NoError(t, err)
	require.Equal(t, "dest-hash", reopened.Address())
	require.Equal(t, int64(9), reopened.GetBalance())
}
