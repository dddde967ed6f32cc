package issuer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/stretchr/testify/require"
)

// TestIssueCoinSignatureCorrectness matches spec testable property 1.
func TestIssueCoinSignatureCorrectness(t *testing.T) {
	iss, err := issuer.New(nil)
	require.NoError(t, err)

	recipient, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	pkRecipient := pkicrypto.PublicKeyToHex(recipient.Public)

	c, transfer, err := iss.IssueCoin(10, pkRecipient, "engineA", "deadbeef")
	require.NoError(t, err)

	require.True(t, c.VerifyIssuer())
	require.Equal(t, iss.PublicKeyHex(), c.CurrentPK)
	require.Equal(t, iss.PublicKeyHex(), c.IssuerPK)
	require.Equal(t, pkRecipient, transfer.NextPK)
	require.NotEmpty(t, transfer.Signature)
}

func TestIssueCoinProducesUniqueIDs(t *testing.T) {
	iss, err := issuer.New(nil)
	require.NoError(t, err)

	c1, _, err := iss.IssueCoin(1, "pk", "engineA", "pkE")
	require.NoError(t, err)
	c2, _, err := iss.IssueCoin(1, "pk", "engineA", "pkE")
	require.NoError(t, err)

	require.NotEqual(t, c1.CoinID, c2.CoinID)
}

func TestSaveLoadKeyRoundTrip(t *testing.T) {
	iss, err := issuer.New(nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "issuer.key")
	require.NoError(t, iss.SaveKey(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := issuer.LoadKey(path)
	require.NoError(t, err)
	require.Equal(t, iss.PublicKeyHex(), loaded.PublicKeyHex())
}
