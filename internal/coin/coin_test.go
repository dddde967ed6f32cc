package coin_test

import (
	"testing"

	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/stretchr/testify/require"
)

func mintTestCoin(t *testing.T, value int64) (coin.Coin, pkicrypto.KeyPair) {
	t.Helper()

	issuer, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)
	engine, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	issuerPK := pkicrypto.PublicKeyToHex(issuer.Public)
	c := coin.Coin{
		CoinID:         "coin-1",
		Value:          value,
		CurrentPK:      issuerPK,
		IssuerPK:       issuerPK,
		EngineEndpoint: "engineA",
		EnginePK:       pkicrypto.PublicKeyToHex(engine.Public),
	}
	sig := pkicrypto.Sign(issuer.Private, c.SigningPayload())
	c.IssuerSignature = pkicrypto.SignatureToHex(sig)
	return c, issuer
}

func TestVerifyIssuerHoldsForFreshlyMintedCoin(t *testing.T) {
	c, _ := mintTestCoin(t, 10)
	require.True(t, c.VerifyIssuer())
}

func TestVerifyIssuerFailsOnTamperedSignature(t *testing.T) {
	c, _ := mintTestCoin(t, 10)
	c.IssuerSignature = "00" + c.IssuerSignature[2:]
	require.False(t, c.VerifyIssuer())
}

func TestVerifyIssuerFailsOnTamperedValue(t *testing.T) {
	c, _ := mintTestCoin(t, 10)
	c.Value = 20
	require.False(t, c.VerifyIssuer())
}

func TestCoinJSONRoundTrip(t *testing.T) {
	c, _ := mintTestCoin(t, 42)

	data, err := c.ToJSON()
	require.NoError(t, err)

	decoded, err := coin.FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, c, decoded)
	require.True(t, decoded.VerifyIssuer())
}

func TestConfirmationVerify(t *testing.T) {
	engine, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	conf := coin.Confirmation{
		CoinID:   "coin-1",
		NextPK:   "deadbeef",
		Status:   coin.StatusIssued,
		EnginePK: pkicrypto.PublicKeyToHex(engine.Public),
	}
	sig := pkicrypto.Sign(engine.Private, conf.SigningPayload())
	conf.EngineSignature = pkicrypto.SignatureToHex(sig)

	require.True(t, conf.Verify())

	conf.Status = coin.StatusConfirmed
	require.False(t, conf.Verify())
}
