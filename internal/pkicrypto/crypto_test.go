package pkicrypto_test

import (
	"testing"

	"github.com/pkicash/pkicashd/internal/pkicrypto"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	payload := pkicrypto.BuildPayload("coin-1", "pk-next")
	sig := pkicrypto.Sign(kp.Private, payload)

	require.True(t, pkicrypto.Verify(kp.Public, payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	sig := pkicrypto.Sign(kp.Private, pkicrypto.BuildPayload("coin-1", "pk-next"))

	require.False(t, pkicrypto.Verify(kp.Public, pkicrypto.BuildPayload("coin-1", "pk-other"), sig))
}

func TestVerifyNeverPanicsOnMalformedInput(t *testing.T) {
	require.False(t, pkicrypto.Verify(nil, []byte("x"), nil))
	require.False(t, pkicrypto.Verify([]byte{1, 2, 3}, []byte("x"), []byte{4, 5, 6}))
}

func TestBuildPayloadJoinsWithPipe(t *testing.T) {
	require.Equal(t, []byte("a|b|c"), pkicrypto.BuildPayload("a", "b", "c"))
}

func TestHexRoundTrip(t *testing.T) {
	kp, err := pkicrypto.GenerateKeyPair()
	require.NoError(t, err)

	pk, err := pkicrypto.PublicKeyFromHex(pkicrypto.PublicKeyToHex(kp.Public))
	require.NoError(t, err)
	require.Equal(t, kp.Public, pk)

	sk, err := pkicrypto.PrivateKeyFromHex(pkicrypto.PrivateKeyToHex(kp.Private))
	require.NoError(t, err)
	require.Equal(t, kp.Private, sk)

	sig := pkicrypto.Sign(kp.Private, []byte("msg"))
	decoded, err := pkicrypto.SignatureFromHex(pkicrypto.SignatureToHex(sig))
	require.NoError(t, err)
	require.Equal(t, sig, []byte(decoded))
}

func TestPublicKeyFromHexRejectsWrongLength(t *testing.T) {
	_, err := pkicrypto.PublicKeyFromHex("abcd")
	require.Error(t, err)
}
