// Package issuer implements the bank role's coin factory: it mints coins
// and signs the statement that hands them off to the engine for their
// first transfer. An Issuer is stateless apart from its signing key.
package issuer

import (
	"crypto/ed25519"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkicash/pkicashd/internal/coin"
	"github.com/pkicash/pkicashd/internal/pkicrypto"
)

// Issuer mints coins under a single signing identity.
type Issuer struct {
	kp pkicrypto.KeyPair
}

// New constructs an Issuer. If kp is nil a fresh keypair is generated.
func New(kp *pkicrypto.KeyPair) (*Issuer, error) {
	if kp != nil {
		return &Issuer{kp: *kp}, nil
	}
	generated, err := pkicrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Issuer{kp: generated}, nil
}

// PublicKeyHex returns the issuer's own public key.
func (i *Issuer) PublicKeyHex() string {
	return pkicrypto.PublicKeyToHex(i.kp.Public)
}

// IssueCoin mints a coin of the given value and produces the initial
// transfer statement authorising its move from the issuer to pkRecipient.
// The returned coin carries pk_current = pk_issuer: the engine is the one
// that advances ownership to the recipient, atomically with registering
// the coin, so the issuer never shows up as an owner in any wallet's view
// of the ledger.
func (i *Issuer) IssueCoin(value int64, pkRecipientHex, engineEndpoint, pkEngineHex string) (coin.Coin, coin.Transfer, error) {
	coinID := uuid.NewString()

	c := coin.Coin{
		CoinID:         coinID,
		Value:          value,
		CurrentPK:      i.PublicKeyHex(),
		IssuerPK:       i.PublicKeyHex(),
		EngineEndpoint: engineEndpoint,
		EnginePK:       pkEngineHex,
	}
	issuerSig := pkicrypto.Sign(i.kp.Private, c.SigningPayload())
	c.IssuerSignature = pkicrypto.SignatureToHex(issuerSig)

	transfer := coin.Transfer{
		CoinID: coinID,
		NextPK: pkRecipientHex,
	}
	transferSig := pkicrypto.Sign(i.kp.Private, transfer.SigningPayload())
	transfer.Signature = pkicrypto.SignatureToHex(transferSig)

	log.Infof("minted coin %s, value %d, recipient %s", coinID, value, shorten(pkRecipientHex))
	return c, transfer, nil
}

// SaveKey persists the issuer's private key as hex to path, mode-restricted
// to the owning user.
func (i *Issuer) SaveKey(path string) error {
	return os.WriteFile(path, []byte(pkicrypto.PrivateKeyToHex(i.kp.Private)), 0600)
}

// LoadKey reads an issuer's private key back from a file written by
// SaveKey.
func LoadKey(path string) (*Issuer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sk, err := pkicrypto.PrivateKeyFromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	return &Issuer{kp: pkicrypto.KeyPair{
		Private: sk,
		Public:  sk.Public().(ed25519.PublicKey),
	}}, nil
}

func shorten(hexStr string) string {
	if len(hexStr) <= 16 {
		return hexStr
	}
	return hexStr[:16] + "…"
}
