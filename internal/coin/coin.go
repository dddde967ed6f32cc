// Package coin implements the bearer-token data model: a stable identifier,
// a face value, and the cryptographic proof that a trusted issuer minted
// it, plus the public key of whoever currently owns it.
package coin

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/pkicash/pkicashd/internal/pkicrypto"
)

// Coin is an immutable-identity bearer token with mutable ownership.
// CoinID, Value, IssuerPK, IssuerSignature, and EnginePK never change once
// minted; only CurrentPK changes, and only as the engine accepts a valid
// transfer.
type Coin struct {
	CoinID          string `json:"coin_id"`
	Value           int64  `json:"waarde"`
	CurrentPK       string `json:"pk_current"`
	IssuerPK        string `json:"pk_issuer"`
	IssuerSignature string `json:"issuer_signature"`
	EngineEndpoint  string `json:"state_engine_endpoint"`
	EnginePK        string `json:"pk_engine"`
}

// SigningPayload returns the payload the issuer signature is computed over:
// build_payload(coin_id, str(value), pk_issuer).
func (c Coin) SigningPayload() []byte {
	return pkicrypto.BuildPayload(c.CoinID, fmt.Sprintf("%d", c.Value), c.IssuerPK)
}

// VerifyIssuer reports whether IssuerSignature is a valid signature over
// SigningPayload() under IssuerPK.
func (c Coin) VerifyIssuer() bool {
	pk, err := pkicrypto.PublicKeyFromHex(c.IssuerPK)
	if err != nil {
		return false
	}
	sig, err := pkicrypto.SignatureFromHex(c.IssuerSignature)
	if err != nil {
		return false
	}
	return pkicrypto.Verify(pk, c.SigningPayload(), sig)
}

// VerifyIssuerAgainst reports whether IssuerSignature verifies against an
// externally supplied issuer public key, for callers that want to check a
// coin against a specific trusted key rather than the key embedded in the
// coin itself.
func (c Coin) VerifyIssuerAgainst(pk ed25519.PublicKey) bool {
	sig, err := pkicrypto.SignatureFromHex(c.IssuerSignature)
	if err != nil {
		return false
	}
	return pkicrypto.Verify(pk, c.SigningPayload(), sig)
}

// ToJSON serialises the coin to its canonical wire format.
func (c Coin) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// FromJSON parses a coin from its canonical wire format.
func FromJSON(data []byte) (Coin, error) {
	var c Coin
	if err := json.Unmarshal(data, &c); err != nil {
		return Coin{}, fmt.Errorf("coin: decode: %w", err)
	}
	return c, nil
}

// Transfer is a signed statement that the holder of the coin's current key
// authorises NextPK as its new owner. It is only meaningful relative to an
// engine's recorded
// pk_current for CoinID.
type Transfer struct {
	CoinID        string `json:"coin_id"`
	NextPK        string `json:"pk_next"`
	RecipientDest string `json:"recipient_dest"`
	Signature     string `json:"signature"`
	Description   string `json:"description,omitempty"`
}

// SigningPayload returns build_payload(coin_id, pk_next), the payload a
// transfer signature must be computed over.
func (t Transfer) SigningPayload() []byte {
	return pkicrypto.BuildPayload(t.CoinID, t.NextPK)
}

// Status is the confirmation status tag the engine attaches to a ledger
// mutation.
type Status string

const (
	// StatusIssued marks the confirmation produced by RegisterCoin, the
	// initial issuer-to-recipient hand-off.
	StatusIssued Status = "issued"

	// StatusConfirmed marks the confirmation produced by
	// ProcessTransaction, any later wallet-to-wallet hand-off.
	StatusConfirmed Status = "confirmed"
)

// Confirmation is the only evidence a wallet trusts as proof of receipt: an
// engine-signed record that a ledger mutation was accepted.
type Confirmation struct {
	CoinID          string `json:"coin_id"`
	NextPK          string `json:"pk_next"`
	Status          Status `json:"status"`
	EngineSignature string `json:"engine_signature"`
	EnginePK        string `json:"pk_engine"`
}

// SigningPayload returns build_payload(coin_id, pk_next, status).
func (c Confirmation) SigningPayload() []byte {
	return pkicrypto.BuildPayload(c.CoinID, c.NextPK, string(c.Status))
}

// Verify reports whether EngineSignature is a valid signature over
// SigningPayload() under EnginePK.
func (c Confirmation) Verify() bool {
	pk, err := pkicrypto.PublicKeyFromHex(c.EnginePK)
	if err != nil {
		return false
	}
	sig, err := pkicrypto.SignatureFromHex(c.EngineSignature)
	if err != nil {
		return false
	}
	return pkicrypto.Verify(pk, c.SigningPayload(), sig)
}

// Delivery bundles a coin with the confirmation proving the engine
// accepted its current ownership, ready to hand to the recipient wallet.
type Delivery struct {
	Coin         Coin         `json:"coin"`
	Confirmation Confirmation `json:"confirmation"`
	Description  string       `json:"description,omitempty"`
	SenderDest   string       `json:"sender_dest,omitempty"`
}
