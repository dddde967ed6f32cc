// Package pkicrypto holds the deterministic Ed25519-class signing
// primitives every other package builds on: keypair generation, signing,
// verification, hex round-tripping, and the canonical payload builder used
// for every signature in the protocol.
package pkicrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// PublicKeySize and SignatureSize mirror the Ed25519 wire sizes; callers
// that need to validate hex lengths before attempting a decode use these.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// KeyPair is a generated signing identity: a private key and its matching
// public key, both kept in their raw binary form.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateKeyPair produces a fresh Ed25519 keypair using the system CSPRNG.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("pkicrypto: generate keypair: %w", err)
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// Sign produces a detached signature over message using sk.
func Sign(sk ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(sk, message)
}

// Verify reports whether signature is a valid Ed25519 signature over
// message under pk. It never returns an error: a malformed key or
// signature and a genuinely forged one are both simply "not valid" — the
// caller treats verification failure as an authorisation failure, not an
// I/O error.
func Verify(pk ed25519.PublicKey, message, signature []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, message, signature)
}

// BuildPayload constructs a canonical signing input by joining its string
// arguments with the ASCII pipe character and encoding as UTF-8. Every
// signature in the protocol is produced over a BuildPayload output, never
// over a structured serialisation, so the signing input never depends on a
// JSON canonicaliser.
func BuildPayload(parts ...string) []byte {
	return []byte(strings.Join(parts, "|"))
}

// PublicKeyToHex renders a public key as lowercase hex.
func PublicKeyToHex(pk ed25519.PublicKey) string {
	return hex.EncodeToString(pk)
}

// PrivateKeyToHex renders a private key as lowercase hex.
func PrivateKeyToHex(sk ed25519.PrivateKey) string {
	return hex.EncodeToString(sk)
}

// SignatureToHex renders a signature as lowercase hex.
func SignatureToHex(sig []byte) string {
	return hex.EncodeToString(sig)
}

// PublicKeyFromHex decodes a hex-encoded public key, validating its length.
func PublicKeyFromHex(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pkicrypto: decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("pkicrypto: public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// PrivateKeyFromHex decodes a hex-encoded private key, validating its
// length.
func PrivateKeyFromHex(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pkicrypto: decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("pkicrypto: private key has %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

// SignatureFromHex decodes a hex-encoded signature, validating its length.
func SignatureFromHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pkicrypto: decode signature: %w", err)
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("pkicrypto: signature has %d bytes, want %d", len(b), ed25519.SignatureSize)
	}
	return b, nil
}
