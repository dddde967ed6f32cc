// Package wallet implements the Wallet's local state: the coins it holds
// and the secret keys needed to spend them, the receive-keypairs it has
// pre-issued and not yet consumed, and the append-only transaction log.
package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkicash/pkicashd/internal/coin"
)

// defaultMaxPendingKeypairs bounds the pending-receive-keypair store. The
// source grows this set unboundedly (spec.md §9); we cap it and evict the
// oldest entry on overflow, rejecting any delivery that later arrives
// against an evicted key rather than losing it silently.
const defaultMaxPendingKeypairs = 256

// heldCoin is a coin the wallet owns, paired with the private key needed to
// spend it.
type heldCoin struct {
	Coin         coin.Coin `json:"coin"`
	SKCurrentHex string    `json:"sk_current"`
}

// LogEntry is one append-only row of the wallet's transaction history.
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	CoinID       string    `json:"coin_id"`
	Value        int64     `json:"value"`
	Counterparty string    `json:"counterparty,omitempty"`
	Description  string    `json:"description,omitempty"`
}

// Contact is a wallet-local address-book entry mapping a friendly name to
// a mesh destination and public key, recovered from original_source's
// contact-book feature (see SPEC_FULL.md §9.1).
type Contact struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"pk"`
}

// document is the on-disk shape of wallet.json.
type document struct {
	Address             string              `json:"address"`
	Coins               map[string]heldCoin `json:"coins"`
	PendingKeypairs     map[string]string   `json:"pending_keypairs"`
	PendingKeypairOrder []string            `json:"pending_keypair_order"`
	TransactionLog      []LogEntry          `json:"transaction_log"`
	Contacts            []Contact           `json:"contacts"`
}

// Store is the local wallet state document, persisted to a single JSON
// file. All exported methods are safe for concurrent use: the transport
// callback goroutines and the actor's own request-handling goroutine both
// take the mutex before touching doc.
type Store struct {
	mu                 sync.Mutex
	path               string
	doc                document
	maxPendingKeypairs int
	trustedIssuers     []string
}

// Open loads the wallet document at path, creating an empty one if it
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc: document{
			Coins:           make(map[string]heldCoin),
			PendingKeypairs: make(map[string]string),
		},
		maxPendingKeypairs: defaultMaxPendingKeypairs,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, err
	}
	if s.doc.Coins == nil {
		s.doc.Coins = make(map[string]heldCoin)
	}
	if s.doc.PendingKeypairs == nil {
		s.doc.PendingKeypairs = make(map[string]string)
	}
	return s, nil
}

// SetMaxPendingKeypairs overrides the default LRU bound on pending receive
// keypairs. Intended for tests that want to exercise eviction without
// generating hundreds of keys.
func (s *Store) SetMaxPendingKeypairs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPendingKeypairs = n
}

// SetTrustedIssuers configures the issuer public keys this wallet accepts
// coins from, read from its own config at startup. An empty list (the
// default) trusts whichever issuer vouched for a coin at mint time,
// matching the topology where the wallet only ever deals with the one
// issuer it requested coins from; a non-empty list makes ReceiveFromEngine
// reject deliveries from any other issuer, for operators who pin a known
// set of issuers out of band.
func (s *Store) SetTrustedIssuers(pks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trustedIssuers = pks
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *Store) appendLog(action, coinID string, value int64, counterparty, description string) {
	s.doc.TransactionLog = append(s.doc.TransactionLog, LogEntry{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		CoinID:       coinID,
		Value:        value,
		Counterparty: counterparty,
		Description:  description,
	})
}

// Address returns the wallet's own mesh destination.
func (s *Store) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Address
}

// SetAddress records the wallet's own mesh destination, once it has
// announced onto the transport and learned its destination hash.
func (s *Store) SetAddress(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Address = addr
	return s.save()
}

// CoinSummary is the read-only view returned by ListCoins.
type CoinSummary struct {
	CoinID string
	Value  int64
}

// ListCoins returns a summary of every coin the wallet currently holds.
func (s *Store) ListCoins() []CoinSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CoinSummary, 0, len(s.doc.Coins))
	for id, entry := range s.doc.Coins {
		out = append(out, CoinSummary{CoinID: id, Value: entry.Coin.Value})
	}
	return out
}

// GetBalance sums the value of every coin the wallet currently holds.
func (s *Store) GetBalance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, entry := range s.doc.Coins {
		total += entry.Coin.Value
	}
	return total
}

// GetCoin returns the coin record for coinID, if the wallet holds it.
func (s *Store) GetCoin(coinID string) (coin.Coin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.Coins[coinID]
	return entry.Coin, ok
}

// TransactionLog returns the wallet's history, most recent first.
func (s *Store) TransactionLog() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LogEntry, len(s.doc.TransactionLog))
	for i, entry := range s.doc.TransactionLog {
		out[len(out)-1-i] = entry
	}
	return out
}
