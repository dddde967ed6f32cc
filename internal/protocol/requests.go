package protocol

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkicash/pkicashd/internal/approval"
	"gopkg.in/macaroon.v2"
)

// DefaultApprovalTTL bounds how long an approval_token minted by
// Ledger.ApproveWithToken stays valid.
const DefaultApprovalTTL = 10 * time.Minute

// RequestStatus is the state of an in-flight administrative or payment
// request. Transitions are monotonic: once a request leaves Pending it is
// frozen, per spec: administrative messages land pending and move to
// approved/declined/paid only by explicit operator (or recipient) action.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDeclined RequestStatus = "declined"
	StatusPartial  RequestStatus = "partial"
	StatusPaid     RequestStatus = "paid"
)

// IncomingRequest is a pending administrative message this actor must act
// on: register_issuer (engine), coin_request (bank), or payment_request
// (wallet). A bank answers engine_register_request directly, without
// recording it here.
type IncomingRequest struct {
	ID        int64
	Type      string
	FromHash  string
	FromRole  string
	Payload   any
	Status    RequestStatus
	CreatedAt time.Time
	Reason    string

	// ApprovalToken is the base64-encoded macaroon minted by
	// Ledger.ApproveWithToken when an operator approves this request.
	// Empty until approved; declined requests never get one.
	ApprovalToken string
}

// OutgoingCoinRequest tracks a coin_request this actor sent to a bank.
type OutgoingCoinRequest struct {
	ID         int64
	Amount     int64
	PublicKeys []string
	Status     RequestStatus
	CreatedAt  time.Time
	Reason     string
}

// OutgoingPaymentRequest tracks a payment_request this actor sent to a
// peer wallet. PublicKeys are the receive keys offered; Fulfilled is the
// subset matched against delivered coins so far (advances the status
// pending -> partial -> paid as deliveries arrive).
type OutgoingPaymentRequest struct {
	ID         int64
	Address    string
	Amount     int64
	PublicKeys []string
	Fulfilled  map[string]bool
	Status     RequestStatus
	CreatedAt  time.Time
	Reason     string
}

// Ledger holds the three user-visible request ledgers a wallet (or bank)
// keeps per spec §4.4, guarded by a single mutex matching the rest of
// this codebase's single-writer-per-store discipline.
type Ledger struct {
	mu sync.Mutex

	nextID int64

	incoming        []*IncomingRequest
	outgoingCoin    []*OutgoingCoinRequest
	outgoingPayment []*OutgoingPaymentRequest

	// authority mints and verifies approval_token values for incoming
	// administrative requests (register_issuer, coin_request). nil for
	// ledgers that never gate an action behind operator approval, such
	// as a wallet's payment-request ledger.
	authority *approval.Authority
}

// NewLedger returns an empty request ledger. authority may be nil for a
// ledger that never mints approval tokens (ApproveWithToken then always
// fails); engine and issuer handlers pass a real one.
func NewLedger(authority *approval.Authority) *Ledger {
	return &Ledger{authority: authority}
}

func (l *Ledger) allocID() int64 {
	l.nextID++
	return l.nextID
}

// AddIncoming records a freshly received administrative message as
// pending and returns it.
func (l *Ledger) AddIncoming(msgType, fromHash, fromRole string, payload any, now time.Time) *IncomingRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &IncomingRequest{
		ID:        l.allocID(),
		Type:      msgType,
		FromHash:  fromHash,
		FromRole:  fromRole,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
	}
	l.incoming = append(l.incoming, r)
	return r
}

// IncomingRequests returns every recorded incoming request, oldest first.
func (l *Ledger) IncomingRequests() []*IncomingRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*IncomingRequest, len(l.incoming))
	copy(out, l.incoming)
	return out
}

// ResolveIncoming transitions request id out of Pending. It is a no-op
// returning false if the request is unknown or already left Pending:
// transitions are monotonic and frozen once made.
func (l *Ledger) ResolveIncoming(id int64, status RequestStatus, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.incoming {
		if r.ID != id {
			continue
		}
		if r.Status != StatusPending {
			return false
		}
		r.Status = status
		r.Reason = reason
		return true
	}
	return false
}

// ApproveWithToken resolves a pending administrative request to approved,
// the way ResolveIncoming does, but also mints an approval_token (spec
// §6.1) authorising action on it: the token is minted, immediately
// verified against this ledger's authority, and stamped on the resolved
// request before either is returned. ResolveIncoming still handles
// declines and any other transition that carries no token.
func (l *Ledger) ApproveWithToken(id int64, action string, ttl time.Duration, now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	const op = "protocol.Ledger.ApproveWithToken"

	if l.authority == nil {
		return "", errNotFound(op)
	}

	var target *IncomingRequest
	for _, r := range l.incoming {
		if r.ID == id {
			target = r
			break
		}
	}
	if target == nil || target.Status != StatusPending {
		return "", errNotFound(op)
	}

	m, err := l.authority.Mint(id, action, ttl, now)
	if err != nil {
		return "", err
	}
	raw, err := m.MarshalBinary()
	if err != nil {
		return "", err
	}

	var check macaroon.Macaroon
	if err := check.UnmarshalBinary(raw); err != nil {
		return "", err
	}
	if err := l.authority.Verify(&check, id, action, now); err != nil {
		return "", err
	}

	token := base64.StdEncoding.EncodeToString(raw)
	target.Status = StatusApproved
	target.ApprovalToken = token
	return token, nil
}

// AddOutgoingCoinRequest records a coin_request this actor just sent.
func (l *Ledger) AddOutgoingCoinRequest(amount int64, publicKeys []string, now time.Time) *OutgoingCoinRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &OutgoingCoinRequest{
		ID:         l.allocID(),
		Amount:     amount,
		PublicKeys: append([]string(nil), publicKeys...),
		Status:     StatusPending,
		CreatedAt:  now,
	}
	l.outgoingCoin = append(l.outgoingCoin, r)
	return r
}

// OutgoingCoinRequests returns every recorded outgoing coin request.
func (l *Ledger) OutgoingCoinRequests() []*OutgoingCoinRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*OutgoingCoinRequest, len(l.outgoingCoin))
	copy(out, l.outgoingCoin)
	return out
}

// ResolveOutgoingCoinRequest mirrors ResolveIncoming for coin requests:
// it resolves the oldest pending request whose public keys include
// publicKey (callers generate one ledger entry per coin_request, not per
// key).
func (l *Ledger) ResolveOutgoingCoinRequest(publicKey string, status RequestStatus, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.outgoingCoin {
		if r.Status != StatusPending {
			continue
		}
		if !containsString(r.PublicKeys, publicKey) {
			continue
		}
		r.Status = status
		r.Reason = reason
		return true
	}
	return false
}

// AddOutgoingPaymentRequest records a payment_request this actor just sent.
func (l *Ledger) AddOutgoingPaymentRequest(address string, amount int64, publicKeys []string, now time.Time) *OutgoingPaymentRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := &OutgoingPaymentRequest{
		ID:         l.allocID(),
		Address:    address,
		Amount:     amount,
		PublicKeys: append([]string(nil), publicKeys...),
		Fulfilled:  make(map[string]bool),
		Status:     StatusPending,
		CreatedAt:  now,
	}
	l.outgoingPayment = append(l.outgoingPayment, r)
	return r
}

// OutgoingPaymentRequests returns every recorded outgoing payment request.
func (l *Ledger) OutgoingPaymentRequests() []*OutgoingPaymentRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*OutgoingPaymentRequest, len(l.outgoingPayment))
	copy(out, l.outgoingPayment)
	return out
}

// MatchDelivery advances an outgoing payment request's status when a
// delivered coin's pk_current matches one of the request's offered
// public keys: pending/partial -> partial, and -> paid once every key is
// fulfilled. Implements the request-to-payment bridging rule in spec
// §4.4. Returns the matched request, or nil if pkCurrent matches nothing
// outstanding.
func (l *Ledger) MatchDelivery(pkCurrent string) *OutgoingPaymentRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range l.outgoingPayment {
		if r.Status == StatusDeclined || r.Status == StatusPaid {
			continue
		}
		if !containsString(r.PublicKeys, pkCurrent) {
			continue
		}
		if r.Fulfilled == nil {
			r.Fulfilled = make(map[string]bool)
		}
		r.Fulfilled[pkCurrent] = true

		if len(r.Fulfilled) >= len(r.PublicKeys) {
			r.Status = StatusPaid
		} else {
			r.Status = StatusPartial
		}
		return r
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
