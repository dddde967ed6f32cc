package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/pkicash/pkicashd/internal/transport"
	"github.com/pkicash/pkicashd/internal/wallet"
)

// pendingSend is what a wallet remembers about a transaction it signed
// and sent to the engine but has not yet seen acknowledged. The coin is
// only removed locally once tx_confirmed arrives with status "confirmed"
// — the "sign-then-engine-ack-then-delete" ordering from spec §4.4 — so
// a transport failure or an engine rejection leaves the coin spendable.
type pendingSend struct {
	recipientDest string
	description   string
}

// WalletHandler drives a wallet.Store from inbound envelopes: it installs
// coin_delivery/coin_transfer rows, finalises sends once tx_confirmed
// arrives, and answers payment_request/payment_response/payment_declined
// between peer wallets.
type WalletHandler struct {
	store  *wallet.Store
	tp     transport.Transport
	ledger *Ledger

	mu      sync.Mutex
	pending map[string]pendingSend
}

// NewWalletHandler wires store to tp.
func NewWalletHandler(store *wallet.Store, tp transport.Transport) *WalletHandler {
	return &WalletHandler{
		store:   store,
		tp:      tp,
		ledger:  NewLedger(nil),
		pending: make(map[string]pendingSend),
	}
}

// Ledger exposes the wallet's request ledgers (incoming payment_request
// entries, outgoing coin and payment requests).
func (h *WalletHandler) Ledger() *Ledger { return h.ledger }

// Start registers the handler as the transport's message callback.
func (h *WalletHandler) Start() {
	h.tp.OnMessage(h.Dispatch)
}

// Dispatch handles one inbound envelope. Exported for the same reason
// as EngineHandler.Dispatch.
func (h *WalletHandler) Dispatch(env transport.Envelope) {
	switch env.Type {
	case TypeCoinDelivery, TypeCoinTransfer:
		h.handleDelivery(env)
	case TypeTxConfirmed:
		h.handleTxConfirmed(env)
	case TypeCoinRequestDeclined:
		var p DeclinedPayload
		_ = env.Decode(&p)
		h.ledger.ResolveOutgoingCoinRequest("", StatusDeclined, p.Reason)
	case TypePaymentRequest:
		h.handlePaymentRequest(env)
	case TypePaymentResponse:
		log.Debugf("wallet: payment_response from %s", env.FromHash)
	case TypePaymentDeclined:
		var p PaymentDeclinedPayload
		_ = env.Decode(&p)
		log.Debugf("wallet: payment_declined from %s: %s", env.FromHash, p.Reason)
	default:
		log.Debugf("wallet: ignoring unhandled message type %q from %s", env.Type, env.FromHash)
	}
}

func (h *WalletHandler) handleDelivery(env transport.Envelope) {
	var p DeliveryPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("wallet: malformed %s from %s: %v", env.Type, env.FromHash, err)
		return
	}

	if err := h.store.ReceiveFromEngine(p.Delivery, env.FromHash); err != nil {
		log.Warnf("wallet: rejected delivery for coin %s: %v", p.Delivery.Coin.CoinID, err)
		return
	}

	if match := h.ledger.MatchDelivery(p.Delivery.Coin.CurrentPK); match != nil {
		log.Infof("wallet: payment request to %s now %s", match.Address, match.Status)
	}
}

func (h *WalletHandler) handleTxConfirmed(env transport.Envelope) {
	var p TxConfirmedPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("wallet: malformed tx_confirmed from %s: %v", env.FromHash, err)
		return
	}

	h.mu.Lock()
	info, ok := h.pending[p.CoinID]
	if ok {
		delete(h.pending, p.CoinID)
	}
	h.mu.Unlock()
	if !ok {
		log.Debugf("wallet: tx_confirmed for untracked coin %s, status=%s", p.CoinID, p.Status)
		return
	}

	if p.Status != "confirmed" {
		// Engine rejected the transaction: the wallet never called
		// ConfirmSend, so the coin is still spendable. Nothing to undo.
		log.Warnf("wallet: transaction on %s rejected by engine: %s", p.CoinID, p.Status)
		return
	}

	if err := h.store.ConfirmSend(p.CoinID, info.recipientDest, info.description); err != nil {
		log.Warnf("wallet: confirm_send for %s failed: %v", p.CoinID, err)
	}
}

func (h *WalletHandler) handlePaymentRequest(env transport.Envelope) {
	var p PaymentRequestPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("wallet: malformed payment_request from %s: %v", env.FromHash, err)
		return
	}
	h.ledger.AddIncoming(TypePaymentRequest, env.FromHash, env.FromRole, p, time.Now())
}

// RequestCoins sends coin_request to a bank, offering publicKeys as
// receive keys for the requested amount (one coin per key, per spec
// §4.4's request-to-payment bridging convention).
func (h *WalletHandler) RequestCoins(ctx context.Context, bankDest string, amount int64, publicKeys []string, description string) error {
	h.ledger.AddOutgoingCoinRequest(amount, publicKeys, time.Now())
	p := CoinRequestPayload{
		Amount:      amount,
		WalletDest:  h.tp.Destination(),
		PublicKeys:  publicKeys,
		Description: description,
	}
	return h.tp.Send(ctx, bankDest, RoleIssuer, TypeCoinRequest, p)
}

// RequestPayment sends payment_request to a peer wallet, offering
// publicKeys as receive keys.
func (h *WalletHandler) RequestPayment(ctx context.Context, peerDest, address string, amount int64, publicKeys []string, description string) error {
	h.ledger.AddOutgoingPaymentRequest(address, amount, publicKeys, time.Now())
	p := PaymentRequestPayload{
		Address:     address,
		PK:          h.store.Address(),
		PublicKeys:  publicKeys,
		Amount:      amount,
		Description: description,
	}
	return h.tp.Send(ctx, peerDest, RoleWallet, TypePaymentRequest, p)
}

// SendPayment signs a transfer for coinID and sends it to the engine.
// The coin stays in the wallet until tx_confirmed arrives; handleTxConfirmed
// completes the send with ConfirmSend, or leaves the coin untouched if
// the engine rejects it.
func (h *WalletHandler) SendPayment(ctx context.Context, engineDest, coinID, pkNext, recipientDest, description string) error {
	transfer, err := h.store.CreateTransaction(coinID, pkNext, recipientDest)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.pending[coinID] = pendingSend{recipientDest: recipientDest, description: description}
	h.mu.Unlock()

	msg := TransactionPayload{
		CoinID:        coinID,
		PKNext:        pkNext,
		RecipientDest: recipientDest,
		Signature:     transfer.Signature,
		Description:   description,
	}
	if err := h.tp.Send(ctx, engineDest, RoleEngine, TypeTransaction, msg); err != nil {
		h.mu.Lock()
		delete(h.pending, coinID)
		h.mu.Unlock()
		return err
	}
	return nil
}

// AcceptPaymentRequest pays a pending incoming payment_request by signing
// and sending one transaction per coin it can spare to the engine, using
// the request's offered public keys as pk_next, per the bridging rule in
// spec §4.4. The requester's own wallet matches each resulting delivery
// against its outstanding request once the coins arrive.
func (h *WalletHandler) AcceptPaymentRequest(ctx context.Context, requestID int64, engineDest string, coinIDs []string) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.AcceptPaymentRequest")
	}
	p, ok := target.Payload.(PaymentRequestPayload)
	if !ok {
		return errNotFound("protocol.AcceptPaymentRequest")
	}
	if len(coinIDs) > len(p.PublicKeys) {
		return errNotFound("protocol.AcceptPaymentRequest")
	}

	for i, coinID := range coinIDs {
		if err := h.SendPayment(ctx, engineDest, coinID, p.PublicKeys[i], p.Address, p.Description); err != nil {
			return err
		}
	}

	h.ledger.ResolveIncoming(requestID, StatusApproved, "")

	resp := PaymentResponsePayload{PK: h.store.Address(), Address: p.Address, OriginalRequest: p}
	return h.tp.Send(ctx, target.FromHash, RoleWallet, TypePaymentResponse, resp)
}

// DeclinePaymentRequest rejects a pending incoming payment_request.
func (h *WalletHandler) DeclinePaymentRequest(ctx context.Context, requestID int64, reason string) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.DeclinePaymentRequest")
	}
	h.ledger.ResolveIncoming(requestID, StatusDeclined, reason)
	return h.tp.Send(ctx, target.FromHash, RoleWallet, TypePaymentDeclined, PaymentDeclinedPayload{
		Address: h.store.Address(),
		Reason:  reason,
	})
}
