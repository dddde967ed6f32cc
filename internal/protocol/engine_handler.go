package protocol

import (
	"context"
	"time"

	"github.com/pkicash/pkicashd/internal/approval"
	"github.com/pkicash/pkicashd/internal/engine"
	"github.com/pkicash/pkicashd/internal/pkierrors"
	"github.com/pkicash/pkicashd/internal/transport"
)

// actionApproveRegisterIssuer is the approval_token action an operator's
// ApproveIssuerRegistration call authorises.
const actionApproveRegisterIssuer = "approve_register_issuer"

// EngineHandler drives an engine.Engine from inbound transport envelopes:
// register_issuer, register_coin, and transaction. Every ledger mutation
// is immediately pushed to the affected wallet(s) as coin_delivery /
// coin_transfer / tx_confirmed, matching the "current design" push model
// noted in the transport concurrency section rather than a pull-only
// polling API.
type EngineHandler struct {
	eng    *engine.Engine
	tp     transport.Transport
	ledger *Ledger
	name   string
}

// NewEngineHandler wires eng to tp. name is announced to peers as this
// engine's display name. A fresh approval.Authority is generated to mint
// approval_token values for this engine's pending register_issuer
// requests.
func NewEngineHandler(eng *engine.Engine, tp transport.Transport, name string) (*EngineHandler, error) {
	authority, err := approval.NewAuthority()
	if err != nil {
		return nil, err
	}
	return &EngineHandler{eng: eng, tp: tp, ledger: NewLedger(authority), name: name}, nil
}

// Ledger exposes the incoming administrative-request ledger for operator
// tooling (approve/decline register_issuer requests).
func (h *EngineHandler) Ledger() *Ledger { return h.ledger }

// Start registers the handler as the transport's message callback.
func (h *EngineHandler) Start() {
	h.tp.OnMessage(h.Dispatch)
}

// Dispatch handles one inbound envelope. Exported so callers that want
// to serialise delivery through their own single-owner goroutine (the
// actor pattern) can register it directly instead of using Start.
func (h *EngineHandler) Dispatch(env transport.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case TypeRegisterIssuer:
		h.handleRegisterIssuer(ctx, env)
	case TypeBankRegisterResponse:
		// Confirmation round trip only; no ledger-visible effect until
		// the operator approves the original register_issuer request.
		log.Debugf("engine: bank_register_response from %s", env.FromHash)
	case TypeRegisterCoin:
		h.handleRegisterCoin(ctx, env)
	case TypeTransaction:
		h.handleTransaction(ctx, env)
	default:
		log.Debugf("engine: ignoring unhandled message type %q from %s", env.Type, env.FromHash)
	}
}

func (h *EngineHandler) handleRegisterIssuer(ctx context.Context, env transport.Envelope) {
	var p RegisterIssuerPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("engine: malformed register_issuer from %s: %v", env.FromHash, err)
		return
	}

	h.ledger.AddIncoming(TypeRegisterIssuer, env.FromHash, env.FromRole, p, time.Now())

	invite := EngineRegisterRequestPayload{
		PKEngine:   h.eng.PublicKeyHex(),
		EngineName: h.name,
		EngineDest: h.tp.Destination(),
	}
	if err := h.tp.Send(ctx, env.FromHash, RoleIssuer, TypeEngineRegisterRequest, invite); err != nil {
		log.Warnf("engine: could not send engine_register_request to %s: %v", env.FromHash, err)
	}
}

// ApproveIssuerRegistration is the operator action that completes a
// pending register_issuer request: the issuer's key is trusted and
// issuer_confirmed is sent back.
func (h *EngineHandler) ApproveIssuerRegistration(ctx context.Context, requestID int64) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.ApproveIssuerRegistration")
	}
	p, ok := target.Payload.(RegisterIssuerPayload)
	if !ok {
		return errNotFound("protocol.ApproveIssuerRegistration")
	}

	if err := h.eng.RegisterIssuer(ctx, p.PKIssuer); err != nil {
		return err
	}
	if _, err := h.ledger.ApproveWithToken(requestID, actionApproveRegisterIssuer, DefaultApprovalTTL, time.Now()); err != nil {
		return err
	}

	ack := IssuerConfirmedPayload{PKEngine: h.eng.PublicKeyHex(), EngineDest: h.tp.Destination()}
	return h.tp.Send(ctx, target.FromHash, RoleIssuer, TypeIssuerConfirmed, ack)
}

// DeclineIssuerRegistration is the operator action that rejects a
// pending register_issuer request.
func (h *EngineHandler) DeclineIssuerRegistration(ctx context.Context, requestID int64, reason string) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.DeclineIssuerRegistration")
	}
	h.ledger.ResolveIncoming(requestID, StatusDeclined, reason)
	return h.tp.Send(ctx, target.FromHash, RoleIssuer, TypeIssuerDeclined, DeclinedPayload{Reason: reason})
}

func (h *EngineHandler) handleRegisterCoin(ctx context.Context, env transport.Envelope) {
	var p RegisterCoinPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("engine: malformed register_coin from %s: %v", env.FromHash, err)
		return
	}

	_, err := h.eng.RegisterCoin(ctx, p.Coin, p.RecipientDest, p.PKNext, p.TransferSignature)
	if err != nil {
		log.Warnf("engine: register_coin for %s rejected: %v", p.Coin.CoinID, err)
		return
	}

	h.pushDeliveries(ctx, p.RecipientDest)
}

func (h *EngineHandler) handleTransaction(ctx context.Context, env transport.Envelope) {
	var p TransactionPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("engine: malformed transaction from %s: %v", env.FromHash, err)
		return
	}

	_, err := h.eng.ProcessTransaction(ctx, engine.TransactionRequest{
		CoinID:        p.CoinID,
		NextPK:        p.PKNext,
		RecipientDest: p.RecipientDest,
		Signature:     p.Signature,
	})
	status := "confirmed"
	if err != nil {
		status = pkierrors.KindOf(err).String()
		log.Warnf("engine: transaction on %s rejected: %v", p.CoinID, err)
	}

	ack := TxConfirmedPayload{CoinID: p.CoinID, Status: status}
	if sendErr := h.tp.Send(ctx, env.FromHash, RoleWallet, TypeTxConfirmed, ack); sendErr != nil {
		log.Warnf("engine: could not send tx_confirmed to %s: %v", env.FromHash, sendErr)
	}
	if err != nil {
		return
	}

	h.pushDeliveries(ctx, p.RecipientDest)
}

func (h *EngineHandler) pushDeliveries(ctx context.Context, recipientDest string) {
	deliveries, err := h.eng.GetPendingDeliveries(ctx, recipientDest)
	if err != nil {
		log.Warnf("engine: could not fetch pending deliveries for %s: %v", recipientDest, err)
		return
	}

	for _, d := range deliveries {
		msgType := TypeCoinDelivery
		if d.Confirmation.Status == "confirmed" {
			msgType = TypeCoinTransfer
		}
		if err := h.tp.Send(ctx, recipientDest, RoleWallet, msgType, DeliveryPayload{Delivery: d}); err != nil {
			log.Warnf("engine: could not push delivery for %s to %s: %v", d.Coin.CoinID, recipientDest, err)
		}
	}
}
