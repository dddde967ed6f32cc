package protocol

import (
	"context"
	"time"

	"github.com/pkicash/pkicashd/internal/approval"
	"github.com/pkicash/pkicashd/internal/issuer"
	"github.com/pkicash/pkicashd/internal/transport"
)

// actionApproveCoinRequest is the approval_token action an operator's
// ApproveCoinRequest call authorises.
const actionApproveCoinRequest = "approve_coin_request"

// IssuerHandler drives an issuer.Issuer (the bank role) from inbound
// envelopes: it answers coin_request messages by minting and handing
// coins to the engine, and tracks the engine-registration handshake in a
// HandshakeBook.
type IssuerHandler struct {
	iss    *issuer.Issuer
	tp     transport.Transport
	ledger *Ledger
	book   *HandshakeBook
	name   string

	engineDest string
	pkEngine   string
}

// NewIssuerHandler wires iss to tp. engineDest/pkEngineHex identify the
// engine this bank hands newly minted coins to. A fresh approval.Authority
// is generated to mint approval_token values for this bank's pending
// coin_request requests.
func NewIssuerHandler(iss *issuer.Issuer, tp transport.Transport, name, engineDest, pkEngineHex string) (*IssuerHandler, error) {
	authority, err := approval.NewAuthority()
	if err != nil {
		return nil, err
	}
	return &IssuerHandler{
		iss:        iss,
		tp:         tp,
		ledger:     NewLedger(authority),
		book:       NewHandshakeBook(),
		name:       name,
		engineDest: engineDest,
		pkEngine:   pkEngineHex,
	}, nil
}

// Ledger exposes the incoming coin_request ledger for operator tooling.
func (h *IssuerHandler) Ledger() *Ledger { return h.ledger }

// HandshakeBook exposes this bank's view of its engine registrations.
func (h *IssuerHandler) HandshakeBook() *HandshakeBook { return h.book }

// Start registers the handler as the transport's message callback.
func (h *IssuerHandler) Start() {
	h.tp.OnMessage(h.Dispatch)
}

// RequestEngineRegistration sends register_issuer to the configured
// engine, starting the handshake in §4.4's message table.
func (h *IssuerHandler) RequestEngineRegistration(ctx context.Context) error {
	h.book.MarkRequested(h.engineDest)
	p := RegisterIssuerPayload{PKIssuer: h.iss.PublicKeyHex(), BankName: h.name}
	return h.tp.Send(ctx, h.engineDest, RoleEngine, TypeRegisterIssuer, p)
}

// Dispatch handles one inbound envelope. Exported for the same reason
// as EngineHandler.Dispatch.
func (h *IssuerHandler) Dispatch(env transport.Envelope) {
	ctx := context.Background()

	switch env.Type {
	case TypeEngineRegisterRequest:
		h.handleEngineRegisterRequest(ctx, env)
	case TypeIssuerConfirmed:
		var p IssuerConfirmedPayload
		if err := env.Decode(&p); err == nil {
			h.book.MarkConfirmed(env.FromHash, p.PKEngine)
		}
	case TypeIssuerDeclined, TypeBankRegisterDeclined:
		var p DeclinedPayload
		_ = env.Decode(&p)
		h.book.MarkDeclined(env.FromHash, p.Reason)
	case TypeCoinRequest:
		h.handleCoinRequest(ctx, env)
	default:
		log.Debugf("issuer: ignoring unhandled message type %q from %s", env.Type, env.FromHash)
	}
}

func (h *IssuerHandler) handleEngineRegisterRequest(ctx context.Context, env transport.Envelope) {
	var p EngineRegisterRequestPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("issuer: malformed engine_register_request from %s: %v", env.FromHash, err)
		return
	}
	h.book.MarkInvited(p.PKEngine, p.EngineName, p.EngineDest)

	resp := BankRegisterResponsePayload{PKIssuer: h.iss.PublicKeyHex(), BankName: h.name}
	if err := h.tp.Send(ctx, p.EngineDest, RoleEngine, TypeBankRegisterResponse, resp); err != nil {
		log.Warnf("issuer: could not send bank_register_response to %s: %v", p.EngineDest, err)
	}
}

func (h *IssuerHandler) handleCoinRequest(ctx context.Context, env transport.Envelope) {
	var p CoinRequestPayload
	if err := env.Decode(&p); err != nil {
		log.Warnf("issuer: malformed coin_request from %s: %v", env.FromHash, err)
		return
	}
	h.ledger.AddIncoming(TypeCoinRequest, env.FromHash, env.FromRole, p, time.Now())
}

// ApproveCoinRequest mints and hands off one coin per public key supplied
// in a pending coin_request, then resolves the request. value is the face
// value per coin (the request's Amount is the ledger-visible total the
// operator is approving against).
func (h *IssuerHandler) ApproveCoinRequest(ctx context.Context, requestID int64, valuePerCoin int64, engineDest, pkEngineHex string) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.ApproveCoinRequest")
	}
	p, ok := target.Payload.(CoinRequestPayload)
	if !ok {
		return errNotFound("protocol.ApproveCoinRequest")
	}

	for _, pk := range p.PublicKeys {
		c, transfer, err := h.iss.IssueCoin(valuePerCoin, pk, engineDest, pkEngineHex)
		if err != nil {
			return err
		}
		msg := RegisterCoinPayload{
			Coin:              c,
			RecipientDest:     p.WalletDest,
			PKNext:            transfer.NextPK,
			TransferSignature: transfer.Signature,
			Description:       p.Description,
		}
		if err := h.tp.Send(ctx, engineDest, RoleEngine, TypeRegisterCoin, msg); err != nil {
			return err
		}
	}

	if _, err := h.ledger.ApproveWithToken(requestID, actionApproveCoinRequest, DefaultApprovalTTL, time.Now()); err != nil {
		return err
	}
	return nil
}

// DeclineCoinRequest rejects a pending coin_request.
func (h *IssuerHandler) DeclineCoinRequest(ctx context.Context, requestID int64, reason string) error {
	var target *IncomingRequest
	for _, r := range h.ledger.IncomingRequests() {
		if r.ID == requestID {
			target = r
			break
		}
	}
	if target == nil {
		return errNotFound("protocol.DeclineCoinRequest")
	}
	h.ledger.ResolveIncoming(requestID, StatusDeclined, reason)
	return h.tp.Send(ctx, target.FromHash, RoleWallet, TypeCoinRequestDeclined, DeclinedPayload{Reason: reason})
}
