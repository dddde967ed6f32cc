// Package protocol wires the coin, engine, issuer, and wallet packages to
// an abstract transport.Transport: it defines the message envelope
// payloads that flow role-to-role, the monotonic request state machines
// each role keeps for administrative messages, and the per-role handlers
// that drive the ledger over an asynchronous, lossy link.
package protocol

import "github.com/pkicash/pkicashd/internal/coin"

// Message type identifiers. Every envelope's Type field is one of these.
const (
	TypeRegisterIssuer        = "register_issuer"
	TypeEngineRegisterRequest = "engine_register_request"
	TypeBankRegisterResponse  = "bank_register_response"
	TypeIssuerConfirmed       = "issuer_confirmed"
	TypeIssuerDeclined        = "issuer_declined"
	TypeBankRegisterDeclined  = "bank_register_declined"

	TypeRegisterCoin        = "register_coin"
	TypeCoinRequest         = "coin_request"
	TypeCoinRequestDeclined = "coin_request_declined"

	TypeTransaction  = "transaction"
	TypeTxConfirmed  = "tx_confirmed"
	TypeCoinDelivery = "coin_delivery"
	TypeCoinTransfer = "coin_transfer"

	TypePaymentRequest  = "payment_request"
	TypePaymentResponse = "payment_response"
	TypePaymentDeclined = "payment_declined"
)

// Role identifiers, used as the targetRole argument to Transport.Send and
// to tag envelopes' FromRole.
const (
	RoleIssuer = "issuer"
	RoleEngine = "engine"
	RoleWallet = "wallet"
)

// RegisterIssuerPayload is sent bank -> engine to request trust.
type RegisterIssuerPayload struct {
	PKIssuer string `json:"pk_issuer"`
	BankName string `json:"bank_name"`
}

// EngineRegisterRequestPayload is sent engine -> bank, inviting the bank
// to confirm its registration endpoint.
type EngineRegisterRequestPayload struct {
	PKEngine   string `json:"pk_engine"`
	EngineName string `json:"engine_name"`
	EngineDest string `json:"engine_dest"`
}

// BankRegisterResponsePayload is sent bank -> engine to complete the
// handshake started by EngineRegisterRequestPayload.
type BankRegisterResponsePayload struct {
	PKIssuer string `json:"pk_issuer"`
	BankName string `json:"bank_name"`
}

// IssuerConfirmedPayload is sent engine -> bank once registration succeeds.
type IssuerConfirmedPayload struct {
	PKEngine   string `json:"pk_engine"`
	EngineDest string `json:"engine_dest"`
}

// DeclinedPayload carries a reason for any *_declined message type.
type DeclinedPayload struct {
	Reason string `json:"reason"`
}

// RegisterCoinPayload is sent bank -> engine to mint and hand off a coin.
type RegisterCoinPayload struct {
	Coin              coin.Coin `json:"coin"`
	RecipientDest     string    `json:"recipient_dest"`
	PKNext            string    `json:"pk_next"`
	TransferSignature string    `json:"transfer_signature"`
	Description       string    `json:"description,omitempty"`
}

// CoinRequestPayload is sent wallet -> bank asking for newly minted coins.
type CoinRequestPayload struct {
	Amount      int64    `json:"amount"`
	WalletDest  string   `json:"wallet_dest"`
	PublicKeys  []string `json:"public_keys"`
	Description string   `json:"description,omitempty"`
}

// TransactionPayload is sent wallet -> engine to move a coin it owns.
type TransactionPayload struct {
	CoinID        string `json:"coin_id"`
	PKNext        string `json:"pk_next"`
	RecipientDest string `json:"recipient_dest"`
	Signature     string `json:"signature"`
	Description   string `json:"description,omitempty"`
}

// TxConfirmedPayload is sent engine -> wallet(sender) acknowledging a
// transaction was accepted (or reporting why it was not, via status).
type TxConfirmedPayload struct {
	CoinID string `json:"coin_id"`
	Status string `json:"status"`
}

// DeliveryPayload is sent engine -> wallet(recipient): the full delivery
// row, as coin_delivery (first receipt of a coin) or coin_transfer
// (subsequent payment).
type DeliveryPayload struct {
	Delivery coin.Delivery `json:"delivery"`
}

// PaymentRequestPayload is sent wallet -> wallet to request a payment.
// PublicKeys are pre-generated receive keys, one per coin the requester
// is willing to accept; the paying wallet uses them as pk_next values.
type PaymentRequestPayload struct {
	Address     string   `json:"address"`
	PK          string   `json:"pk"`
	PublicKeys  []string `json:"public_keys"`
	Amount      int64    `json:"amount"`
	Description string   `json:"description,omitempty"`
}

// PaymentResponsePayload is sent wallet -> wallet to accept a payment
// request, echoing it back so the payer can match its own ledger entry.
type PaymentResponsePayload struct {
	PK              string                `json:"pk"`
	Address         string                `json:"address"`
	OriginalRequest PaymentRequestPayload `json:"original_request"`
}

// PaymentDeclinedPayload is sent wallet -> wallet to decline a payment
// request.
type PaymentDeclinedPayload struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}
