package transport

import (
	"context"
	"errors"
)

// ErrMalformedEnvelope is wrapped into decode errors raised by DecodeFrame.
var ErrMalformedEnvelope = errors.New("transport: malformed envelope")

// ErrNoPath is returned by Send when no route to dest could be discovered.
var ErrNoPath = errors.New("transport: no path to destination")

// ErrTimeout is returned by Send when path discovery or link establishment
// did not complete within the bounded timeout.
var ErrTimeout = errors.New("transport: send timed out")

// MessageHandler is invoked once per inbound envelope. Implementations run
// on whatever goroutine the concrete Transport delivers on — never the
// caller's — so handlers that touch shared actor state must route through
// the actor's own command channel rather than mutating it directly.
type MessageHandler func(Envelope)

// Transport is the abstract contract every actor is built against. A
// concrete implementation (an in-memory loopback for tests and
// same-process wiring, or the websocket-backed meshnet package for a real
// multi-process deployment) owns addressing, path discovery, and link
// establishment; this interface only exposes what the protocol layer
// needs.
type Transport interface {
	// Destination returns this actor's own address on the transport.
	Destination() string

	// Announce broadcasts this actor's presence: name, role, and the
	// transaction public key peers should address coin-level messages
	// to.
	Announce(ctx context.Context, name, role, pkTransactionHex string) error

	// Send delivers a typed message to destHash, blocking up to the
	// transport's bounded timeout while a path/link is established.
	// Returns ErrTimeout or ErrNoPath on failure; in both cases no
	// ledger-visible state changes anywhere, since the receiving side
	// never saw the message.
	Send(ctx context.Context, destHash, targetRole, msgType string, payload any) error

	// OnMessage registers the callback invoked for every inbound
	// envelope addressed to this actor. Only one handler is supported;
	// registering a second replaces the first.
	OnMessage(handler MessageHandler)
}

// Announcement is what a Transport implementation's announce-handler
// observes for a peer.
type Announcement struct {
	DestHash      string
	Name          string
	Role          string
	PKTransaction string
}
