package protocol

import "sync"

// HandshakeState tracks a bank's view of its registration with one
// engine, across the register_issuer / engine_register_request /
// bank_register_response / issuer_confirmed round trip described in
// spec §4.4's message table. This is a supplemented feature: the
// distilled protocol table lists the message types but not the state
// each side keeps between them.
type HandshakeState string

const (
	HandshakeRequested HandshakeState = "requested"
	HandshakeInvited   HandshakeState = "invited"
	HandshakeConfirmed HandshakeState = "confirmed"
	HandshakeDeclined  HandshakeState = "declined"
)

// EngineRecord is what a bank remembers about one engine it has
// attempted to register with.
type EngineRecord struct {
	PKEngine   string
	EngineName string
	EngineDest string
	State      HandshakeState
	Reason     string
}

// HandshakeBook is the bank-side directory of in-progress and completed
// engine registrations, keyed by engine destination hash.
type HandshakeBook struct {
	mu      sync.Mutex
	engines map[string]*EngineRecord
}

// NewHandshakeBook returns an empty bank-side handshake directory.
func NewHandshakeBook() *HandshakeBook {
	return &HandshakeBook{engines: make(map[string]*EngineRecord)}
}

// MarkRequested records that register_issuer was just sent to
// engineDest.
func (b *HandshakeBook) MarkRequested(engineDest string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engines[engineDest] = &EngineRecord{EngineDest: engineDest, State: HandshakeRequested}
}

// MarkInvited records an engine_register_request received from
// pkEngine/engineName at engineDest.
func (b *HandshakeBook) MarkInvited(pkEngine, engineName, engineDest string) *EngineRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &EngineRecord{
		PKEngine:   pkEngine,
		EngineName: engineName,
		EngineDest: engineDest,
		State:      HandshakeInvited,
	}
	b.engines[engineDest] = r
	return r
}

// MarkConfirmed records that an engine has confirmed trust (issuer_confirmed).
func (b *HandshakeBook) MarkConfirmed(engineDest, pkEngine string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.engines[engineDest]
	if !ok {
		r = &EngineRecord{EngineDest: engineDest}
		b.engines[engineDest] = r
	}
	r.PKEngine = pkEngine
	r.State = HandshakeConfirmed
}

// MarkDeclined records a decline from either side of the handshake.
func (b *HandshakeBook) MarkDeclined(engineDest, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.engines[engineDest]
	if !ok {
		r = &EngineRecord{EngineDest: engineDest}
		b.engines[engineDest] = r
	}
	r.State = HandshakeDeclined
	r.Reason = reason
}

// Engines returns every recorded engine handshake.
func (b *HandshakeBook) Engines() []*EngineRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*EngineRecord, 0, len(b.engines))
	for _, r := range b.engines {
		out = append(out, r)
	}
	return out
}

// IsConfirmed reports whether engineDest has completed the handshake.
func (b *HandshakeBook) IsConfirmed(engineDest string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.engines[engineDest]
	return ok && r.State == HandshakeConfirmed
}
