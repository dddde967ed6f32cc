package transport

import (
	"context"
	"sync"
)

// registry is the shared address space a set of Loopback transports
// publish into, so that Loopback.Send can hand an envelope straight to the
// destination's handler without any real networking. One registry per
// simulated mesh; tests typically create a single registry and one
// Loopback per actor.
type registry struct {
	mu       sync.Mutex
	handlers map[string]MessageHandler
	announce map[string]Announcement
}

// NewRegistry creates an empty in-memory mesh.
func NewRegistry() *registry {
	return &registry{
		handlers: make(map[string]MessageHandler),
		announce: make(map[string]Announcement),
	}
}

// Loopback is an in-process Transport implementation: Send hands the
// envelope directly to the destination's registered handler on a new
// goroutine, mimicking the asynchronous, no-shared-memory delivery model
// real actors see, without any actual network I/O. Used for the package
// integration tests and for wiring multiple roles into a single test
// process.
type Loopback struct {
	reg  *registry
	dest string

	mu      sync.Mutex
	handler MessageHandler
}

// NewLoopback registers a new actor at dest within reg.
func NewLoopback(reg *registry, dest string) *Loopback {
	return &Loopback{reg: reg, dest: dest}
}

func (l *Loopback) Destination() string {
	return l.dest
}

func (l *Loopback) Announce(ctx context.Context, name, role, pkTransactionHex string) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	l.reg.announce[l.dest] = Announcement{
		DestHash:      l.dest,
		Name:          name,
		Role:          role,
		PKTransaction: pkTransactionHex,
	}
	log.Debugf("loopback %s announced as %s/%s", l.dest, role, name)
	return nil
}

func (l *Loopback) Send(ctx context.Context, destHash, targetRole, msgType string, payload any) error {
	env, err := NewEnvelope(msgType, l.dest, "", payload)
	if err != nil {
		return err
	}

	l.reg.mu.Lock()
	handler, ok := l.reg.handlers[destHash]
	l.reg.mu.Unlock()
	if !ok {
		return ErrNoPath
	}

	// Deliver asynchronously: real mesh transports never deliver on the
	// sender's own call stack, and protocol-layer code must not assume
	// they do.
	go handler(env)
	return nil
}

func (l *Loopback) OnMessage(handler MessageHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()

	l.reg.mu.Lock()
	l.reg.handlers[l.dest] = func(e Envelope) {
		l.mu.Lock()
		h := l.handler
		l.mu.Unlock()
		if h != nil {
			h(e)
		}
	}
	l.reg.mu.Unlock()
}

// Announcements returns every announcement observed on the shared
// registry, for tests that assert on discovery behaviour.
func (l *Loopback) Announcements() map[string]Announcement {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()

	out := make(map[string]Announcement, len(l.reg.announce))
	for k, v := range l.reg.announce {
		out[k] = v
	}
	return out
}
