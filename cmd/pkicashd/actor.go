package main

import "github.com/pkicash/pkicashd/internal/transport"

// actor is the single owning goroutine a role's store sits behind:
// transport callbacks and operator commands both enqueue closures instead
// of touching the store from whatever goroutine they happen to run on.
// This replaces the module-level globals and ad-hoc locking the design
// notes call out; the store packages already serialise their own writes,
// so this is a second line of defence that keeps every cross-cutting
// decision (which envelope gets handled before which CLI command) in one
// place instead of scattered across callback goroutines.
type actor struct {
	cmds chan func()
	quit chan struct{}
}

func newActor() *actor {
	a := &actor{
		cmds: make(chan func(), 256),
		quit: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	for {
		select {
		case cmd := <-a.cmds:
			cmd()
		case <-a.quit:
			return
		}
	}
}

// do enqueues fn to run on the actor's goroutine. Safe to call from any
// goroutine, including transport delivery callbacks.
func (a *actor) do(fn func()) {
	select {
	case a.cmds <- fn:
	case <-a.quit:
	}
}

// wrapHandler returns a transport.MessageHandler that forwards every
// envelope through the actor instead of running the dispatcher directly
// on the transport's own delivery goroutine.
func (a *actor) wrapHandler(dispatch func(transport.Envelope)) transport.MessageHandler {
	return func(env transport.Envelope) {
		a.do(func() { dispatch(env) })
	}
}

func (a *actor) stop() {
	close(a.quit)
}
