// Package meshnet is a concrete transport.Transport backed by
// gorilla/websocket: every actor runs a small websocket server peers dial
// into, and dials peers whose address it has learned from static
// configuration or from a received announce frame that carries one (this
// package's own Announce sends no address). It stands in for the real
// mesh network (RNS or similar) named in the protocol's transport
// contract, which is an external collaborator outside this module's
// scope.
package meshnet

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkicash/pkicashd/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dialer opens an outbound websocket connection to a peer address. Tests
// substitute a fake to avoid real sockets; production wiring uses
// dialWebsocket.
type Dialer func(ctx context.Context, addr string) (*websocket.Conn, error)

func dialWebsocket(ctx context.Context, addr string) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: linkEstablishTimeout}
	conn, _, err := d.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("meshnet: dial %s: %w", addr, err)
	}
	return conn, nil
}

// Mesh is a transport.Transport implementation. It listens for inbound
// websocket connections on listenAddr (if non-empty) and dials peers on
// demand using a directory of destHash -> network address built up from
// AddPeerAddr and from received announce frames that carry an address.
type Mesh struct {
	dest   string
	dial   Dialer
	server *http.Server

	mu       sync.Mutex
	links    map[string]*link
	peerAddr map[string]string
	handler  transport.MessageHandler
}

// New creates a Mesh identified as dest. If listenAddr is non-empty, an
// HTTP server accepting websocket upgrades is started in the background;
// pass "" to run dial-only (e.g. from behind NAT, matching a wallet that
// never accepts inbound links).
func New(dest, listenAddr string, dial Dialer) *Mesh {
	if dial == nil {
		dial = dialWebsocket
	}
	m := &Mesh{
		dest:     dest,
		dial:     dial,
		links:    make(map[string]*link),
		peerAddr: make(map[string]string),
	}
	if listenAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/mesh", m.handleUpgrade)
		m.server = &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("meshnet: listener on %s exited: %v", listenAddr, err)
			}
		}()
	}
	return m
}

// Close shuts down the listener, if any, and every established link.
func (m *Mesh) Close() error {
	m.mu.Lock()
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

func (m *Mesh) Destination() string { return m.dest }

// AddPeerAddr registers a known network address for destHash, so Send can
// dial it without a prior Announce having been observed. Used for static
// bootstrap peers (e.g. a wallet's configured state engine).
func (m *Mesh) AddPeerAddr(destHash, addr string) {
	m.mu.Lock()
	m.peerAddr[destHash] = addr
	m.mu.Unlock()
}

type announcePayload struct {
	DestHash      string `json:"dest_hash"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	PKTransaction string `json:"pk_transaction"`
	Addr          string `json:"addr"`
}

func (m *Mesh) Announce(ctx context.Context, name, role, pkTransactionHex string) error {
	m.mu.Lock()
	destHashes := make([]string, 0, len(m.links))
	for dest := range m.links {
		destHashes = append(destHashes, dest)
	}
	m.mu.Unlock()

	payload := announcePayload{
		DestHash:      m.dest,
		Name:          name,
		Role:          role,
		PKTransaction: pkTransactionHex,
	}
	for _, dest := range destHashes {
		if err := m.Send(ctx, dest, "", "announce", payload); err != nil {
			log.Debugf("meshnet: announce to %s failed: %v", dest, err)
		}
	}
	return nil
}

// Send establishes a link to destHash if one isn't already open, bounded
// by linkEstablishTimeout, then writes the envelope. No ledger-visible
// state anywhere changes on ErrNoPath or ErrTimeout: the message simply
// never left this process.
func (m *Mesh) Send(ctx context.Context, destHash, targetRole, msgType string, payload any) error {
	l, err := m.linkTo(ctx, destHash)
	if err != nil {
		return err
	}

	env, err := transport.NewEnvelope(msgType, m.dest, targetRole, payload)
	if err != nil {
		return err
	}
	frame, err := transport.Encode(env)
	if err != nil {
		return err
	}
	if err := l.writeFrame(frame); err != nil {
		m.dropLink(destHash)
		return fmt.Errorf("meshnet: write to %s: %w", destHash, err)
	}
	return nil
}

func (m *Mesh) linkTo(ctx context.Context, destHash string) (*link, error) {
	m.mu.Lock()
	if l, ok := m.links[destHash]; ok {
		m.mu.Unlock()
		return l, nil
	}
	addr, known := m.peerAddr[destHash]
	m.mu.Unlock()
	if !known {
		return nil, transport.ErrNoPath
	}

	dialCtx, cancel := context.WithTimeout(ctx, linkEstablishTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, addr)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, transport.ErrTimeout
		}
		return nil, transport.ErrNoPath
	}
	return m.adopt(destHash, conn), nil
}

func (m *Mesh) adopt(destHash string, conn *websocket.Conn) *link {
	l := newLink(destHash, conn, func(frame []byte) { m.dispatch(destHash, frame) })
	m.mu.Lock()
	m.links[destHash] = l
	m.mu.Unlock()
	return l
}

func (m *Mesh) dropLink(destHash string) {
	m.mu.Lock()
	delete(m.links, destHash)
	m.mu.Unlock()
}

func (m *Mesh) dispatch(destHash string, frame []byte) {
	env, err := transport.DecodeFrame(frame)
	if err != nil {
		log.Warnf("meshnet: dropping malformed frame from %s: %v", destHash, err)
		return
	}

	if env.Type == "announce" {
		var a announcePayload
		if err := env.Decode(&a); err == nil && a.Addr != "" {
			m.AddPeerAddr(a.DestHash, a.Addr)
		}
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

func (m *Mesh) OnMessage(handler transport.MessageHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

func (m *Mesh) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("meshnet: upgrade failed: %v", err)
		return
	}

	// The peer's identity is learned from its first announce frame; until
	// then, frames are dispatched under a placeholder key derived from
	// the remote address.
	placeholder := "pending:" + r.RemoteAddr
	l := newLink(placeholder, conn, func(frame []byte) { m.dispatchInbound(placeholder, frame) })

	m.mu.Lock()
	m.links[placeholder] = l
	m.mu.Unlock()
}

// dispatchInbound resolves a placeholder link to its real destHash once
// an announce frame identifies the peer, then rekeys it so future Sends
// reuse the same connection instead of dialing a new one.
func (m *Mesh) dispatchInbound(placeholder string, frame []byte) {
	env, err := transport.DecodeFrame(frame)
	if err != nil {
		log.Warnf("meshnet: dropping malformed inbound frame: %v", err)
		return
	}

	if env.Type == "announce" {
		var a announcePayload
		if err := env.Decode(&a); err == nil && a.DestHash != "" {
			m.rekeyLink(placeholder, a.DestHash)
		}
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

func (m *Mesh) rekeyLink(placeholder, destHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[placeholder]
	if !ok {
		return
	}
	delete(m.links, placeholder)
	l.destHash = destHash
	m.links[destHash] = l
}
