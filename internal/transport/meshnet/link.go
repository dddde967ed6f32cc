package meshnet

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// linkEstablishTimeout bounds how long Send waits for path discovery and
// link establishment before giving up with transport.ErrTimeout.
const linkEstablishTimeout = 15 * time.Second

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// link wraps a single established websocket connection to one peer. Every
// link runs its own read pump goroutine, which owns the socket for reads,
// and a ping goroutine; frames are written on the sending caller's
// goroutine, serialised by sendMu, so callers never touch the underlying
// conn directly.
type link struct {
	destHash string
	conn     *websocket.Conn

	sendMu sync.Mutex
	done   chan struct{}
	once   sync.Once

	onFrame func(frame []byte)
}

func newLink(destHash string, conn *websocket.Conn, onFrame func([]byte)) *link {
	l := &link{
		destHash: destHash,
		conn:     conn,
		done:     make(chan struct{}),
		onFrame:  onFrame,
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go l.readPump()
	go l.pingPump()
	return l
}

func (l *link) readPump() {
	defer l.close()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			log.Debugf("meshnet: link %s read error: %v", l.destHash, err)
			return
		}
		l.onFrame(data)
	}
}

func (l *link) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sendMu.Lock()
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := l.conn.WriteMessage(websocket.PingMessage, nil)
			l.sendMu.Unlock()
			if err != nil {
				l.close()
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) writeFrame(frame []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}
