// Package ws streams emitted events to websocket clients on the debug
// surface.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Debug listener binds loopback only
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer frames per client. The feed is lossy: a client that
	// cannot keep up loses frames rather than backing pressure up
	// into the executor.
	sendBuffer = 64
)

// Tap fans emitted events out to connected websocket clients.
type Tap struct {
	log *logging.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]chan []byte
	closed bool
}

// NewTap creates an empty tap.
func NewTap(log *logging.Logger) *Tap {
	if log == nil {
		log = logging.NewNop()
	}
	return &Tap{
		log:   log,
		conns: make(map[*websocket.Conn]chan []byte),
	}
}

// Active reports whether any client is connected, so callers can skip
// building frames nobody would see.
func (t *Tap) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns) > 0
}

// Broadcast queues one frame to every connected client.
func (t *Tap) Broadcast(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.conns {
		select {
		case ch <- frame:
		default:
		}
	}
}

// HandleConnection upgrades the request and streams frames until the
// client goes away.
func (t *Tap) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ch, ok := t.register(conn)
	if !ok {
		conn.Close()
		return
	}
	t.log.Debug("event tap connected", zap.String("remote", conn.RemoteAddr().String()))

	go t.writer(conn, ch)

	// The read side only consumes pongs and close frames.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	t.unregister(conn)
	conn.Close()
	t.log.Debug("event tap disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

// Close disconnects every client and refuses further connections.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for conn, ch := range t.conns {
		delete(t.conns, conn)
		close(ch)
		conn.Close()
	}
}

func (t *Tap) register(conn *websocket.Conn) (chan []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	ch := make(chan []byte, sendBuffer)
	t.conns[conn] = ch
	return ch, true
}

func (t *Tap) unregister(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.conns[conn]; ok {
		delete(t.conns, conn)
		close(ch)
	}
}

func (t *Tap) writer(conn *websocket.Conn, ch chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
