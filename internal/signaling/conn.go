package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// conn is one accepted signaling WebSocket.
//
// All data frames are written by writePump. Control frames (ping, close) go
// through WriteControl, which gorilla allows concurrently with the writer.
type conn struct {
	id string
	ws *websocket.Conn

	queue chan []byte
	done  chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, queueSize int) *conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &conn{
		id:    id,
		ws:    ws,
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

// enqueue hands frame to the writer without blocking. It reports false when
// the queue is full or the connection is closing.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// closeWith starts the closing handshake. Queued frames are discarded and
// the socket is closed after wsWriteWait even if the peer never answers; the
// read loop observes the failure and runs the disconnect path.
func (c *conn) closeWith(code int, reason string) {
	c.stop()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	time.AfterFunc(wsWriteWait, c.close)
}

func (c *conn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *conn) close() {
	c.stop()
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}
