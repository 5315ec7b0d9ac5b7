package signaling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

// ErrSendQueueFull is returned by Hub.Send when the target connection is not
// draining its queue. The connection is closed.
var ErrSendQueueFull = errors.New("signaling: send queue full")

// Hub is the set of live signaling connections. It implements
// relay.Transport.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	conns map[string]*conn
}

var _ relay.Transport = (*Hub)(nil)

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:     logger,
		metrics: m,
		conns:   make(map[string]*conn),
	}
}

// Send encodes msg and queues it for connID without blocking.
func (h *Hub) Send(connID string, msg protocol.Outbound) error {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil || c.closed() {
		return relay.ErrUnknownConnection
	}

	frame, err := protocol.EncodeEnvelope(msg)
	if err != nil {
		return err
	}
	if c.enqueue(frame) {
		return nil
	}
	if c.closed() {
		return relay.ErrUnknownConnection
	}

	h.metrics.Inc(metrics.DropReasonSendQueueFull)
	h.log.Warn("closing slow signaling connection", "conn_id", connID, "event", msg.Event())
	go c.closeWith(websocket.CloseTryAgainLater, "send queue full")
	return ErrSendQueueFull
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}

// closeAll sends a going-away close to every connection.
func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := lo.Values(h.conns)
	h.mu.RUnlock()

	if len(conns) > 0 {
		h.log.Info("closing signaling connections", "count", len(conns))
	}

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}
