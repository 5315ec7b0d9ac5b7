package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
)

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueSize        = 256
)

// Handler consumes decoded signaling events. *relay.Relay implements it.
type Handler interface {
	Handle(connID string, msg protocol.Inbound)
	Disconnect(connID string)
}

type Config struct {
	Handler Handler
	// Hub receives every accepted connection. It must be the same Hub the
	// Handler sends through.
	Hub *Hub

	// AllowedOrigins is the browser origin allow-list. Empty means same-host.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	// MaxBytesPerSecond of 0 disables the byte-rate limit.
	MaxBytesPerSecond int
	SendQueueSize     int

	Clock   ratelimit.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server accepts signaling WebSockets on GET /signal.
type Server struct {
	handler  Handler
	hub      *Hub
	policy   origin.Policy
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	maxBytesPerSecond    int
	sendQueueSize        int

	clock   ratelimit.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewServer(cfg Config) *Server {
	s := &Server{
		handler:              cfg.Handler,
		hub:                  cfg.Hub,
		policy:               origin.NewPolicy(cfg.AllowedOrigins),
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		maxBytesPerSecond:    cfg.MaxBytesPerSecond,
		sendQueueSize:        cfg.SendQueueSize,
		clock:                cfg.Clock,
		log:                  cfg.Logger,
		metrics:              cfg.Metrics,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewHub(s.log, s.metrics)
	}
	if s.clock == nil {
		s.clock = ratelimit.RealClock{}
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if s.sendQueueSize <= 0 {
		s.sendQueueSize = defaultSendQueueSize
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// Hub returns the connection set, for wiring the relay transport.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close sends a going-away close to every live connection.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	normalized, _, ok := s.policy.CheckRequest(r)
	if !ok {
		s.log.Warn("rejecting signaling connection from disallowed origin",
			"origin", r.Header.Get("Origin"),
			"normalized_origin", normalized,
			"remote_addr", r.RemoteAddr,
		)
	}
	return ok
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}

	c := newConn(uuid.NewString(), ws, s.sendQueueSize)
	frame, err := protocol.EncodeEnvelope(protocol.Connected{ID: c.id})
	if err != nil {
		s.log.Error("failed to encode connect frame", "err", err)
		c.close()
		return
	}
	// The queue is empty, so the connect frame is always first.
	c.enqueue(frame)
	s.hub.register(c)

	s.metrics.Inc(metrics.ConnectionOpened)
	s.log.Info("connection", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump(s.pingInterval)
	s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	defer s.finish(c)

	c.ws.SetReadLimit(s.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	limiter := ratelimit.NewConnectionLimiter(s.clock, s.maxMessagesPerSecond, s.maxBytesPerSecond)
	closing := false

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				s.metrics.Inc(metrics.DropReasonTooLarge)
				s.log.Info("closing signaling connection", "conn_id", c.id, "reason", "message too large")
			case isTimeout(err) && !closing:
				s.log.Info("closing signaling connection", "conn_id", c.id, "reason", "idle timeout")
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		if closing {
			// Drain until the peer acknowledges the close.
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))

		// Rate limit after reading so the close frame is not lost behind
		// unread bytes.
		if verdict := limiter.AllowMessage(len(data)); verdict != ratelimit.Allowed {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			s.log.Warn("closing signaling connection", "conn_id", c.id, "reason", "rate limit exceeded", "limit", verdict.String())
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			closing = true
			continue
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			closing = true
			continue
		}

		msg, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.metrics.Inc(metrics.DropReasonMalformed)
			s.log.Debug("dropping malformed signaling frame", "conn_id", c.id, "err", err)
			continue
		}
		s.handler.Handle(c.id, msg)
	}
}

// finish runs once per connection after its read loop exits.
func (s *Server) finish(c *conn) {
	s.hub.unregister(c)
	s.handler.Disconnect(c.id)
	c.close()

	s.metrics.Inc(metrics.ConnectionClosed)
	s.log.Info("connection_closed", "conn_id", c.id)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
