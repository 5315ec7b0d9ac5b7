package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	srv     *Server
	relay   *relay.Relay
	metrics *metrics.Metrics
	ts      *httptest.Server
	wsURL   string
}

// startTestEnv wires Hub, Relay and Server the way main does and serves
// them from an httptest server.
func startTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	m := metrics.New()
	hub := NewHub(discardLogger, m)
	rl := relay.New(relay.Config{Transport: hub, Logger: discardLogger, Metrics: m})

	cfg.Handler = rl
	cfg.Hub = hub
	cfg.Logger = discardLogger
	cfg.Metrics = m
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	return &testEnv{
		srv:     srv,
		relay:   rl,
		metrics: m,
		ts:      ts,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal",
	}
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
	id string
}

// dial connects and consumes the connect frame.
func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	c := &testClient{t: t, ws: ws}
	env := c.next()
	if env.Event != protocol.EventConnect {
		t.Fatalf("first event=%q, want %q", env.Event, protocol.EventConnect)
	}
	var connected protocol.Connected
	if err := json.Unmarshal(env.Data, &connected); err != nil {
		t.Fatalf("decode connect: %v", err)
	}
	if connected.ID == "" {
		t.Fatalf("connect frame without id: %s", env.Data)
	}
	c.id = connected.ID
	return c
}

func (c *testClient) send(event protocol.Event, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", event, err)
	}
	c.sendRaw(`{"event":"` + string(event) + `","data":` + string(raw) + `}`)
}

func (c *testClient) sendRaw(frame string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) next() protocol.Envelope {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.t.Fatalf("decode envelope %q: %v", data, err)
	}
	return env
}

// expect reads the next frame, checks its event and decodes its data into v.
func (c *testClient) expect(event protocol.Event, v any) {
	c.t.Helper()
	env := c.next()
	if env.Event != event {
		c.t.Fatalf("event=%q data=%s, want %q", env.Event, env.Data, event)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.t.Fatalf("decode %s data %s: %v", event, env.Data, err)
	}
}

// expectClose reads until the server closes and returns the close code.
func (c *testClient) expectClose() int {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := c.ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			c.t.Fatalf("read error %v, want close frame", err)
		}
		return ce.Code
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }
