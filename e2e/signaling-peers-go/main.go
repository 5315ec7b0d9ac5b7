// Command signaling-peers-go is an end-to-end smoke client for the signaling
// relay. It joins two pion peers to one room, lets them negotiate through the
// relay and succeeds once a DataChannel message crosses between them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/protocol"
)

func main() {
	signalURL := flag.String("url", envOrDefault("SIGNAL_URL", "ws://127.0.0.1:3001/signal"), "signaling WebSocket URL")
	room := flag.String("room", "e2e", "room to join")
	timeout := flag.Duration("timeout", 20*time.Second, "overall deadline")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, *signalURL, *room); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func run(ctx context.Context, signalURL, room string) error {
	iceServers, err := fetchICEServers(ctx, signalURL)
	if err != nil {
		return fmt.Errorf("fetch ice servers: %w", err)
	}

	alice, err := dialPeer(ctx, signalURL, "alice", iceServers)
	if err != nil {
		return err
	}
	defer alice.close()
	bob, err := dialPeer(ctx, signalURL, "bob", iceServers)
	if err != nil {
		return err
	}
	defer bob.close()

	received := make(chan string, 1)
	alice.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	})

	if err := alice.join(room); err != nil {
		return err
	}
	if _, err := alice.expect(ctx, protocol.EventUsersInRoom); err != nil {
		return err
	}
	if err := bob.join(room); err != nil {
		return err
	}
	snapshot, err := bob.expect(ctx, protocol.EventUsersInRoom)
	if err != nil {
		return err
	}
	var peers []protocol.Peer
	if err := json.Unmarshal(snapshot, &peers); err != nil {
		return fmt.Errorf("decode users-in-room: %w", err)
	}
	if len(peers) != 1 || peers[0].ID != alice.id {
		return fmt.Errorf("bob saw %+v, want [%s]", peers, alice.id)
	}
	if _, err := alice.expect(ctx, protocol.EventUserJoined); err != nil {
		return err
	}

	// The newcomer offers to every existing member.
	dc, err := bob.pc.CreateDataChannel("chat", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	const greeting = "hello from bob"
	dc.OnOpen(func() { _ = dc.SendText(greeting) })

	go alice.negotiate(ctx, bob.id)
	go bob.negotiate(ctx, alice.id)
	if err := bob.offer(alice.id); err != nil {
		return err
	}

	select {
	case got := <-received:
		if got != greeting {
			return fmt.Errorf("data channel message=%q, want %q", got, greeting)
		}
		return nil
	case err := <-firstErr(alice.errs, bob.errs):
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for data channel: %w", ctx.Err())
	}
}

type peer struct {
	name string
	id   string
	ws   *websocket.Conn
	pc   *webrtc.PeerConnection

	writeMu sync.Mutex
	errs    chan error
}

func dialPeer(ctx context.Context, signalURL, name string, iceServers []webrtc.ICEServer) (*peer, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, signalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", name, err)
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%s: new peer connection: %w", name, err)
	}
	p := &peer{name: name, ws: ws, pc: pc, errs: make(chan error, 1)}

	data, err := p.expect(ctx, protocol.EventConnect)
	if err != nil {
		p.close()
		return nil, err
	}
	var connected protocol.Connected
	if err := json.Unmarshal(data, &connected); err != nil || connected.ID == "" {
		p.close()
		return nil, fmt.Errorf("%s: bad connect frame %s", name, data)
	}
	p.id = connected.ID
	return p, nil
}

func (p *peer) close() {
	_ = p.pc.Close()
	_ = p.ws.Close()
}

func (p *peer) send(event protocol.Event, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, frame)
}

func (p *peer) join(room string) error {
	return p.send(protocol.EventJoinRoom, map[string]any{"roomId": room, "name": p.name})
}

// expect reads frames until one carries event and returns its data.
func (p *peer) expect(ctx context.Context, event protocol.Event) (json.RawMessage, error) {
	for {
		env, err := p.read(ctx)
		if err != nil {
			return nil, err
		}
		if env.Event == event {
			return env.Data, nil
		}
	}
}

func (p *peer) read(ctx context.Context) (protocol.Envelope, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = p.ws.SetReadDeadline(deadline)
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s: read: %w", p.name, err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s: decode %q: %w", p.name, data, err)
	}
	return env, nil
}

func (p *peer) offer(to string) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%s: create offer: %w", p.name, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%s: set local offer: %w", p.name, err)
	}
	return p.send(protocol.EventOffer, map[string]any{"to": to, "sdp": offer, "name": p.name})
}

// negotiate trickles local candidates to remote and applies the offer, answer
// and candidates relayed from it until the socket fails.
func (p *peer) negotiate(ctx context.Context, remote string) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = p.send(protocol.EventICECandidate, map[string]any{"to": remote, "candidate": c.ToJSON()})
	})

	fail := func(err error) {
		select {
		case p.errs <- err:
		default:
		}
	}

	for {
		env, err := p.read(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, websocket.ErrCloseSent) {
				fail(err)
			}
			return
		}

		switch env.Event {
		case protocol.EventOffer:
			var msg struct {
				From string                    `json:"from"`
				SDP  webrtc.SessionDescription `json:"sdp"`
			}
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				fail(fmt.Errorf("%s: decode offer: %w", p.name, err))
				return
			}
			if err := p.pc.SetRemoteDescription(msg.SDP); err != nil {
				fail(fmt.Errorf("%s: set remote offer: %w", p.name, err))
				return
			}
			answer, err := p.pc.CreateAnswer(nil)
			if err != nil {
				fail(fmt.Errorf("%s: create answer: %w", p.name, err))
				return
			}
			if err := p.pc.SetLocalDescription(answer); err != nil {
				fail(fmt.Errorf("%s: set local answer: %w", p.name, err))
				return
			}
			if err := p.send(protocol.EventAnswer, map[string]any{"to": msg.From, "sdp": answer}); err != nil {
				fail(err)
				return
			}
		case protocol.EventAnswer:
			var msg struct {
				SDP webrtc.SessionDescription `json:"sdp"`
			}
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				fail(fmt.Errorf("%s: decode answer: %w", p.name, err))
				return
			}
			if err := p.pc.SetRemoteDescription(msg.SDP); err != nil {
				fail(fmt.Errorf("%s: set remote answer: %w", p.name, err))
				return
			}
		case protocol.EventICECandidate:
			var msg struct {
				Candidate webrtc.ICECandidateInit `json:"candidate"`
			}
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				fail(fmt.Errorf("%s: decode candidate: %w", p.name, err))
				return
			}
			// Candidates can arrive before the remote description; pion
			// rejects those and the next trickled candidate covers it.
			_ = p.pc.AddICECandidate(msg.Candidate)
		}
	}
}

func fetchICEServers(ctx context.Context, signalURL string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/webrtc/ice"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.ICEServers, nil
}

func firstErr(chans ...chan error) <-chan error {
	out := make(chan error, len(chans))
	for _, ch := range chans {
		go func(ch chan error) {
			if err, ok := <-ch; ok {
				out <- err
			}
		}(ch)
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
