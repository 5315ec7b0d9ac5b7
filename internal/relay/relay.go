package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/registry"
)

//go:generate mockgen -destination=mock_transport_test.go -package=relay . Transport

// Transport delivers outbound messages to live connections.
//
// Send must not block on the network. It returns ErrUnknownConnection when
// connID does not name a live connection.
type Transport interface {
	Send(connID string, msg protocol.Outbound) error
}

type Config struct {
	// Registry defaults to an empty registry.
	Registry *registry.Registry
	// Transport is required.
	Transport Transport
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Relay routes inbound signaling events between room members.
//
// Every handler runs under a single lock, so registry mutation and the
// resulting fan-out are observed by other events as one step.
type Relay struct {
	mu sync.Mutex

	reg     *registry.Registry
	tr      Transport
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New panics when cfg.Transport is nil.
func New(cfg Config) *Relay {
	if cfg.Transport == nil {
		panic("relay: nil Transport")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		reg:     reg,
		tr:      cfg.Transport,
		log:     logger,
		metrics: cfg.Metrics,
	}
}

func (r *Relay) Registry() *registry.Registry {
	return r.reg
}

// RoomCount reports the number of non-empty rooms.
func (r *Relay) RoomCount() int {
	return r.reg.RoomCount()
}

// Handle applies one inbound event sent by connID.
func (r *Relay) Handle(connID string, msg protocol.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case protocol.JoinRoom:
		r.join(connID, m)
	case protocol.Offer:
		r.offer(connID, m)
	case protocol.Answer:
		r.answer(connID, m)
	case protocol.ICECandidate:
		r.iceCandidate(connID, m)
	case protocol.PeerState:
		r.peerState(connID, m)
	case protocol.ChatMessage:
		r.chatMessage(connID, m)
	case protocol.LeaveRoom:
		r.leave(connID, m.RoomID)
	default:
		r.log.Debug("ignoring unsupported signaling message", "conn_id", connID, "type", fmt.Sprintf("%T", msg))
	}
}

// Disconnect removes connID from every room it belongs to, notifying the
// remaining members of each room once.
func (r *Relay) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.reg.RoomsOf(connID)
	for _, roomID := range rooms {
		r.leave(connID, roomID)
	}
	r.log.Info("disconnect", "conn_id", connID, "rooms", len(rooms))
}

func (r *Relay) join(connID string, m protocol.JoinRoom) {
	if r.reg.AddMember(m.RoomID, registry.Member{ID: connID, Name: m.Name}) {
		r.metrics.Inc(metrics.RoomCreated)
	}
	r.metrics.Inc(metrics.RoomJoined)

	others := r.reg.ListMembers(m.RoomID, connID)
	peers := make(protocol.UsersInRoom, 0, len(others))
	for _, o := range others {
		peers = append(peers, protocol.Peer{ID: o.ID, Name: o.Name})
	}
	r.send(connID, peers)

	joined := protocol.UserJoined{ID: connID, Name: m.Name}
	for _, o := range others {
		r.send(o.ID, joined)
	}

	r.log.Info("join_room",
		"conn_id", connID,
		"room_id", m.RoomID,
		"name", nameForLog(m.Name),
		"members", len(others)+1,
	)
}

func (r *Relay) offer(connID string, m protocol.Offer) {
	if r.send(m.To, protocol.OfferRelay{From: connID, SDP: m.SDP, Name: m.Name}) {
		r.metrics.Inc(metrics.RelayedOffer)
	}
	r.log.Debug("relay_offer", "from", connID, "to", m.To)
}

func (r *Relay) answer(connID string, m protocol.Answer) {
	if r.send(m.To, protocol.AnswerRelay{From: connID, SDP: m.SDP}) {
		r.metrics.Inc(metrics.RelayedAnswer)
	}
	r.log.Debug("relay_answer", "from", connID, "to", m.To)
}

func (r *Relay) iceCandidate(connID string, m protocol.ICECandidate) {
	if !m.HasCandidate() {
		r.metrics.Inc(metrics.DropReasonEmptyCandidate)
		return
	}
	if r.send(m.To, protocol.ICECandidateRelay{From: connID, Candidate: m.Candidate}) {
		r.metrics.Inc(metrics.RelayedICECandidate)
	}
}

func (r *Relay) peerState(connID string, m protocol.PeerState) {
	out := protocol.PeerStateRelay{
		ID:       connID,
		Muted:    m.Muted,
		VideoOff: m.VideoOff,
		Hand:     m.Hand,
	}
	for _, o := range r.reg.ListMembers(m.RoomID, connID) {
		if r.send(o.ID, out) {
			r.metrics.Inc(metrics.RelayedPeerState)
		}
	}
}

func (r *Relay) chatMessage(connID string, m protocol.ChatMessage) {
	others := r.reg.ListMembers(m.RoomID, connID)
	for _, o := range others {
		if r.send(o.ID, m) {
			r.metrics.Inc(metrics.RelayedChatMessage)
		}
	}
	r.log.Debug("chat_message", "conn_id", connID, "room_id", m.RoomID, "recipients", len(others))
}

// leave is shared by leave-room and disconnect. It is a no-op when connID is
// not a member of roomID.
func (r *Relay) leave(connID, roomID string) {
	member, removed, roomDeleted := r.reg.RemoveMember(roomID, connID)
	if !removed {
		return
	}
	r.metrics.Inc(metrics.RoomLeft)

	remaining := r.reg.ListMembers(roomID, "")
	left := protocol.UserLeft{ID: connID, Name: member.Name}
	for _, o := range remaining {
		r.send(o.ID, left)
	}

	r.log.Info("leave_room",
		"conn_id", connID,
		"room_id", roomID,
		"name", nameForLog(member.Name),
		"remaining", len(remaining),
	)
	if roomDeleted {
		r.metrics.Inc(metrics.RoomDeleted)
		r.log.Info("room_deleted", "room_id", roomID)
	}
}

// send reports whether msg was handed to the transport. Unknown targets are
// dropped silently; the sender gets no error.
func (r *Relay) send(connID string, msg protocol.Outbound) bool {
	err := r.tr.Send(connID, msg)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrUnknownConnection) {
		r.metrics.Inc(metrics.DropReasonUnknownTarget)
		r.log.Debug("dropping message for unknown connection", "conn_id", connID, "event", msg.Event())
		return false
	}
	r.log.Warn("failed to deliver signaling message", "conn_id", connID, "event", msg.Event(), "err", err)
	return false
}

// nameForLog renders a member name for log lines. String names are unquoted;
// any other JSON value is logged as written.
func nameForLog(name json.RawMessage) string {
	if len(name) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(name, &s); err == nil {
		return s
	}
	return string(name)
}
