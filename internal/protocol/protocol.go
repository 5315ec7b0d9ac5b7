// Package protocol defines the signaling wire contract: event names, the JSON
// envelope carried in every WebSocket text frame, and the tagged message
// variants exchanged between clients and the relay.
//
// Payload content (SDP, ICE candidates, chat bodies) is opaque and carried as
// json.RawMessage. Only the addressing fields (roomId, to) are interpreted.
package protocol

import (
	"encoding/json"
	"errors"
)

type Event string

// Client -> relay.
const (
	EventJoinRoom     Event = "join-room"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice-candidate"
	EventPeerState    Event = "peer-state"
	EventChatMessage  Event = "chat-message"
	EventLeaveRoom    Event = "leave-room"
)

// Relay -> client. offer, answer, ice-candidate, peer-state and chat-message
// reuse the inbound names.
const (
	EventConnect     Event = "connect"
	EventUsersInRoom Event = "users-in-room"
	EventUserJoined  Event = "user-joined"
	EventUserLeft    Event = "user-left"
)

var (
	ErrMalformedEnvelope = errors.New("protocol: malformed envelope")
	ErrUnknownEvent      = errors.New("protocol: unknown event")
	ErrInvalidPayload    = errors.New("protocol: invalid payload")
)

// Envelope is the framing of every signaling message in both directions.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded client -> relay message.
type Inbound interface {
	Event() Event
}

// Outbound is a relay -> client message.
type Outbound interface {
	Event() Event
}

// Peer identifies a room member on the wire. Name is whatever JSON value the
// member joined with, and is omitted when it never supplied one.
type Peer struct {
	ID   string          `json:"id"`
	Name json.RawMessage `json:"name,omitempty"`
}

type JoinRoom struct {
	RoomID string          `json:"roomId" validate:"required"`
	Name   json.RawMessage `json:"name,omitempty"`
}

type Offer struct {
	To   string          `json:"to" validate:"required"`
	SDP  json.RawMessage `json:"sdp,omitempty"`
	Name json.RawMessage `json:"name,omitempty"`
}

type Answer struct {
	To  string          `json:"to" validate:"required"`
	SDP json.RawMessage `json:"sdp,omitempty"`
}

type ICECandidate struct {
	To        string          `json:"to" validate:"required"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// HasCandidate reports whether the candidate field carries a usable value.
// Absent, null, false, 0 and "" are all treated as "no candidate".
func (m ICECandidate) HasCandidate() bool {
	return isTruthy(m.Candidate)
}

// PeerState flags are opaque: any JSON value is relayed as sent.
type PeerState struct {
	RoomID   string          `json:"roomId" validate:"required"`
	Muted    json.RawMessage `json:"muted,omitempty"`
	VideoOff json.RawMessage `json:"videoOff,omitempty"`
	Hand     json.RawMessage `json:"hand,omitempty"`
}

// ChatMessage is relayed verbatim. Raw holds the complete data object as the
// sender wrote it; RoomID is extracted for routing only.
type ChatMessage struct {
	RoomID string          `json:"-" validate:"required"`
	Raw    json.RawMessage `json:"-"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Raw) == 0 {
		return []byte("null"), nil
	}
	return m.Raw, nil
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
}

func (JoinRoom) Event() Event     { return EventJoinRoom }
func (Offer) Event() Event        { return EventOffer }
func (Answer) Event() Event       { return EventAnswer }
func (ICECandidate) Event() Event { return EventICECandidate }
func (PeerState) Event() Event    { return EventPeerState }
func (ChatMessage) Event() Event  { return EventChatMessage }
func (LeaveRoom) Event() Event    { return EventLeaveRoom }

// Connected tells a client its own connection id right after the upgrade.
type Connected struct {
	ID string `json:"id"`
}

// UsersInRoom is the joiner's snapshot of the other members.
type UsersInRoom []Peer

func (u UsersInRoom) MarshalJSON() ([]byte, error) {
	if u == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Peer(u))
}

type UserJoined Peer

type UserLeft Peer

type OfferRelay struct {
	From string          `json:"from"`
	SDP  json.RawMessage `json:"sdp,omitempty"`
	Name json.RawMessage `json:"name,omitempty"`
}

type AnswerRelay struct {
	From string          `json:"from"`
	SDP  json.RawMessage `json:"sdp,omitempty"`
}

type ICECandidateRelay struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// PeerStateRelay carries the sender id in place of the room id.
type PeerStateRelay struct {
	ID       string          `json:"id"`
	Muted    json.RawMessage `json:"muted,omitempty"`
	VideoOff json.RawMessage `json:"videoOff,omitempty"`
	Hand     json.RawMessage `json:"hand,omitempty"`
}

func (Connected) Event() Event         { return EventConnect }
func (UsersInRoom) Event() Event       { return EventUsersInRoom }
func (UserJoined) Event() Event        { return EventUserJoined }
func (UserLeft) Event() Event          { return EventUserLeft }
func (OfferRelay) Event() Event        { return EventOffer }
func (AnswerRelay) Event() Event       { return EventAnswer }
func (ICECandidateRelay) Event() Event { return EventICECandidate }
func (PeerStateRelay) Event() Event    { return EventPeerState }
