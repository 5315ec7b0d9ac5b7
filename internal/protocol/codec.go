package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeEnvelope parses one inbound text frame into its message variant.
//
// Unknown fields inside a payload are ignored, but each variant's addressing
// field (roomId or to) must be present and a non-empty string.
func DecodeEnvelope(frame []byte) (Inbound, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrMalformedEnvelope)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}

	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 {
		data = json.RawMessage("null")
	}

	var (
		msg Inbound
		err error
	)
	switch env.Event {
	case EventJoinRoom:
		msg, err = decodePayload[JoinRoom](data)
	case EventOffer:
		msg, err = decodePayload[Offer](data)
	case EventAnswer:
		msg, err = decodePayload[Answer](data)
	case EventICECandidate:
		msg, err = decodePayload[ICECandidate](data)
	case EventPeerState:
		msg, err = decodePayload[PeerState](data)
	case EventChatMessage:
		msg, err = decodeChatMessage(data)
	case EventLeaveRoom:
		msg, err = decodePayload[LeaveRoom](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return msg, nil
}

func decodePayload[T Inbound](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	if err := validate.Struct(v); err != nil {
		return v, err
	}
	return v, nil
}

func decodeChatMessage(data json.RawMessage) (ChatMessage, error) {
	var head struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ChatMessage{}, err
	}
	msg := ChatMessage{
		RoomID: head.RoomID,
		Raw:    append(json.RawMessage(nil), data...),
	}
	if err := validate.Struct(msg); err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

// EncodeEnvelope frames an outbound message for the wire.
func EncodeEnvelope(msg Outbound) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidPayload)
	}
	data, err := marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Event(), err)
	}
	return marshal(Envelope{Event: msg.Event(), Data: data})
}

// marshal leaves <, > and & unescaped so relayed payloads keep their bytes.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func isTruthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	if c := v[0]; c == '-' || (c >= '0' && c <= '9') {
		f, err := strconv.ParseFloat(string(v), 64)
		return err != nil || f != 0
	}
	return true
}
