package metrics

import (
	"maps"
	"sync"
)

// Event counter names.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	RoomJoined  = "room_joined"
	RoomLeft    = "room_left"
	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"

	RelayedOffer        = "relayed_offer"
	RelayedAnswer       = "relayed_answer"
	RelayedICECandidate = "relayed_ice_candidate"
	RelayedPeerState    = "relayed_peer_state"
	RelayedChatMessage  = "relayed_chat_message"
)

// Drop reasons.
const (
	DropReasonUnknownTarget  = "dropped_unknown_target"
	DropReasonEmptyCandidate = "dropped_empty_candidate"
	DropReasonMalformed      = "dropped_malformed"
	DropReasonRateLimited    = "dropped_rate_limited"
	DropReasonSendQueueFull  = "dropped_send_queue_full"
	DropReasonTooLarge       = "dropped_too_large"
)

// Metrics is a concurrency-safe counter registry. A nil *Metrics discards
// every update, so components can run without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}
