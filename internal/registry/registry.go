// Package registry tracks which live connections are members of which rooms.
//
// A Registry is an in-memory index only: nothing is persisted and all state
// is lost on restart.
package registry

import (
	"cmp"
	"encoding/json"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Member is the identity a connection presents inside a room. Name is the raw
// JSON value the connection joined with; nil when it sent none.
type Member struct {
	ID   string
	Name json.RawMessage
}

type memberEntry struct {
	member Member
	seq    uint64
}

type room struct {
	members map[string]*memberEntry
}

type Registry struct {
	mu sync.RWMutex

	rooms map[string]*room
	// memberships is the reverse index used to clean up on disconnect.
	memberships map[string]map[string]struct{}

	seq uint64
}

func New() *Registry {
	return &Registry{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
	}
}

// EnsureRoom creates roomID if it does not exist yet. It reports whether the
// room was created by this call.
func (r *Registry) EnsureRoom(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, created := r.ensureRoomLocked(roomID)
	return created
}

func (r *Registry) ensureRoomLocked(roomID string) (*room, bool) {
	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := &room{members: make(map[string]*memberEntry)}
	r.rooms[roomID] = rm
	return rm, true
}

// AddMember inserts m into roomID, creating the room as needed. Adding an id
// that is already present replaces its metadata but keeps its original
// position in listings.
func (r *Registry) AddMember(roomID string, m Member) (roomCreated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, created := r.ensureRoomLocked(roomID)
	if entry, ok := rm.members[m.ID]; ok {
		entry.member = m
	} else {
		r.seq++
		rm.members[m.ID] = &memberEntry{member: m, seq: r.seq}
	}

	rooms, ok := r.memberships[m.ID]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberships[m.ID] = rooms
	}
	rooms[roomID] = struct{}{}
	return created
}

// RemoveMember removes connID from roomID and returns the metadata it had.
// The room is deleted once its last member is gone. Removing from an unknown
// room or a non-member is a no-op that reports removed=false.
func (r *Registry) RemoveMember(roomID, connID string) (m Member, removed bool, roomDeleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Member{}, false, false
	}
	entry, ok := rm.members[connID]
	if !ok {
		return Member{}, false, false
	}
	delete(rm.members, connID)

	if rooms, ok := r.memberships[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.memberships, connID)
		}
	}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		roomDeleted = true
	}
	return entry.member, true, roomDeleted
}

// ListMembers returns a snapshot of roomID's members in join order, leaving
// out excluding when it is non-empty. The result is never nil.
func (r *Registry) ListMembers(roomID, excluding string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []Member{}
	}

	entries := lo.Filter(lo.Values(rm.members), func(e *memberEntry, _ int) bool {
		return excluding == "" || e.member.ID != excluding
	})
	slices.SortFunc(entries, func(a, b *memberEntry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return lo.Map(entries, func(e *memberEntry, _ int) Member {
		return e.member
	})
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Values(r.rooms), func(rm *room) bool {
		return len(rm.members) > 0
	})
}

// RoomsOf returns the sorted ids of every room connID currently belongs to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.memberships[connID])
	slices.Sort(ids)
	return ids
}

func (r *Registry) HasRoom(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}
