package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func rawName(name string) json.RawMessage {
	return json.RawMessage(strconv.Quote(name))
}

func TestRegistry_EnsureRoomIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := New()

	req.True(r.EnsureRoom("r1"))
	req.False(r.EnsureRoom("r1"))
	req.True(r.HasRoom("r1"))
	// An empty room is not counted.
	req.Equal(0, r.RoomCount())

	r.AddMember("r1", Member{ID: "a"})
	req.Equal(1, r.RoomCount())
}

func TestRegistry_AddMember(t *testing.T) {
	t.Run("creates the room on first member", func(t *testing.T) {
		req := require.New(t)
		r := New()
		req.True(r.AddMember("r1", Member{ID: "a", Name: rawName("Ann")}))
		req.False(r.AddMember("r1", Member{ID: "b"}))
		req.Equal(2, r.MemberCount("r1"))
	})

	t.Run("re-adding overwrites metadata and keeps position", func(t *testing.T) {
		req := require.New(t)
		r := New()
		r.AddMember("r1", Member{ID: "a", Name: rawName("Ann")})
		r.AddMember("r1", Member{ID: "b", Name: rawName("Bob")})
		r.AddMember("r1", Member{ID: "a", Name: rawName("Anna")})

		got := r.ListMembers("r1", "")
		req.Equal([]Member{
			{ID: "a", Name: rawName("Anna")},
			{ID: "b", Name: rawName("Bob")},
		}, got)
	})

	t.Run("a connection may be in several rooms", func(t *testing.T) {
		req := require.New(t)
		r := New()
		r.AddMember("r2", Member{ID: "a"})
		r.AddMember("r1", Member{ID: "a"})
		req.Equal([]string{"r1", "r2"}, r.RoomsOf("a"))
		req.Equal(2, r.RoomCount())
	})
}

func TestRegistry_RemoveMember(t *testing.T) {
	t.Run("returns metadata and keeps non-empty room", func(t *testing.T) {
		req := require.New(t)
		r := New()
		r.AddMember("r1", Member{ID: "a", Name: rawName("Ann")})
		r.AddMember("r1", Member{ID: "b"})

		m, removed, deleted := r.RemoveMember("r1", "a")
		req.True(removed)
		req.False(deleted)
		req.JSONEq(`"Ann"`, string(m.Name))
		req.True(r.HasRoom("r1"))
		req.Empty(r.RoomsOf("a"))
	})

	t.Run("deletes the room with its last member", func(t *testing.T) {
		req := require.New(t)
		r := New()
		r.AddMember("r1", Member{ID: "a"})

		_, removed, deleted := r.RemoveMember("r1", "a")
		req.True(removed)
		req.True(deleted)
		req.False(r.HasRoom("r1"))
		req.Equal(0, r.RoomCount())
	})

	t.Run("unknown room or member is a no-op", func(t *testing.T) {
		req := require.New(t)
		r := New()
		r.AddMember("r1", Member{ID: "a"})

		_, removed, deleted := r.RemoveMember("nope", "a")
		req.False(removed)
		req.False(deleted)

		_, removed, deleted = r.RemoveMember("r1", "zzz")
		req.False(removed)
		req.False(deleted)
		req.Equal(1, r.MemberCount("r1"))
	})
}

func TestRegistry_ListMembers(t *testing.T) {
	req := require.New(t)
	r := New()

	req.NotNil(r.ListMembers("missing", ""))
	req.Empty(r.ListMembers("missing", ""))

	r.AddMember("r1", Member{ID: "a"})
	r.AddMember("r1", Member{ID: "b"})
	r.AddMember("r1", Member{ID: "c"})

	others := r.ListMembers("r1", "b")
	req.Equal([]string{"a", "c"}, lo.Map(others, func(m Member, _ int) string { return m.ID }))

	// Snapshot is detached from later mutations.
	r.RemoveMember("r1", "a")
	req.Len(others, 2)

	alone := New()
	alone.AddMember("solo", Member{ID: "x"})
	req.Empty(alone.ListMembers("solo", "x"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("r%d", i%4)
			for j := 0; j < 100; j++ {
				r.AddMember(room, Member{ID: id})
				_ = r.ListMembers(room, id)
				_ = r.RoomCount()
				r.RemoveMember(room, id)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, r.RoomCount())
}
