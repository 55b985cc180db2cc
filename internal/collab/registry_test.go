package collab

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinReturnsOthersAndAnnounces(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, b, c := newMember("s-a", "ann"), newMember("s-b", "ben"), newMember("s-c", "cat")

	assert.Empty(t, r.Join(a, "m1", nil))
	assert.Equal(t, []Presence{{ID: "ann", Username: "ann-name"}}, r.Join(b, "m1", nil))

	a.reset()
	b.reset()
	others := r.Join(c, "m1", nil)

	assert.Equal(t, []Presence{
		{ID: "ann", Username: "ann-name"},
		{ID: "ben", Username: "ben-name"},
	}, others)
	for _, m := range []*fakeMember{a, b} {
		joined := m.received(EventUserJoined)
		require.Len(t, joined, 1)
		assert.Equal(t, Presence{ID: "cat", Username: "cat-name"}, joined[0].Data)
	}
	assert.Empty(t, c.received(EventUserJoined))
}

func TestRegistry_GreetRunsBeforeRoomTraffic(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, b := newMember("s-a", "ann"), newMember("s-b", "ben")
	r.Join(a, "m1", nil)

	r.Join(b, "m1", func(others []Presence) {
		b.Send(Event{Name: EventActiveUsers, Data: others})
	})
	r.Broadcast("m1", "s-a", Event{Name: EventCursorMoved})

	assert.Equal(t, []string{EventActiveUsers, EventCursorMoved}, b.names())
}

func TestRegistry_LeaveAnnouncesAndReclaims(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, b := newMember("s-a", "ann"), newMember("s-b", "ben")
	r.Join(a, "m1", nil)
	r.Join(b, "m1", nil)

	doc, ok := r.Leave("s-b")
	assert.True(t, ok)
	assert.Equal(t, "m1", doc)
	left := a.received(EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, Presence{ID: "ben", Username: "ben-name"}, left[0].Data)

	_, ok = r.Leave("s-b")
	assert.False(t, ok, "second leave is a no-op")
	_, ok = r.Leave("never-joined")
	assert.False(t, ok)

	r.Leave("s-a")
	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 0, r.SessionCount())

	d := newMember("s-d", "dan")
	assert.Empty(t, r.Join(d, "m1", nil), "no stale presence after the room emptied")
}

func TestRegistry_NoDeliveryAfterLeave(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, b := newMember("s-a", "ann"), newMember("s-b", "ben")
	r.Join(a, "m1", nil)
	r.Join(b, "m1", nil)

	r.Leave("s-b")
	b.reset()
	r.Broadcast("m1", "s-a", Event{Name: EventNodeUpdated})
	r.Broadcast("m1", "", Event{Name: EventCommentAdded})

	assert.Empty(t, b.names())
	assert.Len(t, a.received(EventCommentAdded), 1)
}

func TestRegistry_PresenceIsPerUser(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, tab1, tab2 := newMember("s-a", "ann"), newMember("s-b1", "ben"), newMember("s-b2", "ben")
	r.Join(a, "m1", nil)
	r.Join(tab1, "m1", nil)
	r.Join(tab2, "m1", nil)

	assert.Len(t, a.received(EventUserJoined), 1, "second tab of the same user is not announced")
	assert.Equal(t, []Presence{{ID: "ann", Username: "ann-name"}, {ID: "ben", Username: "ben-name"}}, r.Members("m1"))

	r.Leave("s-b1")
	assert.Empty(t, a.received(EventUserLeft), "user is still present in another tab")
	r.Leave("s-b2")
	assert.Len(t, a.received(EventUserLeft), 1)
}

func TestRegistry_BroadcastExcludesOriginatorAndOtherRooms(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	a, b, other := newMember("s-a", "ann"), newMember("s-b", "ben"), newMember("s-o", "oli")
	r.Join(a, "m1", nil)
	r.Join(b, "m1", nil)
	r.Join(other, "m2", nil)

	r.Broadcast("m1", "s-a", Event{Name: EventNodeUpdated})

	assert.Empty(t, a.received(EventNodeUpdated))
	assert.Len(t, b.received(EventNodeUpdated), 1)
	assert.Empty(t, other.received(EventNodeUpdated))

	r.Broadcast("missing", "", Event{Name: EventNodeUpdated})
}

func TestRegistry_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	r := NewRoomRegistry(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMember(fmt.Sprintf("s-%d", i), fmt.Sprintf("u-%d", i))
			for j := 0; j < 50; j++ {
				r.Join(m, "m1", nil)
				r.Broadcast("m1", m.SessionID(), Event{Name: EventCursorMoved})
				r.Leave(m.SessionID())
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.RoomCount())
	assert.Equal(t, 0, r.SessionCount())
}
