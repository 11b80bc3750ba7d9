package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duel-server/internal/room"
)

// queued drains whatever a socketless channel has in its outbox.
func queued(t *testing.T, ch *Channel) []received {
	t.Helper()
	var out []received
	for {
		select {
		case o := <-ch.outbox:
			if o.close {
				out = append(out, received{Type: "<close>"})
				continue
			}
			var msg received
			require.NoError(t, json.Unmarshal(o.data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []received) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestRegistry_PublishReachesBoundSeatsOnly(t *testing.T) {
	reg := NewRegistry()
	a, b, stranger := newChannel(nil), newChannel(nil), newChannel(nil)
	for _, ch := range []*Channel{a, b, stranger} {
		reg.Add(ch)
	}
	reg.Attach(a, binding{RoomID: "ABCD", PlayerID: "alice", Seat: 0, Epoch: 1})
	reg.Attach(b, binding{RoomID: "ABCD", PlayerID: "bob", Seat: 1, Epoch: 1})

	reg.Publish("ABCD", room.Event{Type: room.EventStateUpdate})
	reg.Send("ABCD", 1, room.Event{Type: room.EventOpponentStatus})
	reg.Publish("WXYZ", room.Event{Type: room.EventGameOver})

	assert.Equal(t, []string{"state_update"}, types(queued(t, a)))
	assert.Equal(t, []string{"state_update", "opponent_status"}, types(queued(t, b)))
	assert.Empty(t, queued(t, stranger))
	assert.Equal(t, 3, reg.Count())
}

func TestRegistry_AttachDisplacesPreviousChannel(t *testing.T) {
	// Why: a stale tab must stop receiving the seat's events
	reg := NewRegistry()
	oldCh, newCh := newChannel(nil), newChannel(nil)
	reg.Add(oldCh)
	reg.Add(newCh)

	assert.Nil(t, reg.Attach(oldCh, binding{RoomID: "ABCD", PlayerID: "alice", Seat: 0, Epoch: 1}))
	displaced := reg.Attach(newCh, binding{RoomID: "ABCD", PlayerID: "alice", Seat: 0, Epoch: 2})
	assert.Same(t, oldCh, displaced)
	assert.Same(t, newCh, reg.Bound("ABCD", 0))

	_, bound := oldCh.Binding()
	assert.False(t, bound, "displaced channel loses its binding")

	// closing the displaced channel must not release the seat
	_, ok := reg.Remove(oldCh)
	assert.False(t, ok)
	assert.Same(t, newCh, reg.Bound("ABCD", 0))
}

func TestRegistry_RebindSameChannel(t *testing.T) {
	reg := NewRegistry()
	ch := newChannel(nil)
	reg.Add(ch)

	reg.Attach(ch, binding{RoomID: "ABCD", Seat: 1, Epoch: 1})
	assert.Nil(t, reg.Attach(ch, binding{RoomID: "ABCD", Seat: 1, Epoch: 2}))

	b, ok := ch.Binding()
	require.True(t, ok)
	assert.Equal(t, uint64(2), b.Epoch)
}

func TestRegistry_RemoveReturnsBinding(t *testing.T) {
	reg := NewRegistry()
	ch := newChannel(nil)
	reg.Add(ch)
	reg.Attach(ch, binding{RoomID: "ABCD", PlayerID: "bob", Seat: 1, Epoch: 3})

	b, ok := reg.Remove(ch)
	require.True(t, ok)
	assert.Equal(t, binding{RoomID: "ABCD", PlayerID: "bob", Seat: 1, Epoch: 3}, b)
	assert.Nil(t, reg.Bound("ABCD", 1))
	assert.Nil(t, reg.Get(ch.ID()))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_DropRoomReleasesChannels(t *testing.T) {
	reg := NewRegistry()
	ch := newChannel(nil)
	reg.Add(ch)
	reg.Attach(ch, binding{RoomID: "ABCD", Seat: 0, Epoch: 1})

	reg.DropRoom("ABCD")

	_, bound := ch.Binding()
	assert.False(t, bound)
	assert.Nil(t, reg.Bound("ABCD", 0))
	assert.Same(t, ch, reg.Get(ch.ID()), "the channel itself stays open")
}

func TestChannel_OverflowCloses(t *testing.T) {
	ch := newChannel(nil)
	for i := 0; i < outboxSize; i++ {
		require.True(t, ch.Send(ServerMessage{Type: MsgPong}))
	}
	assert.False(t, ch.Send(ServerMessage{Type: MsgPong}))

	select {
	case <-ch.Done():
	default:
		t.Fatal("overflowing channel should be closed")
	}
	assert.False(t, ch.Send(ServerMessage{Type: MsgPong}), "closed channel accepts nothing")
}

func TestChannel_CloseIsQueuedBehindMessages(t *testing.T) {
	ch := newChannel(nil)
	ch.Send(ServerMessage{Type: MsgDisconnectedElsewhere})
	ch.CloseWith(1000, "bye")

	assert.Equal(t, []string{"disconnected_elsewhere", "<close>"}, types(queued(t, ch)))
}
