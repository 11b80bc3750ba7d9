package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test 1: Basic session storage and retrieval
// Why: Foundation of reconnection - must work reliably
func TestSessions_StoreAndGet(t *testing.T) {
	s := NewSessions()

	tok := SessionToken{Key: "k1", RoomID: "ABCD", PlayerID: "alice", Seat: 0}
	s.Store(tok)

	got, err := s.Get("k1")
	assert.NoError(t, err)
	assert.Equal(t, tok, got)
}

// Test 2: Unknown keys are rejected
// Why: Security - forged tokens must never resolve to a seat
func TestSessions_UnknownKey(t *testing.T) {
	s := NewSessions()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Contains(t, err.Error(), "INVALID_SESSION")
}

func TestSessions_SetEpoch(t *testing.T) {
	s := NewSessions()
	s.Store(SessionToken{Key: "k1", RoomID: "ABCD", PlayerID: "alice"})

	s.SetEpoch("k1", 4)
	s.SetEpoch("nobody", 9)

	got, _ := s.Get("k1")
	assert.Equal(t, uint64(4), got.Epoch)
	assert.Len(t, s.All(), 1)
}

// Why: destroying a room must invalidate every token for it and no others
func TestSessions_RemoveRoom(t *testing.T) {
	s := NewSessions()
	s.Store(SessionToken{Key: "a", RoomID: "ROOM"})
	s.Store(SessionToken{Key: "b", RoomID: "ROOM", Seat: 1})
	s.Store(SessionToken{Key: "c", RoomID: "KEEP"})

	s.RemoveRoom("ROOM")

	_, err := s.Get("a")
	assert.Error(t, err)
	_, err = s.Get("b")
	assert.Error(t, err)
	_, err = s.Get("c")
	assert.NoError(t, err)

	s.Remove("c")
	assert.Empty(t, s.All())
}

// Why: the websocket handlers hit this from many goroutines
func TestSessions_Concurrent(t *testing.T) {
	s := NewSessions()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			s.Store(SessionToken{Key: key, RoomID: "ROOM", Seat: i % 2})
			s.SetEpoch(key, uint64(i))
			_, _ = s.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.All(), 50)
}
