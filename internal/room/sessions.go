package room

import (
	"sync"

	"github.com/google/uuid"
)

// SessionToken proves prior seating. Key is the opaque secret handed to the
// client; the other fields are what it must match on reconnect.
type SessionToken struct {
	Key      string `json:"key"`
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Seat     int    `json:"seat"`
	Epoch    uint64 `json:"epoch"`
}

func newKey() string { return uuid.NewString() }

// Sessions indexes issued tokens by key.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]SessionToken
}

// NewSessions returns an empty session table.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]SessionToken)}
}

// Store records tok under its key, replacing any earlier entry.
func (s *Sessions) Store(tok SessionToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tok.Key] = tok
}

// Get resolves a session key. Unknown keys fail with ErrInvalidSession.
func (s *Sessions) Get(key string) (SessionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.sessions[key]
	if !ok {
		return SessionToken{}, ErrInvalidSession
	}
	return tok, nil
}

// SetEpoch records the epoch of the latest successful bind.
func (s *Sessions) SetEpoch(key string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.sessions[key]; ok {
		tok.Epoch = epoch
		s.sessions[key] = tok
	}
}

// Remove forgets a single session key.
func (s *Sessions) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

// RemoveRoom drops every token issued for roomID.
func (s *Sessions) RemoveRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, tok := range s.sessions {
		if tok.RoomID == roomID {
			delete(s.sessions, k)
		}
	}
}

// All returns a copy of every known token, in no particular order.
func (s *Sessions) All() []SessionToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionToken, 0, len(s.sessions))
	for _, tok := range s.sessions {
		out = append(out, tok)
	}
	return out
}
