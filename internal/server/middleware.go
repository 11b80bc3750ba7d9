package server

import (
	"sync"
	"time"

	"duel-server/internal/room"
)

// RateLimiter is a per-channel sliding window limiter.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> recent message times
	mu          sync.Mutex
}

// NewRateLimiter allows maxRequests per window for each channel. A
// non-positive maxRequests disables limiting.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
	}
}

// Allow records one message for connectionID and reports whether it fits in
// the current window.
func (r *RateLimiter) Allow(connectionID string) bool {
	if r.maxRequests <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := pruneBefore(r.requests[connectionID], now.Add(-r.window))
	if len(recent) >= r.maxRequests {
		r.requests[connectionID] = recent
		return false
	}
	r.requests[connectionID] = append(recent, now)
	return true
}

// Cleanup drops channels with no message inside the current window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for id, ts := range r.requests {
		if len(pruneBefore(ts, cutoff)) == 0 {
			delete(r.requests, id)
		}
	}
}

// RemoveConnection forgets a closed connection.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}

// pruneBefore keeps the timestamps after cutoff. ts is oldest first.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// ConnectionHealth records the last inbound message per channel for the idle sweep.
type ConnectionHealth struct {
	lastActivity map[string]time.Time
	mu           sync.RWMutex
}

// NewConnectionHealth returns an empty activity tracker.
func NewConnectionHealth() *ConnectionHealth {
	return &ConnectionHealth{
		lastActivity: make(map[string]time.Time),
	}
}

// UpdateActivity marks connectionID as active now.
func (h *ConnectionHealth) UpdateActivity(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity[connectionID] = time.Now()
}

// IsInactive reports whether a tracked channel has been silent longer than
// timeout. Untracked channels are never inactive.
func (h *ConnectionHealth) IsInactive(connectionID string, timeout time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	last, ok := h.lastActivity[connectionID]
	if !ok {
		return false
	}
	return time.Since(last) > timeout
}

// GetInactiveConnections returns the ids silent for longer than timeout.
func (h *ConnectionHealth) GetInactiveConnections(timeout time.Duration) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inactive := make([]string, 0)
	now := time.Now()
	for id, last := range h.lastActivity {
		if now.Sub(last) > timeout {
			inactive = append(inactive, id)
		}
	}
	return inactive
}

// RemoveConnection stops tracking connectionID.
func (h *ConnectionHealth) RemoveConnection(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastActivity, connectionID)
}

// ValidateMessageType rejects anything a client is not allowed to send.
func ValidateMessageType(msgType string) error {
	switch msgType {
	case MsgJoin, MsgReconnect, MsgMove, MsgLeave, MsgPing:
		return nil
	}
	return &room.Error{Code: ErrInvalidMessageType.Code, Message: "Unknown message type '" + msgType + "'"}
}

const maxHandleLength = 20

// ValidateHandle accepts an empty handle; the player token identifies the player.
func ValidateHandle(handle string) error {
	if len([]rune(handle)) > maxHandleLength {
		return invalidPayload("Handle too long (max 20 characters)")
	}
	return nil
}
