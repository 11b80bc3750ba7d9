package server

import (
	"encoding/json"

	"duel-server/internal/room"
)

// ============================================================================
// ERRORS (error)
// ============================================================================

// Transport-level errors. Room errors are sent with their own codes.
var (
	ErrInvalidPayload     = &room.Error{Code: "INVALID_PAYLOAD", Message: "Invalid payload"}
	ErrInvalidMessageType = &room.Error{Code: "INVALID_MESSAGE_TYPE", Message: "Unknown message type"}
	ErrRateLimited        = &room.Error{Code: "RATE_LIMITED", Message: "Too many messages, slow down"}
)

func invalidPayload(msg string) *room.Error {
	return &room.Error{Code: ErrInvalidPayload.Code, Message: msg}
}

// ============================================================================
// JOIN (join -> seated)
// ============================================================================

// JoinRequest asks for a seat. Game is optional.
type JoinRequest struct {
	PlayerToken string `json:"playerToken"`
	Handle      string `json:"handle,omitempty"`
	Game        string `json:"game,omitempty"`
}

// SeatedResponse answers a join. SessionToken is what a later reconnect presents.
type SeatedResponse struct {
	RoomID       string `json:"roomId"`
	Seat         int    `json:"seat"`
	SessionToken string `json:"sessionToken"`
	Game         string `json:"game"`
}

// ============================================================================
// RECONNECT (reconnect -> resync)
// ============================================================================

// ReconnectRequest rebinds a channel to the seat behind SessionToken.
type ReconnectRequest struct {
	SessionToken string `json:"sessionToken"`
}

// ============================================================================
// MOVE (move -> state_update | move_rejected)
// ============================================================================

// MoveRequest carries a variant-specific payload. ClientSeq must grow per seat.
type MoveRequest struct {
	ClientSeq int64           `json:"clientSeq"`
	Payload   json.RawMessage `json:"payload"`
}

// MoveRejectedResponse goes only to the seat that sent the move.
type MoveRejectedResponse struct {
	ClientSeq int64  `json:"clientSeq"`
	Reason    string `json:"reason"`
}

// ============================================================================
// LEAVE (leave -> left)
// ============================================================================

type LeftResponse struct {
	RoomID string `json:"roomId"`
}

// ============================================================================
// CONNECTION NOTICES
// ============================================================================

type DisconnectedElsewhereNotice struct {
	Message string `json:"message"`
}

// ============================================================================
// HTTP
// ============================================================================

// HealthResponse is served on GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Store       string `json:"store"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
