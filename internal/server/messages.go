package server

import (
	"encoding/json"

	"duel-server/internal/room"
)

// Client message types.
const (
	MsgJoin      = "join"
	MsgReconnect = "reconnect"
	MsgMove      = "move"
	MsgLeave     = "leave"
	MsgPing      = "ping"
)

// Server message types. Room events (state_update, game_over, resync,
// opponent_status, error) keep the type the room gave them.
const (
	MsgSeated                = "seated"
	MsgMoveRejected          = "move_rejected"
	MsgLeft                  = "left"
	MsgPong                  = "pong"
	MsgDisconnectedElsewhere = "disconnected_elsewhere"
	MsgError                 = room.EventError
)

// ClientMessage is every inbound frame. Payload is decoded per Type.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is every outbound frame.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func eventMessage(ev room.Event) ServerMessage {
	return ServerMessage{Type: ev.Type, Payload: ev.Payload}
}

func errorMessage(err error) ServerMessage {
	return eventMessage(room.ErrorEvent(err))
}
