package room

import (
	"encoding/json"
	"errors"

	"duel-server/internal/rules"
)

// Event types pushed from a room to its seats.
const (
	EventStateUpdate    = "state_update"
	EventGameOver       = "game_over"
	EventResync         = "resync"
	EventError          = "error"
	EventOpponentStatus = "opponent_status"
)

// Event is one message published by a room. Type doubles as the wire type.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// StateUpdate follows every accepted move, and the activation of a room.
type StateUpdate struct {
	Seq          int64           `json:"seq"`
	TurnSeat     int             `json:"turnSeat"`
	StatePayload json.RawMessage `json:"statePayload"`
	Outcome      *rules.Outcome  `json:"outcome,omitempty"`
}

// Game over reasons.
const (
	ReasonCompleted = "completed"
	ReasonForfeit   = "forfeit"
	ReasonTimeout   = "timeout"
	ReasonAbandoned = "abandoned"
)

// GameOver is sent once, when the room becomes terminal.
type GameOver struct {
	Outcome rules.Outcome `json:"outcome"`
	Reason  string        `json:"reason"`
}

// Resync is the full picture a channel gets when it binds to a seat.
type Resync struct {
	RoomID       string          `json:"roomId"`
	Game         string          `json:"game"`
	Status       Status          `json:"status"`
	Seat         int             `json:"seat"`
	Seq          int64           `json:"seq"`
	TurnSeat     int             `json:"turnSeat"`
	StatePayload json.RawMessage `json:"statePayload,omitempty"`
	Outcome      *rules.Outcome  `json:"outcome,omitempty"`
	Opponent     *SeatInfo       `json:"opponent,omitempty"`
}

// OpponentStatus tells a seat the other one went away or came back.
type OpponentStatus struct {
	Seat      int  `json:"seat"`
	Connected bool `json:"connected"`
}

// ErrorPayload is the body of an error message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEvent wraps err for publishing. Errors outside the taxonomy become
// INTERNAL.
func ErrorEvent(err error) Event {
	var e *Error
	if errors.As(err, &e) {
		return Event{Type: EventError, Payload: ErrorPayload{Code: e.Code, Message: e.Message}}
	}
	return Event{Type: EventError, Payload: ErrorPayload{Code: "INTERNAL", Message: err.Error()}}
}

// Publisher delivers room events to bound channels. Delivery is best-effort
// and must not block the caller.
type Publisher interface {
	Publish(roomID string, ev Event)
	Send(roomID string, seat int, ev Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, Event)   {}
func (nopPublisher) Send(string, int, Event) {}
