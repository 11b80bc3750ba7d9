package room

import "errors"

// Error is a coordinator error carrying a stable code for clients.
// Error() renders "CODE: message".
type Error struct {
	Code    string
	Message string
}

// Error renders CODE: message.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches on Code so IllegalMove("...") satisfies errors.Is(err, ErrIllegalMove).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadySeatedElsewhere = &Error{"ALREADY_SEATED_ELSEWHERE", "Player already holds a seat in another room"}
	ErrRoomNotFound           = &Error{"ROOM_NOT_FOUND", "Room not found"}
	ErrInvalidSession         = &Error{"INVALID_SESSION", "Session token does not match any seat"}
	ErrNotYourTurn            = &Error{"NOT_YOUR_TURN", "It is not your turn"}
	ErrStaleMove              = &Error{"STALE_MOVE", "Move sequence number already used"}
	ErrIllegalMove            = &Error{"ILLEGAL_MOVE", "Illegal move"}
	ErrRoomClosed             = &Error{"ROOM_CLOSED", "Room is closed"}
	ErrRulesUnavailable       = &Error{"RULES_UNAVAILABLE", "Rules authority unavailable, try again"}
	ErrNotSeated              = &Error{"NOT_SEATED", "Player is not seated in this room"}
	ErrUnknownGame            = &Error{"UNKNOWN_GAME", "Unknown game type"}

	// ErrSuperseded marks traffic from a channel whose epoch has been replaced.
	ErrSuperseded = &Error{"SUPERSEDED", "Connection replaced by a newer one"}

	errRoomFull = &Error{"ROOM_FULL", "Room is full"}
)

// IllegalMove carries the rules authority's reason. It matches ErrIllegalMove
// under errors.Is.
func IllegalMove(reason string) *Error {
	if reason == "" {
		reason = ErrIllegalMove.Message
	}
	return &Error{Code: ErrIllegalMove.Code, Message: reason}
}

// Code extracts the client-facing code, or "" for foreign errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
