// Package rules defines the contract between a room and the authority that
// decides move legality and game outcome, plus the variants served by it.
package rules

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnknownGame is returned by Registry.Lookup.
var ErrUnknownGame = errors.New("UNKNOWN_GAME: no rules registered for game")

// Move is a seat's move payload. The payload format belongs to the variant.
type Move struct {
	Seat    int             `json:"seat"`
	Payload json.RawMessage `json:"payload"`
}

// Verdict is the answer to Validate. State is set only when Accepted.
type Verdict struct {
	Accepted bool            `json:"accepted"`
	State    json.RawMessage `json:"state,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

func Accept(state json.RawMessage) Verdict { return Verdict{Accepted: true, State: state} }

func Reject(reason string) Verdict { return Verdict{Reason: reason} }

// OutcomeKind is none, win or draw.
type OutcomeKind string

const (
	OutcomeNone OutcomeKind = "none"
	OutcomeWin  OutcomeKind = "win"
	OutcomeDraw OutcomeKind = "draw"
)

// Outcome is what IsTerminal reports. Seat is only meaningful for a win.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	Seat int         `json:"seat"` // meaningful only for OutcomeWin
}

func NoOutcome() Outcome { return Outcome{Kind: OutcomeNone} }

func Win(seat int) Outcome { return Outcome{Kind: OutcomeWin, Seat: seat} }

func DrawOutcome() Outcome { return Outcome{Kind: OutcomeDraw} }

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool { return o.Kind == OutcomeWin || o.Kind == OutcomeDraw }

// Authority decides legality and outcome for one game type. Implementations
// are stateless per call. Any returned error means the authority could not
// answer, which is distinct from a rejected move.
type Authority interface {
	InitialState(ctx context.Context, seatCount int) (json.RawMessage, error)
	Validate(ctx context.Context, state json.RawMessage, move Move) (Verdict, error)
	IsTerminal(ctx context.Context, state json.RawMessage) (Outcome, error)
}
