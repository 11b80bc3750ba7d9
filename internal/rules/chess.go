package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ChessState carries the UCI move list; the position is rebuilt from the
// start on every call. FEN is informational for clients.
type ChessState struct {
	Moves []string `json:"moves"`
	FEN   string   `json:"fen"`
	SAN   []string `json:"san,omitempty"`
}

// ChessMove accepts UCI (e2e4) or SAN (Nf3).
type ChessMove struct {
	Move string `json:"move"`
}

// Chess plays standard chess. Seat 0 is white.
type Chess struct{}

func (Chess) InitialState(_ context.Context, seatCount int) (json.RawMessage, error) {
	if seatCount != 2 {
		return nil, fmt.Errorf("chess needs 2 seats, got %d", seatCount)
	}
	return json.Marshal(ChessState{Moves: []string{}, FEN: nchess.NewGame().FEN()})
}

// Validate applies the move to the position rebuilt from FEN.
func (Chess) Validate(_ context.Context, raw json.RawMessage, move Move) (Verdict, error) {
	st, game, err := decodeChess(raw)
	if err != nil {
		return Verdict{}, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return Reject("Game is already over"), nil
	}
	if colorFor(move.Seat) != game.Position().Turn() {
		return Reject("Not your turn"), nil
	}

	var mv ChessMove
	if err := json.Unmarshal(move.Payload, &mv); err != nil || strings.TrimSpace(mv.Move) == "" {
		return Reject("Move must be {\"move\": \"e2e4\"}"), nil
	}

	pos := game.Position()
	rawMove := strings.TrimSpace(mv.Move)
	if err := game.PushNotationMove(strings.ToLower(rawMove), nchess.UCINotation{}, nil); err != nil {
		if err := game.PushNotationMove(rawMove, nchess.AlgebraicNotation{}, nil); err != nil {
			return Reject("Illegal move: " + rawMove), nil
		}
	}
	last := lastMove(game)
	if last == nil {
		return Reject("Illegal move: " + rawMove), nil
	}

	st.Moves = append(st.Moves, last.String())
	st.SAN = append(st.SAN, nchess.AlgebraicNotation{}.Encode(pos, last))
	st.FEN = game.FEN()

	next, err := json.Marshal(st)
	if err != nil {
		return Verdict{}, err
	}
	return Accept(next), nil
}

func (Chess) IsTerminal(_ context.Context, raw json.RawMessage) (Outcome, error) {
	_, game, err := decodeChess(raw)
	if err != nil {
		return Outcome{}, err
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Win(0), nil
	case nchess.BlackWon:
		return Win(1), nil
	case nchess.Draw:
		return DrawOutcome(), nil
	}
	return NoOutcome(), nil
}

func decodeChess(raw json.RawMessage) (ChessState, *nchess.Game, error) {
	var st ChessState
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, nil, fmt.Errorf("decode chess state: %w", err)
	}
	game := nchess.NewGame()
	for _, mv := range st.Moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return st, nil, fmt.Errorf("replay chess move %q: %w", mv, err)
		}
	}
	return st, game, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFor(seat int) nchess.Color {
	if seat == 0 {
		return nchess.White
	}
	return nchess.Black
}
