package rules

import (
	"context"
	"encoding/json"
	"fmt"
)

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Marks by seat. Seat 0 plays X and moves first.
var marks = [2]string{"X", "O"}

// TicTacToeState is the board, row-major. Seat 0 plays X.
type TicTacToeState struct {
	Board [9]string `json:"board"`
	Next  int       `json:"next"`
}

// TicTacToeMove picks a cell 0..8.
type TicTacToeMove struct {
	Index *int `json:"index"`
}

// TicTacToe is the built-in 3x3 variant.
type TicTacToe struct{}

func (TicTacToe) InitialState(_ context.Context, seatCount int) (json.RawMessage, error) {
	if seatCount != 2 {
		return nil, fmt.Errorf("tictactoe needs 2 seats, got %d", seatCount)
	}
	return json.Marshal(TicTacToeState{})
}

func (TicTacToe) Validate(_ context.Context, raw json.RawMessage, move Move) (Verdict, error) {
	var st TicTacToeState
	if err := json.Unmarshal(raw, &st); err != nil {
		return Verdict{}, fmt.Errorf("decode tictactoe state: %w", err)
	}
	if winner(st.Board) != "" || full(st.Board) {
		return Reject("Game is already over"), nil
	}
	if move.Seat != st.Next {
		return Reject("Not your turn"), nil
	}

	var mv TicTacToeMove
	if err := json.Unmarshal(move.Payload, &mv); err != nil || mv.Index == nil {
		return Reject("Move must be {\"index\": 0-8}"), nil
	}
	idx := *mv.Index
	if idx < 0 || idx > 8 {
		return Reject("Invalid index"), nil
	}
	if st.Board[idx] != "" {
		return Reject("Cell already occupied"), nil
	}

	st.Board[idx] = marks[move.Seat]
	st.Next = 1 - move.Seat
	next, err := json.Marshal(st)
	if err != nil {
		return Verdict{}, err
	}
	return Accept(next), nil
}

func (TicTacToe) IsTerminal(_ context.Context, raw json.RawMessage) (Outcome, error) {
	var st TicTacToeState
	if err := json.Unmarshal(raw, &st); err != nil {
		return Outcome{}, fmt.Errorf("decode tictactoe state: %w", err)
	}
	switch winner(st.Board) {
	case marks[0]:
		return Win(0), nil
	case marks[1]:
		return Win(1), nil
	}
	if full(st.Board) {
		return DrawOutcome(), nil
	}
	return NoOutcome(), nil
}

func winner(b [9]string) string {
	for _, l := range winLines {
		if b[l[0]] != "" && b[l[0]] == b[l[1]] && b[l[1]] == b[l[2]] {
			return b[l[0]]
		}
	}
	return ""
}

func full(b [9]string) bool {
	for _, c := range b {
		if c == "" {
			return false
		}
	}
	return true
}
