package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cell(i int) json.RawMessage {
	b, _ := json.Marshal(map[string]int{"index": i})
	return b
}

// play applies moves alternately from seat 0 and fails the test on any rejection.
func play(t *testing.T, a Authority, payloads ...json.RawMessage) json.RawMessage {
	t.Helper()
	ctx := context.Background()
	st, err := a.InitialState(ctx, 2)
	require.NoError(t, err)
	for i, p := range payloads {
		v, err := a.Validate(ctx, st, Move{Seat: i % 2, Payload: p})
		require.NoError(t, err)
		require.True(t, v.Accepted, "move %d rejected: %s", i, v.Reason)
		st = v.State
	}
	return st
}

func TestTicTacToe_InitialState(t *testing.T) {
	assert := assert.New(t)

	st, err := TicTacToe{}.InitialState(context.Background(), 2)
	assert.NoError(err)

	var decoded TicTacToeState
	assert.NoError(json.Unmarshal(st, &decoded))
	assert.Equal(0, decoded.Next)
	for _, c := range decoded.Board {
		assert.Empty(c)
	}

	_, err = TicTacToe{}.InitialState(context.Background(), 3)
	assert.Error(err)
}

func TestTicTacToe_Rejections(t *testing.T) {
	ctx := context.Background()
	st := play(t, TicTacToe{}, cell(4))

	tests := []struct {
		name   string
		move   Move
		reason string
	}{
		{"wrong seat", Move{Seat: 0, Payload: cell(0)}, "Not your turn"},
		{"occupied", Move{Seat: 1, Payload: cell(4)}, "Cell already occupied"},
		{"out of range", Move{Seat: 1, Payload: cell(9)}, "Invalid index"},
		{"negative", Move{Seat: 1, Payload: cell(-1)}, "Invalid index"},
		{"missing index", Move{Seat: 1, Payload: json.RawMessage(`{}`)}, "Move must be"},
		{"garbage", Move{Seat: 1, Payload: json.RawMessage(`"x"`)}, "Move must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := TicTacToe{}.Validate(ctx, st, tt.move)
			require.NoError(t, err)
			assert.False(t, v.Accepted)
			assert.Contains(t, v.Reason, tt.reason)
			assert.Nil(t, v.State)
		})
	}
}

func TestTicTacToe_Outcomes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		moves []int
		want  Outcome
	}{
		{"in progress", []int{0, 4}, NoOutcome()},
		{"X wins top row", []int{0, 3, 1, 4, 2}, Win(0)},
		{"O wins diagonal", []int{1, 0, 2, 4, 3, 8}, Win(1)},
		{"draw", []int{0, 1, 2, 4, 3, 5, 7, 6, 8}, DrawOutcome()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloads := make([]json.RawMessage, len(tt.moves))
			for i, m := range tt.moves {
				payloads[i] = cell(m)
			}
			st := play(t, TicTacToe{}, payloads...)

			got, err := TicTacToe{}.IsTerminal(ctx, st)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTicTacToe_NoMovesAfterWin(t *testing.T) {
	st := play(t, TicTacToe{}, cell(0), cell(3), cell(1), cell(4), cell(2))

	v, err := TicTacToe{}.Validate(context.Background(), st, Move{Seat: 1, Payload: cell(8)})
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, "Game is already over", v.Reason)
}

func TestTicTacToe_CorruptState(t *testing.T) {
	_, err := TicTacToe{}.Validate(context.Background(), json.RawMessage(`{`), Move{Seat: 0, Payload: cell(0)})
	assert.Error(t, err)

	_, err = TicTacToe{}.IsTerminal(context.Background(), json.RawMessage(`[]`))
	assert.Error(t, err)
}
