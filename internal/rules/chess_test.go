package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chessMove(s string) json.RawMessage {
	b, _ := json.Marshal(ChessMove{Move: s})
	return b
}

func TestChess_OpeningMoves(t *testing.T) {
	assert := assert.New(t)

	st := play(t, Chess{}, chessMove("e2e4"), chessMove("e5"))

	var decoded ChessState
	require.NoError(t, json.Unmarshal(st, &decoded))
	// SAN input is stored as UCI
	assert.Equal([]string{"e2e4", "e7e5"}, decoded.Moves)
	assert.Equal([]string{"e4", "e5"}, decoded.SAN)
	assert.NotEmpty(decoded.FEN)

	out, err := Chess{}.IsTerminal(context.Background(), st)
	assert.NoError(err)
	assert.Equal(NoOutcome(), out)
}

func TestChess_Rejections(t *testing.T) {
	ctx := context.Background()
	st, err := Chess{}.InitialState(ctx, 2)
	require.NoError(t, err)

	tests := []struct {
		name   string
		move   Move
		reason string
	}{
		{"black moves first", Move{Seat: 1, Payload: chessMove("e7e5")}, "Not your turn"},
		{"illegal pawn jump", Move{Seat: 0, Payload: chessMove("e2e5")}, "Illegal move"},
		{"nonsense", Move{Seat: 0, Payload: chessMove("zz")}, "Illegal move"},
		{"empty", Move{Seat: 0, Payload: json.RawMessage(`{}`)}, "Move must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Chess{}.Validate(ctx, st, tt.move)
			require.NoError(t, err)
			assert.False(t, v.Accepted)
			assert.Contains(t, v.Reason, tt.reason)
		})
	}
}

func TestChess_FoolsMate(t *testing.T) {
	st := play(t, Chess{}, chessMove("f2f3"), chessMove("e7e5"), chessMove("g2g4"), chessMove("d8h4"))

	out, err := Chess{}.IsTerminal(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, Win(1), out)

	v, err := Chess{}.Validate(context.Background(), st, Move{Seat: 0, Payload: chessMove("a2a3")})
	require.NoError(t, err)
	assert.False(t, v.Accepted)
}

func TestChess_CorruptState(t *testing.T) {
	_, err := Chess{}.IsTerminal(context.Background(), json.RawMessage(`{"moves":["e2e5"]}`))
	assert.Error(t, err)
}
