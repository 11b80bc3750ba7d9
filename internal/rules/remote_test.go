package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRulesServer(t *testing.T) (*httptest.Server, *Remote) {
	t.Helper()
	srv := httptest.NewServer(Handler(Builtin()))
	t.Cleanup(srv.Close)
	return srv, NewRemote(srv.URL, WithTimeout(2*time.Second))
}

func TestRemote_RoundTripTicTacToe(t *testing.T) {
	_, remote := setupRulesServer(t)
	game := remote.Game("tictactoe")
	ctx := context.Background()

	st, err := game.InitialState(ctx, 2)
	require.NoError(t, err)

	v, err := game.Validate(ctx, st, Move{Seat: 0, Payload: cell(4)})
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	rejected, err := game.Validate(ctx, v.State, Move{Seat: 1, Payload: cell(4)})
	require.NoError(t, err)
	assert.False(t, rejected.Accepted)
	assert.Equal(t, "Cell already occupied", rejected.Reason)

	out, err := game.IsTerminal(ctx, v.State)
	require.NoError(t, err)
	assert.Equal(t, NoOutcome(), out)
}

func TestRemote_SameAnswersAsInProcess(t *testing.T) {
	_, remote := setupRulesServer(t)
	ctx := context.Background()

	local := play(t, Chess{}, chessMove("f2f3"), chessMove("e7e5"), chessMove("g2g4"), chessMove("d8h4"))
	over := play(t, remote.Game("chess"), chessMove("f2f3"), chessMove("e7e5"), chessMove("g2g4"), chessMove("d8h4"))
	assert.JSONEq(t, string(local), string(over))

	out, err := remote.Game("chess").IsTerminal(ctx, over)
	require.NoError(t, err)
	assert.Equal(t, Win(1), out)
}

func TestRemote_UnknownGame(t *testing.T) {
	_, remote := setupRulesServer(t)

	_, err := remote.Game("checkers").InitialState(context.Background(), 2)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")
}

func TestRemote_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	inner := Handler(Builtin())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	remote := NewRemote(srv.URL, WithRetry(3))
	_, err := remote.Game("tictactoe").InitialState(context.Background(), 2)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	remote := NewRemote(url, WithRetry(1), WithTimeout(200*time.Millisecond))
	_, err := remote.Game("tictactoe").InitialState(context.Background(), 2)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, []string{"chess", "tictactoe"}, reg.Names())

	a, err := reg.Lookup(" TicTacToe ")
	assert.NoError(t, err)
	assert.IsType(t, TicTacToe{}, a)

	_, err = reg.Lookup("go")
	assert.ErrorIs(t, err, ErrUnknownGame)
}
