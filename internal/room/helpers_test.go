package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duel-server/internal/rules"
)

var errDown = errors.New("rules service down")

// fakeRules is tic-tac-toe with switchable failures and an optional gate
// that holds Validate until released.
type fakeRules struct {
	rules.TicTacToe

	mu           sync.Mutex
	failInitial  bool
	failValidate bool
	failTerminal bool
	gate         chan struct{}
	entered      chan struct{}
}

func (f *fakeRules) set(fn func(f *fakeRules)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeRules) InitialState(ctx context.Context, n int) (json.RawMessage, error) {
	f.mu.Lock()
	fail := f.failInitial
	f.mu.Unlock()
	if fail {
		return nil, errDown
	}
	return f.TicTacToe.InitialState(ctx, n)
}

func (f *fakeRules) Validate(ctx context.Context, st json.RawMessage, mv rules.Move) (rules.Verdict, error) {
	f.mu.Lock()
	fail, gate, entered := f.failValidate, f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if fail {
		return rules.Verdict{}, errDown
	}
	return f.TicTacToe.Validate(ctx, st, mv)
}

func (f *fakeRules) IsTerminal(ctx context.Context, st json.RawMessage) (rules.Outcome, error) {
	f.mu.Lock()
	fail := f.failTerminal
	f.mu.Unlock()
	if fail {
		return rules.Outcome{}, errDown
	}
	return f.TicTacToe.IsTerminal(ctx, st)
}

type published struct {
	roomID string
	seat   int // -1 for room-wide
	ev     Event
}

// recorder is a Publisher that keeps everything it is given.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(roomID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{roomID, -1, ev})
}

func (r *recorder) Send(roomID string, seat int, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{roomID, seat, ev})
}

func (r *recorder) ofType(typ string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.ev.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) gameOver() (GameOver, bool) {
	evs := r.ofType(EventGameOver)
	if len(evs) == 0 {
		return GameOver{}, false
	}
	return evs[len(evs)-1].ev.Payload.(GameOver), true
}

type testEnv struct {
	m         *Manager
	rules     *fakeRules
	rec       *recorder
	closed    chan Snapshot
	destroyed chan string
}

func newTestEnv(t *testing.T, grace, retention time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		rules:     &fakeRules{},
		rec:       &recorder{},
		closed:    make(chan Snapshot, 16),
		destroyed: make(chan string, 16),
	}
	reg := rules.NewRegistry()
	reg.Register("tictactoe", env.rules)
	env.m = NewManager(ManagerConfig{
		Rules:        reg,
		Publisher:    env.rec,
		GracePeriod:  grace,
		RulesTimeout: time.Second,
		Retention:    retention,
		OnClosed: func(snap Snapshot) {
			select {
			case env.closed <- snap:
			default:
			}
		},
		OnDestroy:    func(id string) { env.destroyed <- id },
	})
	t.Cleanup(env.m.Close)
	return env
}

// seatPair seats alice and bob, binds both and returns their live tokens.
func (env *testEnv) seatPair(t *testing.T) (*Room, SessionToken, SessionToken) {
	t.Helper()
	ctx := context.Background()

	a, err := env.m.CreateOrJoin(ctx, "alice", "Alice", "")
	require.NoError(t, err)
	b, err := env.m.CreateOrJoin(ctx, "bob", "Bob", "")
	require.NoError(t, err)
	require.Equal(t, a.RoomID, b.RoomID)

	a, err = env.m.Bind(ctx, a.Key, nil)
	require.NoError(t, err)
	b, err = env.m.Bind(ctx, b.Key, nil)
	require.NoError(t, err)

	r, err := env.m.Lookup(a.RoomID)
	require.NoError(t, err)
	return r, a, b
}

func cell(i int) json.RawMessage {
	b, _ := json.Marshal(map[string]int{"index": i})
	return b
}

func move(t *testing.T, r *Room, tok SessionToken, clientSeq int64, idx int) MoveResult {
	t.Helper()
	res, err := r.SubmitMove(context.Background(), tok.PlayerID, tok.Seat, tok.Epoch, clientSeq, cell(idx))
	require.NoError(t, err)
	return res
}

func snapshot(t *testing.T, r *Room) Snapshot {
	t.Helper()
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}
