// Package room holds the room actor, its turn state machine and the manager
// that indexes live rooms.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"duel-server/internal/obslog"
	"duel-server/internal/rules"
)

// Status is a room's lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

const (
	SeatCount = 2
	inboxSize = 64

	defaultGracePeriod  = 60 * time.Second
	defaultRulesTimeout = 3 * time.Second
)

// Options are the per-room settings the manager hands to every room.
type Options struct {
	GracePeriod  time.Duration
	RulesTimeout time.Duration
	Publisher    Publisher
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = defaultGracePeriod
	}
	if o.RulesTimeout <= 0 {
		o.RulesTimeout = defaultRulesTimeout
	}
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	return o
}

// MoveResult is what an accepted move produced. It is replayed verbatim when
// the same clientSeq is resent.
type MoveResult struct {
	Seq      int64           `json:"seq"`
	TurnSeat int             `json:"turnSeat"`
	State    json.RawMessage `json:"state"`
	Outcome  *rules.Outcome  `json:"outcome,omitempty"`
	Replayed bool            `json:"-"`
}

// Event is the state_update sent for this result.
func (m MoveResult) Event() Event {
	return Event{Type: EventStateUpdate, Payload: StateUpdate{
		Seq:          m.Seq,
		TurnSeat:     m.TurnSeat,
		StatePayload: m.State,
		Outcome:      m.Outcome,
	}}
}

type seat struct {
	playerID string
	handle   string
	key      string

	epoch     uint64
	connected bool
	timer     *time.Timer

	lastClientSeq int64
	lastResult    *MoveResult
}

type command struct {
	fn   func()
	done chan error
}

// Room is a single-writer actor. Every read or write of the fields below the
// inbox happens on the run goroutine.
type Room struct {
	id        string
	game      string
	rules     rules.Authority
	pub       Publisher
	opts      Options
	createdAt time.Time

	status       atomic.Value // Status
	seated       atomic.Int32
	lastActivity atomic.Int64

	inbox    chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	onTerminal func(r *Room, players []string)

	seats   [SeatCount]*seat
	state   json.RawMessage
	seq     int64
	turn    int
	outcome *rules.Outcome
	reason  string
}

func newRoom(id, game string, auth rules.Authority, opts Options, onTerminal func(*Room, []string)) *Room {
	opts = opts.withDefaults()
	r := &Room{
		id:         id,
		game:       game,
		rules:      auth,
		pub:        opts.Publisher,
		opts:       opts,
		createdAt:  time.Now(),
		inbox:      make(chan command, inboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		onTerminal: onTerminal,
	}
	r.status.Store(StatusWaiting)
	r.touch()
	return r
}

func (r *Room) start() *Room {
	go r.run()
	return r
}

// ID, Game, Status, Seated, CreatedAt and LastActivity are safe to call from
// any goroutine.
func (r *Room) ID() string { return r.id }

func (r *Room) Game() string { return r.game }

func (r *Room) Status() Status { return r.status.Load().(Status) }

func (r *Room) Seated() int { return int(r.seated.Load()) }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) LastActivity() time.Time { return time.Unix(0, r.lastActivity.Load()) }

// Done is closed once the actor has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

// Stop ends the actor. Commands still queued resolve with ErrRoomClosed.
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}

func (r *Room) run() {
	defer close(r.done)
	for {
		// quit wins over a queued command
		select {
		case <-r.quit:
			r.drain()
			return
		default:
		}
		select {
		case cmd := <-r.inbox:
			cmd.done <- r.safely(cmd.fn)
		case <-r.quit:
			r.drain()
			return
		}
	}
}

// drain stops the grace timers and resolves everything still queued with
// ErrRoomClosed.
func (r *Room) drain() {
	for _, s := range r.seats {
		r.stopTimer(s)
	}
	for {
		select {
		case cmd := <-r.inbox:
			cmd.done <- ErrRoomClosed
		default:
			return
		}
	}
}

func (r *Room) safely(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			obslog.L().Error("room_command_panic", zap.String("room_id", r.id), zap.Any("panic", p))
			err = fmt.Errorf("room %s: internal error", r.id)
		}
	}()
	fn()
	return nil
}

// exec runs fn on the actor and waits for it. ctx only bounds the enqueue.
func (r *Room) exec(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case r.inbox <- cmd:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-r.done:
		select {
		case err := <-cmd.done:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// post enqueues fn without waiting. Used by timers.
func (r *Room) post(fn func()) {
	select {
	case r.inbox <- command{fn: fn, done: make(chan error, 1)}:
	case <-r.done:
	}
}

func call[T any](ctx context.Context, r *Room, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if execErr := r.exec(ctx, func() { out, err = fn() }); execErr != nil {
		var zero T
		return zero, execErr
	}
	return out, err
}

// join seats playerID in the first free seat. It reports whether the room
// became active.
func (r *Room) join(ctx context.Context, playerID, handle string) (SessionToken, bool, error) {
	type joined struct {
		tok    SessionToken
		active bool
	}
	res, err := call(ctx, r, func() (joined, error) {
		tok, active, err := r.doJoin(ctx, playerID, handle)
		return joined{tok, active}, err
	})
	return res.tok, res.active, err
}

func (r *Room) doJoin(ctx context.Context, playerID, handle string) (SessionToken, bool, error) {
	status := r.Status()
	if status.Terminal() {
		return SessionToken{}, false, ErrRoomClosed
	}
	for i, s := range r.seats {
		if s != nil && s.playerID == playerID {
			return r.tokenFor(i), status == StatusActive, nil
		}
	}
	if status != StatusWaiting {
		return SessionToken{}, false, errRoomFull
	}

	idx := -1
	for i, s := range r.seats {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return SessionToken{}, false, errRoomFull
	}

	s := &seat{playerID: playerID, handle: handle, key: newKey()}
	r.seats[idx] = s
	r.seated.Add(1)
	r.armTimer(s)
	r.touch()

	obslog.L().Info("player_seated",
		zap.String("room_id", r.id),
		zap.String("player_id", playerID),
		zap.Int("seat", idx))

	if r.seats[0] == nil || r.seats[1] == nil {
		return r.tokenFor(idx), false, nil
	}

	rctx, cancel := r.rulesContext(ctx)
	defer cancel()
	st, err := r.rules.InitialState(rctx, SeatCount)
	if err != nil {
		r.stopTimer(s)
		r.seats[idx] = nil
		r.seated.Add(-1)
		obslog.L().Warn("initial_state_failed", zap.String("room_id", r.id), zap.Error(err))
		return SessionToken{}, false, ErrRulesUnavailable
	}

	r.state = st
	r.turn = 0
	r.seq = 0
	r.status.Store(StatusActive)
	obslog.L().Info("room_active", zap.String("room_id", r.id), zap.String("game", r.game))
	r.pub.Publish(r.id, r.stateEvent())
	return r.tokenFor(idx), true, nil
}

// SubmitMove runs one move through the turn state machine. epoch must be the
// seat's current connection epoch.
func (r *Room) SubmitMove(ctx context.Context, playerID string, seatIdx int, epoch uint64, clientSeq int64, payload json.RawMessage) (MoveResult, error) {
	return call(ctx, r, func() (MoveResult, error) {
		return r.doMove(ctx, playerID, seatIdx, epoch, clientSeq, payload)
	})
}

func (r *Room) doMove(ctx context.Context, playerID string, idx int, epoch uint64, clientSeq int64, payload json.RawMessage) (MoveResult, error) {
	s, err := r.seatFor(idx, playerID)
	if err != nil {
		return MoveResult{}, err
	}
	if s.epoch != epoch {
		return MoveResult{}, ErrSuperseded
	}
	if s.lastResult != nil && clientSeq == s.lastClientSeq {
		res := *s.lastResult
		res.Replayed = true
		return res, nil
	}

	status := r.Status()
	if status.Terminal() {
		return MoveResult{}, ErrRoomClosed
	}
	if status != StatusActive || idx != r.turn {
		return MoveResult{}, ErrNotYourTurn
	}
	if s.lastResult != nil && clientSeq < s.lastClientSeq {
		return MoveResult{}, ErrStaleMove
	}

	rctx, cancel := r.rulesContext(ctx)
	defer cancel()

	verdict, err := r.rules.Validate(rctx, r.state, rules.Move{Seat: idx, Payload: payload})
	if err != nil {
		return MoveResult{}, r.rulesUnavailable("validate", err)
	}
	if !verdict.Accepted {
		obslog.L().Debug("move_rejected",
			zap.String("room_id", r.id),
			zap.Int("seat", idx),
			zap.String("reason", verdict.Reason))
		return MoveResult{}, IllegalMove(verdict.Reason)
	}
	outcome, err := r.rules.IsTerminal(rctx, verdict.State)
	if err != nil {
		return MoveResult{}, r.rulesUnavailable("is_terminal", err)
	}

	r.state = verdict.State
	r.seq++
	r.turn = 1 - idx
	r.touch()

	res := MoveResult{Seq: r.seq, TurnSeat: r.turn, State: r.state}
	if outcome.Terminal() {
		res.Outcome = &outcome
	}
	s.lastClientSeq = clientSeq
	s.lastResult = &res

	obslog.L().Info("move_accepted",
		zap.String("room_id", r.id),
		zap.Int("seat", idx),
		zap.Int64("seq", r.seq),
		zap.Int64("client_seq", clientSeq))

	r.pub.Publish(r.id, res.Event())
	if outcome.Terminal() {
		r.finish(StatusFinished, outcome, ReasonCompleted)
	}
	return res, nil
}

// rulesUnavailable tells both seats and leaves state untouched.
func (r *Room) rulesUnavailable(op string, err error) error {
	obslog.L().Warn("rules_unavailable",
		zap.String("room_id", r.id),
		zap.String("op", op),
		zap.Error(err))
	r.pub.Publish(r.id, ErrorEvent(ErrRulesUnavailable))
	return ErrRulesUnavailable
}

// Leave is a voluntary exit. In an active room it forfeits to the other seat.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	_, err := call(ctx, r, func() (struct{}, error) {
		idx := r.seatOf(playerID)
		if idx < 0 {
			return struct{}{}, ErrNotSeated
		}
		obslog.L().Info("player_left", zap.String("room_id", r.id), zap.Int("seat", idx))
		switch r.Status() {
		case StatusWaiting:
			r.finish(StatusAbandoned, rules.NoOutcome(), ReasonAbandoned)
		case StatusActive:
			r.finish(StatusFinished, rules.Win(1-idx), ReasonForfeit)
		}
		return struct{}{}, nil
	})
	return err
}

// Bind attaches a new channel to the seat named by tok. attach runs on the
// actor before any later event, so the resync it receives is never stale.
func (r *Room) Bind(ctx context.Context, tok SessionToken, attach func(epoch uint64, resync Event)) (uint64, error) {
	return call(ctx, r, func() (uint64, error) {
		if tok.RoomID != r.id || tok.Seat < 0 || tok.Seat >= SeatCount {
			return 0, ErrInvalidSession
		}
		s := r.seats[tok.Seat]
		if s == nil || s.playerID != tok.PlayerID || s.key != tok.Key {
			return 0, ErrInvalidSession
		}

		r.stopTimer(s)
		s.epoch++
		s.connected = true
		r.touch()

		if attach != nil {
			attach(s.epoch, r.resyncEvent(tok.Seat))
		}
		r.pub.Send(r.id, 1-tok.Seat, Event{Type: EventOpponentStatus, Payload: OpponentStatus{Seat: tok.Seat, Connected: true}})

		obslog.L().Info("seat_bound",
			zap.String("room_id", r.id),
			zap.Int("seat", tok.Seat),
			zap.Uint64("epoch", s.epoch))
		return s.epoch, nil
	})
}

// Disconnected reports that the channel bound at epoch has gone away. A newer
// epoch makes this a no-op.
func (r *Room) Disconnected(ctx context.Context, idx int, epoch uint64) error {
	_, err := call(ctx, r, func() (struct{}, error) {
		if idx < 0 || idx >= SeatCount || r.seats[idx] == nil {
			return struct{}{}, ErrNotSeated
		}
		s := r.seats[idx]
		if s.epoch != epoch || !s.connected {
			return struct{}{}, ErrSuperseded
		}
		s.connected = false
		if !r.Status().Terminal() {
			r.armTimer(s)
		}
		r.pub.Send(r.id, 1-idx, Event{Type: EventOpponentStatus, Payload: OpponentStatus{Seat: idx, Connected: false}})

		obslog.L().Info("seat_disconnected",
			zap.String("room_id", r.id),
			zap.Int("seat", idx),
			zap.Duration("grace", r.opts.GracePeriod))
		return struct{}{}, nil
	})
	return err
}

func (r *Room) seatTimedOut(s *seat, epoch uint64) {
	idx := r.indexOf(s)
	if idx < 0 || s.connected || s.epoch != epoch {
		return
	}
	status := r.Status()
	if status.Terminal() {
		return
	}
	obslog.L().Info("seat_timed_out", zap.String("room_id", r.id), zap.Int("seat", idx))

	if status == StatusWaiting {
		r.finish(StatusAbandoned, rules.NoOutcome(), ReasonAbandoned)
		return
	}
	other := r.seats[1-idx]
	if other == nil || !other.connected {
		r.finish(StatusAbandoned, rules.NoOutcome(), ReasonAbandoned)
		return
	}
	r.finish(StatusFinished, rules.Win(1-idx), ReasonTimeout)
}

func (r *Room) finish(status Status, outcome rules.Outcome, reason string) {
	r.status.Store(status)
	r.outcome = &outcome
	r.reason = reason
	r.touch()
	for _, s := range r.seats {
		r.stopTimer(s)
	}

	obslog.L().Info("room_closed",
		zap.String("room_id", r.id),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.String("outcome", string(outcome.Kind)))

	r.pub.Publish(r.id, Event{Type: EventGameOver, Payload: GameOver{Outcome: outcome, Reason: reason}})
	if r.onTerminal != nil {
		r.onTerminal(r, r.playerIDs())
	}
}

func (r *Room) armTimer(s *seat) {
	r.stopTimer(s)
	epoch := s.epoch
	s.timer = time.AfterFunc(r.opts.GracePeriod, func() {
		r.post(func() { r.seatTimedOut(s, epoch) })
	})
}

func (r *Room) stopTimer(s *seat) {
	if s != nil && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (r *Room) rulesContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.opts.RulesTimeout)
}

func (r *Room) seatFor(idx int, playerID string) (*seat, error) {
	if idx < 0 || idx >= SeatCount || r.seats[idx] == nil || r.seats[idx].playerID != playerID {
		return nil, ErrNotSeated
	}
	return r.seats[idx], nil
}

func (r *Room) seatOf(playerID string) int {
	for i, s := range r.seats {
		if s != nil && s.playerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) indexOf(s *seat) int {
	for i, cur := range r.seats {
		if cur == s {
			return i
		}
	}
	return -1
}

func (r *Room) playerIDs() []string {
	ids := make([]string, 0, SeatCount)
	for _, s := range r.seats {
		if s != nil {
			ids = append(ids, s.playerID)
		}
	}
	return ids
}

func (r *Room) tokenFor(idx int) SessionToken {
	s := r.seats[idx]
	return SessionToken{Key: s.key, RoomID: r.id, PlayerID: s.playerID, Seat: idx, Epoch: s.epoch}
}

func (r *Room) stateEvent() Event {
	return MoveResult{Seq: r.seq, TurnSeat: r.turn, State: r.state, Outcome: r.outcome}.Event()
}

func (r *Room) resyncEvent(idx int) Event {
	rs := Resync{
		RoomID:       r.id,
		Game:         r.game,
		Status:       r.Status(),
		Seat:         idx,
		Seq:          r.seq,
		TurnSeat:     r.turn,
		StatePayload: r.state,
		Outcome:      r.outcome,
	}
	if o := r.seats[1-idx]; o != nil {
		rs.Opponent = &SeatInfo{Seat: 1 - idx, PlayerID: o.playerID, Handle: o.handle, Connected: o.connected}
	}
	return Event{Type: EventResync, Payload: rs}
}

func (r *Room) touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}
