package room

import (
	"context"
	"encoding/json"
	"time"

	"duel-server/internal/rules"
)

// SeatInfo is the public view of a seat.
type SeatInfo struct {
	Seat      int    `json:"seat"`
	PlayerID  string `json:"playerId"`
	Handle    string `json:"handle,omitempty"`
	Connected bool   `json:"connected"`
}

// SeatSnapshot adds the private seat fields a restore needs: the session
// key, the epoch and the last accepted move for idempotent resends.
type SeatSnapshot struct {
	SeatInfo
	Key           string      `json:"key"`
	Epoch         uint64      `json:"epoch"`
	LastClientSeq int64       `json:"lastClientSeq"`
	LastResult    *MoveResult `json:"lastResult,omitempty"`
}

// Snapshot is a full copy of room state, suitable for crash recovery.
type Snapshot struct {
	ID           string          `json:"id"`
	Game         string          `json:"game"`
	Status       Status          `json:"status"`
	Seats        []SeatSnapshot  `json:"seats"`
	State        json.RawMessage `json:"state,omitempty"`
	Seq          int64           `json:"seq"`
	TurnSeat     int             `json:"turnSeat"`
	Outcome      *rules.Outcome  `json:"outcome,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActivity time.Time       `json:"lastActivity"`
}

// View is what GET /rooms/{id} returns. It never carries session keys.
type View struct {
	ID           string          `json:"id"`
	Game         string          `json:"game"`
	Status       Status          `json:"status"`
	Seats        []SeatInfo      `json:"seats"`
	State        json.RawMessage `json:"state,omitempty"`
	Seq          int64           `json:"seq"`
	TurnSeat     int             `json:"turnSeat"`
	Outcome      *rules.Outcome  `json:"outcome,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActivity time.Time       `json:"lastActivity"`
}

// View drops the session keys.
func (s Snapshot) View() View {
	v := View{
		ID:           s.ID,
		Game:         s.Game,
		Status:       s.Status,
		Seats:        make([]SeatInfo, 0, len(s.Seats)),
		State:        s.State,
		Seq:          s.Seq,
		TurnSeat:     s.TurnSeat,
		Outcome:      s.Outcome,
		Reason:       s.Reason,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
	for _, seat := range s.Seats {
		v.Seats = append(v.Seats, seat.SeatInfo)
	}
	return v
}

// Summary is a lock-free listing entry.
type Summary struct {
	ID           string    `json:"id"`
	Game         string    `json:"game"`
	Status       Status    `json:"status"`
	Seated       int       `json:"seated"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Summary reads only atomics, so it never waits on the actor.
func (r *Room) Summary() Summary {
	return Summary{
		ID:           r.id,
		Game:         r.game,
		Status:       r.Status(),
		Seated:       r.Seated(),
		CreatedAt:    r.createdAt,
		LastActivity: r.LastActivity(),
	}
}

// Snapshot copies the room's state from its actor.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, r, func() (Snapshot, error) {
		return r.snapshot(), nil
	})
}

// snapshot must run on the actor.
func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		ID:           r.id,
		Game:         r.game,
		Status:       r.Status(),
		State:        r.state,
		Seq:          r.seq,
		TurnSeat:     r.turn,
		Outcome:      r.outcome,
		Reason:       r.reason,
		CreatedAt:    r.createdAt,
		LastActivity: r.LastActivity(),
	}
	for i, s := range r.seats {
		if s == nil {
			continue
		}
		snap.Seats = append(snap.Seats, SeatSnapshot{
			SeatInfo:      SeatInfo{Seat: i, PlayerID: s.playerID, Handle: s.handle, Connected: s.connected},
			Key:           s.key,
			Epoch:         s.epoch,
			LastClientSeq: s.lastClientSeq,
			LastResult:    s.lastResult,
		})
	}
	return snap
}

// restoreRoom rebuilds a room from a snapshot. Every seat starts disconnected
// with its grace timer running.
func restoreRoom(snap Snapshot, auth rules.Authority, opts Options, onTerminal func(*Room, []string)) *Room {
	r := newRoom(snap.ID, snap.Game, auth, opts, onTerminal)
	r.createdAt = snap.CreatedAt
	r.state = snap.State
	r.seq = snap.Seq
	r.turn = snap.TurnSeat
	r.outcome = snap.Outcome
	r.reason = snap.Reason
	for _, ss := range snap.Seats {
		if ss.Seat < 0 || ss.Seat >= SeatCount {
			continue
		}
		s := &seat{
			playerID:      ss.PlayerID,
			handle:        ss.Handle,
			key:           ss.Key,
			epoch:         ss.Epoch,
			lastClientSeq: ss.LastClientSeq,
			lastResult:    ss.LastResult,
		}
		r.seats[ss.Seat] = s
		r.seated.Add(1)
		r.armTimer(s)
	}
	r.status.Store(snap.Status)
	return r.start()
}
