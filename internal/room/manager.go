package room

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"duel-server/internal/obslog"
	"duel-server/internal/rules"
)

const (
	defaultRetention = 2 * time.Minute
	maxJoinAttempts  = 8
)

// ManagerConfig configures NewManager. Zero durations fall back to defaults.
type ManagerConfig struct {
	Rules        *rules.Registry
	Publisher    Publisher
	GracePeriod  time.Duration
	RulesTimeout time.Duration
	Retention    time.Duration
	DefaultGame  string

	// OnClosed receives the final snapshot of a room that reached Finished
	// or Abandoned. It runs on the room's actor and must not block.
	OnClosed func(Snapshot)
	// OnDestroy runs after a room leaves the index.
	OnDestroy func(roomID string)
}

// Manager owns the room index. mu guards the maps only and is never held
// while talking to a room or a rules authority.
type Manager struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	players map[string]string   // playerID -> roomID, "" while a join is in flight
	waiting map[string][]string // game -> joinable room ids, oldest first
	timers  map[string]*time.Timer
	closed  bool

	rules       *rules.Registry
	sessions    *Sessions
	opts        Options
	retention   time.Duration
	defaultGame string
	onClosed    func(Snapshot)
	onDestroy   func(string)
}

// NewManager returns an empty manager. A nil Rules registry means the
// built-in variants.
func NewManager(cfg ManagerConfig) *Manager {
	reg := cfg.Rules
	if reg == nil {
		reg = rules.Builtin()
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	game := strings.ToLower(strings.TrimSpace(cfg.DefaultGame))
	if game == "" {
		game = "tictactoe"
	}
	return &Manager{
		rooms:   make(map[string]*Room),
		players: make(map[string]string),
		waiting: make(map[string][]string),
		timers:  make(map[string]*time.Timer),

		rules:    reg,
		sessions: NewSessions(),
		opts: Options{
			GracePeriod:  cfg.GracePeriod,
			RulesTimeout: cfg.RulesTimeout,
			Publisher:    cfg.Publisher,
		}.withDefaults(),
		retention:   retention,
		defaultGame: game,
		onClosed:    cfg.OnClosed,
		onDestroy:   cfg.OnDestroy,
	}
}

// Sessions exposes the session table shared by every room.
func (m *Manager) Sessions() *Sessions { return m.sessions }

// CreateOrJoin seats playerID in the oldest waiting room for game, or in
// seat 0 of a new room.
func (m *Manager) CreateOrJoin(ctx context.Context, playerID, handle, game string) (SessionToken, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return SessionToken{}, &Error{Code: "INVALID_PAYLOAD", Message: "playerToken is required"}
	}
	game = strings.ToLower(strings.TrimSpace(game))
	if game == "" {
		game = m.defaultGame
	}
	auth, err := m.rules.Lookup(game)
	if err != nil {
		return SessionToken{}, ErrUnknownGame
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SessionToken{}, ErrRoomClosed
	}
	if _, seated := m.players[playerID]; seated {
		m.mu.Unlock()
		return SessionToken{}, ErrAlreadySeatedElsewhere
	}
	m.players[playerID] = ""
	m.mu.Unlock()

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		r, created := m.pickRoom(game, auth)

		tok, active, err := r.join(ctx, playerID, handle)
		if errors.Is(err, errRoomFull) || errors.Is(err, ErrRoomClosed) {
			m.dropWaiting(game, r.id)
			continue
		}
		if err != nil {
			m.release(playerID)
			if created {
				m.destroy(r.id)
			}
			return SessionToken{}, err
		}

		m.mu.Lock()
		if !r.Status().Terminal() {
			m.players[playerID] = r.id
		} else {
			delete(m.players, playerID)
		}
		switch {
		case active:
			m.waiting[game] = slices.DeleteFunc(m.waiting[game], func(id string) bool { return id == r.id })
		case created:
			m.waiting[game] = append(m.waiting[game], r.id)
		}
		m.mu.Unlock()

		m.sessions.Store(tok)
		obslog.L().Info("create_or_join",
			zap.String("room_id", r.id),
			zap.String("player_id", playerID),
			zap.Int("seat", tok.Seat),
			zap.Bool("created", created),
			zap.Bool("active", active))
		return tok, nil
	}

	m.release(playerID)
	return SessionToken{}, errRoomFull
}

func (m *Manager) pickRoom(game string, auth rules.Authority) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.waiting[game] {
		if r := m.rooms[id]; r != nil && r.Status() == StatusWaiting {
			return r, false
		}
	}
	id := GenerateRoomID(func(s string) bool {
		_, used := m.rooms[s]
		return used
	})
	r := newRoom(id, game, auth, m.opts, m.roomClosed).start()
	m.rooms[id] = r
	obslog.L().Info("room_created", zap.String("room_id", id), zap.String("game", game))
	return r, true
}

// Leave is a voluntary exit from roomID.
func (m *Manager) Leave(ctx context.Context, playerID, roomID string) error {
	r, err := m.Lookup(roomID)
	if err != nil {
		return err
	}
	return r.Leave(ctx, playerID)
}

// Lookup finds a room by id, normalizing it first. Rooms past retention are
// gone and fail with ErrRoomNotFound.
func (m *Manager) Lookup(roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[NormalizeRoomID(roomID)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// RoomOf returns the room a player is seated in.
func (m *Manager) RoomOf(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.players[playerID]
	return id, ok && id != ""
}

// Bind resolves a session key and attaches a channel to its seat.
func (m *Manager) Bind(ctx context.Context, key string, attach func(epoch uint64, resync Event)) (SessionToken, error) {
	tok, err := m.sessions.Get(key)
	if err != nil {
		return SessionToken{}, err
	}
	r, err := m.Lookup(tok.RoomID)
	if err != nil {
		return SessionToken{}, ErrInvalidSession
	}
	epoch, err := r.Bind(ctx, tok, attach)
	if err != nil {
		if errors.Is(err, ErrRoomClosed) {
			return SessionToken{}, ErrInvalidSession
		}
		return SessionToken{}, err
	}
	m.sessions.SetEpoch(key, epoch)
	tok.Epoch = epoch
	return tok, nil
}

// Rooms lists every indexed room, oldest first.
func (m *Manager) Rooms() []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r.Summary())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) list() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Snapshots copies every room still in the index. Closed rooms are included
// so a save overwrites whatever live copy an earlier save left behind.
func (m *Manager) Snapshots(ctx context.Context) []Snapshot {
	var snaps []Snapshot
	for _, r := range m.list() {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// Restore re-creates rooms from snapshots taken before a restart. Terminal
// rooms, rooms whose game is no longer registered and ids already in use are
// skipped.
func (m *Manager) Restore(snaps []Snapshot) int {
	restored := 0
	for _, snap := range snaps {
		if snap.Status.Terminal() || len(snap.Seats) == 0 {
			continue
		}
		auth, err := m.rules.Lookup(snap.Game)
		if err != nil {
			obslog.L().Warn("restore_skipped", zap.String("room_id", snap.ID), zap.String("game", snap.Game), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if _, exists := m.rooms[snap.ID]; exists {
			m.mu.Unlock()
			continue
		}
		conflict := false
		for _, s := range snap.Seats {
			if _, ok := m.players[s.PlayerID]; ok {
				conflict = true
			}
		}
		if conflict {
			m.mu.Unlock()
			obslog.L().Warn("restore_skipped", zap.String("room_id", snap.ID), zap.String("reason", "player already seated"))
			continue
		}
		r := restoreRoom(snap, auth, m.opts, m.roomClosed)
		m.rooms[snap.ID] = r
		for _, s := range snap.Seats {
			m.players[s.PlayerID] = snap.ID
		}
		if snap.Status == StatusWaiting {
			m.waiting[snap.Game] = append(m.waiting[snap.Game], snap.ID)
		}
		m.mu.Unlock()

		for _, s := range snap.Seats {
			m.sessions.Store(SessionToken{Key: s.Key, RoomID: snap.ID, PlayerID: s.PlayerID, Seat: s.Seat, Epoch: s.Epoch})
		}
		restored++
	}
	if restored > 0 {
		obslog.L().Info("rooms_restored", zap.Int("count", restored))
	}
	return restored
}

// Close stops every room. Further joins fail with ErrRoomClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	for _, t := range m.timers {
		t.Stop()
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.Stop()
	}
}

// roomClosed runs on the room's actor when it reaches Finished or Abandoned.
// The players are free to join elsewhere at once; the room itself stays
// readable until retention expires.
func (m *Manager) roomClosed(r *Room, players []string) {
	if m.onClosed != nil {
		m.onClosed(r.snapshot())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range players {
		if m.players[p] == r.id {
			delete(m.players, p)
		}
	}
	m.waiting[r.game] = slices.DeleteFunc(m.waiting[r.game], func(id string) bool { return id == r.id })
	if m.closed {
		return
	}
	id := r.id
	m.timers[id] = time.AfterFunc(m.retention, func() { m.destroy(id) })
}

func (m *Manager) destroy(roomID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
		for p, id := range m.players {
			if id == roomID {
				delete(m.players, p)
			}
		}
		m.waiting[r.game] = slices.DeleteFunc(m.waiting[r.game], func(id string) bool { return id == roomID })
	}
	if t, ok := m.timers[roomID]; ok {
		t.Stop()
		delete(m.timers, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	r.Stop()
	m.sessions.RemoveRoom(roomID)
	if m.onDestroy != nil {
		m.onDestroy(roomID)
	}
	obslog.L().Info("room_destroyed", zap.String("room_id", roomID), zap.String("status", string(r.Status())))
}

func (m *Manager) dropWaiting(game, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting[game] = slices.DeleteFunc(m.waiting[game], func(id string) bool { return id == roomID })
}

// release drops a reservation that never turned into a seat.
func (m *Manager) release(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[playerID] == "" {
		delete(m.players, playerID)
	}
}
