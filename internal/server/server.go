package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"duel-server/internal/config"
	"duel-server/internal/obslog"
	"duel-server/internal/room"
	"duel-server/internal/rules"
	"duel-server/internal/store"
)

const (
	restoreTimeout  = 10 * time.Second
	storeOpTimeout  = 5 * time.Second
	minSweepPeriod  = time.Second
	rateLimitWindow = time.Second
)

// Server ties the room manager, the connection registry and the optional
// snapshot store to the HTTP front end.
type Server struct {
	cfg      *config.Config
	manager  *room.Manager
	registry *Registry
	store    store.Store
	limiter  *RateLimiter
	health   *ConnectionHealth

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// writes tracks store writes started from room actors.
	writes sync.WaitGroup
}

// NewServer wires the coordinator, restores snapshots from st (which may be
// nil) and starts the background tasks.
func NewServer(cfg *config.Config, reg *rules.Registry, st store.Store) (*Server, *http.Server) {
	s := newServer(cfg, reg, st)
	s.restore()
	s.startBackground()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, httpServer
}

func newServer(cfg *config.Config, reg *rules.Registry, st store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		store:    st,
		limiter:  NewRateLimiter(cfg.MessageRateLimit, rateLimitWindow),
		health:   NewConnectionHealth(),
		quit:     make(chan struct{}),
	}
	s.manager = room.NewManager(room.ManagerConfig{
		Rules:        reg,
		Publisher:    s.registry,
		GracePeriod:  cfg.GracePeriod,
		RulesTimeout: cfg.RulesTimeout,
		Retention:    cfg.ResultRetention,
		DefaultGame:  cfg.DefaultGame,
		OnClosed:     s.roomClosed,
		OnDestroy:    s.roomDestroyed,
	})
	return s
}

func (s *Server) Manager() *room.Manager { return s.manager }

func (s *Server) Registry() *Registry { return s.registry }

// restore re-creates the rooms that were live when the last process stopped.
func (s *Server) restore() {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	snaps, err := s.store.LoadAll(ctx)
	if err != nil {
		obslog.L().Warn("restore_failed", zap.Error(err))
		return
	}
	n := s.manager.Restore(snaps)
	obslog.L().Info("restore_complete", zap.Int("loaded", len(snaps)), zap.Int("restored", n))
}

// roomClosed overwrites the stored copy of a room that just finished, so a
// crash before the room is destroyed cannot restore it as live. It runs on
// the room's actor, so the write happens elsewhere.
func (s *Server) roomClosed(snap room.Snapshot) {
	if s.store == nil {
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := s.store.Save(ctx, []room.Snapshot{snap}); err != nil {
			obslog.L().Warn("closed_snapshot_save_failed", zap.String("room_id", snap.ID), zap.Error(err))
		}
	}()
}

func (s *Server) roomDestroyed(roomID string) {
	s.registry.DropRoom(roomID)
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, roomID); err != nil {
		obslog.L().Warn("snapshot_delete_failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (s *Server) startBackground() {
	if s.store != nil && s.cfg.SnapshotInterval > 0 {
		s.wg.Add(1)
		go s.periodicSnapshotTask(s.cfg.SnapshotInterval)
	}
	if s.cfg.IdleTimeout > 0 {
		period := s.cfg.IdleTimeout / 2
		if period < minSweepPeriod {
			period = minSweepPeriod
		}
		s.wg.Add(1)
		go s.idleSweepTask(period)
	}
}

func (s *Server) periodicSnapshotTask(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			n, err := s.saveSnapshots(ctx)
			cancel()
			if err != nil {
				obslog.L().Warn("periodic_snapshot_failed", zap.Error(err))
				continue
			}
			obslog.L().Debug("periodic_snapshot", zap.Int("rooms", n))
		}
	}
}

func (s *Server) saveSnapshots(ctx context.Context) (int, error) {
	snaps := s.manager.Snapshots(ctx)
	if len(snaps) == 0 {
		return 0, nil
	}
	return len(snaps), s.store.Save(ctx, snaps)
}

// idleSweepTask closes channels that have sent nothing for IdleTimeout.
// Closing a bound channel enters the seat's grace period.
func (s *Server) idleSweepTask(period time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.sweepIdle()
		}
	}
}

func (s *Server) sweepIdle() {
	s.limiter.Cleanup()
	for _, id := range s.health.GetInactiveConnections(s.cfg.IdleTimeout) {
		s.health.RemoveConnection(id)
		ch := s.registry.Get(id)
		if ch == nil {
			continue
		}
		obslog.L().Info("connection_idle", zap.String("conn_id", id))
		ch.CloseWith(websocket.StatusPolicyViolation, "idle timeout")
	}
}

// Shutdown stops the background tasks, writes a final snapshot, stops every
// room and closes all client channels.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()

	var errs []error
	if s.store != nil {
		n, err := s.saveSnapshots(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		} else {
			obslog.L().Info("final_snapshot", zap.Int("rooms", n))
		}
	}

	s.manager.Close()
	for _, ch := range s.registry.All() {
		ch.CloseWith(websocket.StatusGoingAway, "server shutting down")
	}
	s.writes.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
