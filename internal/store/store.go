// Package store persists room snapshots so a restarted coordinator can pick
// up the rooms it was running.
package store

import (
	"context"
	"fmt"

	"duel-server/internal/config"
	"duel-server/internal/room"
)

// Store is the crash-recovery collaborator. A nil Store disables snapshots.
type Store interface {
	// Save upserts every snapshot.
	Save(ctx context.Context, snaps []room.Snapshot) error
	Delete(ctx context.Context, roomID string) error
	// LoadAll returns the snapshots of rooms that had not finished and
	// forgets the others.
	LoadAll(ctx context.Context) ([]room.Snapshot, error)
	Close() error
}

// Open returns the store named by cfg.SnapshotStore, or nil for "none".
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.SnapshotStore {
	case config.StorePostgres:
		if err := Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		pg, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.StoreRedis:
		rs, err := NewRedisFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case config.StoreNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", cfg.SnapshotStore)
	}
}

func live(s room.Snapshot) bool {
	return !s.Status.Terminal()
}
