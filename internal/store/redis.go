package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"duel-server/internal/room"
)

const (
	redisIndexKey  = "duel:rooms"
	redisKeyPrefix = "duel:room:"
	redisTTL       = 24 * time.Hour
)

// Redis keeps one JSON value per room plus a set of known room ids.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps a client. Close closes it.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, ttl: redisTTL}
}

// NewRedisFromURL dials and pings url (redis://host:port/db).
func NewRedisFromURL(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb), nil
}

func roomKey(id string) string { return redisKeyPrefix + id }

// Save writes every snapshot in one transaction and refreshes its TTL.
func (r *Redis) Save(ctx context.Context, snaps []room.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	for _, s := range snaps {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to serialize room %s: %w", s.ID, err)
		}
		pipe.Set(ctx, roomKey(s.ID), data, r.ttl)
		pipe.SAdd(ctx, redisIndexKey, s.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save %d snapshots: %w", len(snaps), err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, roomID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, roomKey(roomID))
	pipe.SRem(ctx, redisIndexKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// LoadAll also prunes index entries whose value has expired and the entries
// of closed rooms.
func (r *Redis) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	ids, err := r.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}

	var (
		snaps  []room.Snapshot
		stale  []any
		closed []string
	)
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s room.Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to deserialize room %s: %w", ids[i], err)
		}
		if !live(s) {
			closed = append(closed, roomKey(ids[i]))
			stale = append(stale, ids[i])
			continue
		}
		snaps = append(snaps, s)
	}
	if len(closed) > 0 {
		_ = r.rdb.Del(ctx, closed...).Err()
	}
	if len(stale) > 0 {
		_ = r.rdb.SRem(ctx, redisIndexKey, stale...).Err()
	}
	return snaps, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
