package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duel-server/internal/room"
)

// Postgres stores one JSONB row per room in room_snapshots.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool and pings it. Migrate must have run first.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Close still closes it.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const upsertSnapshot = `
	INSERT INTO room_snapshots (room_id, game, status, seq, snapshot, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (room_id) DO UPDATE SET
		status = EXCLUDED.status,
		seq = EXCLUDED.seq,
		snapshot = EXCLUDED.snapshot,
		updated_at = NOW()
`

// Save upserts in one batch.
func (p *Postgres) Save(ctx context.Context, snaps []room.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range snaps {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to serialize room %s: %w", s.ID, err)
		}
		batch.Queue(upsertSnapshot, s.ID, s.Game, string(s.Status), s.Seq, data, s.CreatedAt)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save %d snapshots: %w", len(snaps), err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, roomID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomID, err)
	}
	return nil
}

// LoadAll deletes the rows of closed rooms and returns the rest.
func (p *Postgres) LoadAll(ctx context.Context) ([]room.Snapshot, error) {
	if _, err := p.pool.Exec(ctx, `DELETE FROM room_snapshots WHERE status IN ('finished', 'abandoned')`); err != nil {
		return nil, fmt.Errorf("failed to prune closed snapshots: %w", err)
	}
	rows, err := p.pool.Query(ctx, `
		SELECT snapshot FROM room_snapshots
		WHERE status IN ('waiting', 'active')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []room.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var s room.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to deserialize snapshot: %w", err)
		}
		if live(s) {
			snaps = append(snaps, s)
		}
	}
	return snaps, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
