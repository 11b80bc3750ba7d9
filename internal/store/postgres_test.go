package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"duel-server/internal/config"
	"duel-server/internal/room"
)

func setupPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("duel"),
		tcpostgres.WithUsername("duel"),
		tcpostgres.WithPassword("duel"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgres_SaveLoadDelete(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(dsn))
	require.NoError(t, Migrate(dsn), "migrating twice is a no-op")

	s, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	active := sampleSnapshot("ABCD", room.StatusActive)
	require.NoError(t, s.Save(ctx, []room.Snapshot{active, sampleSnapshot("DONE", room.StatusAbandoned)}))

	// upsert replaces the previous row
	active.Seq = 2
	require.NoError(t, s.Save(ctx, []room.Snapshot{active}))

	got, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ABCD", got[0].ID)
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, "k-alice", got[0].Seats[0].Key)

	var rows int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM room_snapshots`).Scan(&rows))
	assert.Equal(t, 1, rows, "closed rooms are pruned on load")

	// a room that finishes overwrites its live row and is not loaded again
	finished := active
	finished.Status = room.StatusFinished
	require.NoError(t, s.Save(ctx, []room.Snapshot{finished}))
	got, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Save(ctx, []room.Snapshot{sampleSnapshot("WXYZ", room.StatusWaiting)}))
	require.NoError(t, s.Delete(ctx, "WXYZ"))
	got, err = s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), &config.Config{SnapshotStore: config.StoreNone})
	assert.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(context.Background(), &config.Config{SnapshotStore: "etcd"})
	assert.Error(t, err)
}
