package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SEAT_GRACE_PERIOD", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.GracePeriod)
	assert.Equal(t, "tictactoe", cfg.DefaultGame)
	assert.Equal(t, StoreNone, cfg.SnapshotStore)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("SEAT_GRACE_PERIOD", "45s")
	t.Setenv("DEFAULT_GAME", "chess")
	t.Setenv("ALLOWED_ORIGINS", "example.com, localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.GracePeriod)
	assert.Equal(t, "chess", cfg.DefaultGame)
	assert.Equal(t, []string{"example.com", "localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "duel.yaml")
	err := os.WriteFile(path, []byte("port: 7000\nseat_grace_period: 90s\nresult_retention: 5m\n"), 0o644)
	require.NoError(t, err)

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)

	// env wins over the file
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.GracePeriod)
	assert.Equal(t, 5*time.Minute, cfg.ResultRetention)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"grace too short", func(c *Config) { c.GracePeriod = 10 * time.Millisecond }, "SEAT_GRACE_PERIOD"},
		{"grace too long", func(c *Config) { c.GracePeriod = time.Hour }, "SEAT_GRACE_PERIOD"},
		{"postgres without url", func(c *Config) { c.SnapshotStore = StorePostgres }, "DATABASE_URL"},
		{"redis without url", func(c *Config) { c.SnapshotStore = StoreRedis }, "REDIS_URL"},
		{"unknown store", func(c *Config) { c.SnapshotStore = "etcd" }, "unknown SNAPSHOT_STORE"},
		{"store normalised", func(c *Config) { c.SnapshotStore = "  Redis "; c.RedisURL = "redis://x" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
