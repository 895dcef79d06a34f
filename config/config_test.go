package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "trellis.db", cfg.Database.Path)
	assert.Equal(t, 8790, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Dedup.Backend)
	assert.Equal(t, 300, cfg.Dedup.WindowSeconds)
	assert.Equal(t, 60, cfg.Recon.IntervalSeconds)
	assert.Equal(t, 100, cfg.Recon.BatchSize)
	assert.Equal(t, 300, cfg.Schema.IntervalSeconds)
	assert.Equal(t, 30, cfg.Delay.IntervalSeconds)
	assert.Equal(t, 50, cfg.Delay.ClaimLimit)
	assert.Equal(t, 3, cfg.Delay.MaxAttempts)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trellis.toml")
	content := `
[database]
path = "/var/lib/trellis/trellis.db"

[server]
port = 9000

[dedup]
backend = "redis"
redis_addr = "localhost:6379"

[recon]
tables = ["tasks", "projects"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/trellis/trellis.db", cfg.Database.Path)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Dedup.Backend)
	assert.Equal(t, []string{"tasks", "projects"}, cfg.Recon.Tables)

	// Values the file does not set keep their defaults.
	assert.Equal(t, 300, cfg.Dedup.WindowSeconds)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8790, cfg.Server.Port)
}

func TestLoadBadFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trellis.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRELLIS_SOURCE_TOKEN", "env-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Source.Token)
}
