package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archtrace/raceway/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddress)
	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.Equal(t, 24, cfg.RetentionHours)
	assert.Equal(t, 100_000, cfg.MaxInflightEvents)
	assert.Equal(t, 5*time.Minute, cfg.AutoFlushInterval)
}

func TestLoadReadsTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raceway.toml")
	contents := `
bind_address = ":9090"
backend = "memory"
retention_hours = 48
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.BindAddress)
	assert.Equal(t, 48, cfg.RetentionHours)
}

func TestLoadRejectsPostgresBackendWithoutURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raceway.toml")
	require.NoError(t, os.WriteFile(path, []byte(`backend = "postgres"`), 0o600))

	_, err := config.Load(viper.New(), path)
	assert.Error(t, err)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("RACEWAY_BIND_ADDRESS", ":7070")
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.BindAddress)
}
