package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultAutoLock, cfg.AutoLockMinutes)
	assert.Equal(t, DefaultKeyringService, cfg.KeyringService)
	assert.Equal(t, DefaultBreachAPI, cfg.BreachAPIURL)
	assert.True(t, cfg.PersistLockout)
	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, 5*time.Second, cfg.BreachTimeout())
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigPath = filepath.Join(dir, "nested", "config.json")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.AutoLockMinutes = 3
	cfg.LogFormat = "json"

	require.NoError(t, cfg.Save())

	info, err := os.Stat(cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(cfg.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.AutoLockMinutes)
	assert.Equal(t, "json", loaded.LogFormat)
	assert.Equal(t, filepath.Join(dir, "data", DefaultDatabaseFile), loaded.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "data", "backups"), loaded.BackupPath())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRIVKEEP_DATA_DIR", "/tmp/privkeep-test")
	t.Setenv("PRIVKEEP_AUTO_LOCK_MINUTES", "0")
	t.Setenv("PRIVKEEP_PERSIST_LOCKOUT", "false")
	t.Setenv("PRIVKEEP_BIOMETRIC", "true")
	t.Setenv("PRIVKEEP_BREACH_API_URL", "http://localhost:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/privkeep-test", cfg.DataDir)
	assert.Equal(t, 0, cfg.AutoLockMinutes)
	assert.False(t, cfg.PersistLockout)
	require.NotNil(t, cfg.BiometricOverride)
	assert.True(t, *cfg.BiometricOverride)
	assert.Equal(t, "http://localhost:9999", cfg.BreachAPIURL)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("PRIVKEEP_AUTO_LOCK_MINUTES", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "config.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative auto lock", func(c *Config) { c.AutoLockMinutes = -1 }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty keyring service", func(c *Config) { c.KeyringService = "" }},
		{"zero breach timeout", func(c *Config) { c.BreachTimeoutSecs = 0 }},
		{"zero hash time", func(c *Config) { c.HashTime = 0 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
