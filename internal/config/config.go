package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName               = "privkeep"
	EnvPrefix             = "PRIVKEEP_"
	DefaultKeyringService = "PrivacyBrowser"
	DefaultAutoLock       = 15
	DefaultBreachAPI      = "https://api.pwnedpasswords.com"
	DefaultBreachTimeout  = 5
	DefaultDatabaseFile   = "user.db"
	DefaultHashMemoryKiB  = 64 * 1024
	DefaultHashTime       = 3
	DefaultHashThreads    = 4
)

// Config holds application configuration
type Config struct {
	DataDir           string `json:"data_dir"`
	DatabaseFile      string `json:"database_file"`
	KeyringService    string `json:"keyring_service"`
	AutoLockMinutes   int    `json:"auto_lock_minutes"`
	BreachAPIURL      string `json:"breach_api_url"`
	BreachTimeoutSecs int    `json:"breach_timeout_seconds"`
	LogLevel          string `json:"log_level"`
	LogFormat         string `json:"log_format"`
	PersistLockout    bool   `json:"persist_lockout"`
	BiometricOverride *bool  `json:"biometric_override,omitempty"` // nil: decide by platform
	WatchSystemEvents bool   `json:"watch_system_events"`
	HashMemoryKiB     uint32 `json:"hash_memory_kib"`
	HashTime          uint32 `json:"hash_time"`
	HashThreads       uint8  `json:"hash_threads"`
	ConfigPath        string `json:"-"` // Not stored, just for reference
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	dir := filepath.Join(configDir, AppName)

	return &Config{
		DataDir:           dir,
		DatabaseFile:      DefaultDatabaseFile,
		KeyringService:    DefaultKeyringService,
		AutoLockMinutes:   DefaultAutoLock,
		BreachAPIURL:      DefaultBreachAPI,
		BreachTimeoutSecs: DefaultBreachTimeout,
		LogLevel:          "warn",
		LogFormat:         "console",
		PersistLockout:    true,
		WatchSystemEvents: true,
		HashMemoryKiB:     DefaultHashMemoryKiB,
		HashTime:          DefaultHashTime,
		HashThreads:       DefaultHashThreads,
		ConfigPath:        filepath.Join(dir, "config.json"),
	}
}

// Load reads configuration from path (or the default location when empty),
// then applies a .env file and PRIVKEEP_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional; a missing file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := lookup("KEYRING_SERVICE"); ok {
		c.KeyringService = v
	}
	if v, ok := lookup("BREACH_API_URL"); ok {
		c.BreachAPIURL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("AUTO_LOCK_MINUTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sAUTO_LOCK_MINUTES: %w", EnvPrefix, err)
		}
		c.AutoLockMinutes = n
	}
	if v, ok := lookup("PERSIST_LOCKOUT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sPERSIST_LOCKOUT: %w", EnvPrefix, err)
		}
		c.PersistLockout = b
	}
	if v, ok := lookup("WATCH_SYSTEM_EVENTS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sWATCH_SYSTEM_EVENTS: %w", EnvPrefix, err)
		}
		c.WatchSystemEvents = b
	}
	if v, ok := lookup("BIOMETRIC"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sBIOMETRIC: %w", EnvPrefix, err)
		}
		c.BiometricOverride = &b
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Validate checks the configuration for unusable values
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.DatabaseFile == "" {
		return errors.New("config: database_file is required")
	}
	if c.KeyringService == "" {
		return errors.New("config: keyring_service is required")
	}
	if c.AutoLockMinutes < 0 {
		return fmt.Errorf("config: auto_lock_minutes must be >= 0, got %d", c.AutoLockMinutes)
	}
	if c.BreachTimeoutSecs <= 0 {
		return fmt.Errorf("config: breach_timeout_seconds must be > 0, got %d", c.BreachTimeoutSecs)
	}
	if c.HashMemoryKiB < 8*uint32(max(c.HashThreads, 1)) || c.HashTime == 0 || c.HashThreads == 0 {
		return errors.New("config: invalid password hash cost parameters")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// DatabasePath returns the path of the backing store
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, c.DatabaseFile)
}

// BackupPath returns the directory for export archives
func (c *Config) BackupPath() string {
	return filepath.Join(c.DataDir, "backups")
}

// BreachTimeout returns the breach lookup timeout
func (c *Config) BreachTimeout() time.Duration {
	return time.Duration(c.BreachTimeoutSecs) * time.Second
}

// Save saves configuration to file
func (c *Config) Save() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.ConfigPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
