package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type CommandsConfig struct {
	Prefixes      []string `json:"prefixes" env:"MODCLAW_COMMANDS_PREFIXES" envSeparator:","`
	ElevatedRoles []string `json:"elevated_roles" env:"MODCLAW_COMMANDS_ELEVATED_ROLES" envSeparator:","`
	SearchLimit   int      `json:"search_limit" env:"MODCLAW_COMMANDS_SEARCH_LIMIT"`
}

type RateLimitsConfig struct {
	Enabled        bool `json:"enabled" env:"MODCLAW_RATE_LIMITS_ENABLED"`
	MaxInvocations int  `json:"max_invocations" env:"MODCLAW_RATE_LIMITS_MAX_INVOCATIONS"`
	WindowSeconds  int  `json:"window_seconds" env:"MODCLAW_RATE_LIMITS_WINDOW_SECONDS"`
}

// Window returns the rate limit window as a duration.
func (c RateLimitsConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type StorageConfig struct {
	Driver string `json:"driver" env:"MODCLAW_STORAGE_DRIVER"`
	Path   string `json:"path" env:"MODCLAW_STORAGE_PATH"`
}

type FeedbackConfig struct {
	BufferSize        int     `json:"buffer_size" env:"MODCLAW_FEEDBACK_BUFFER_SIZE"`
	NukeBatchSize     int     `json:"nuke_batch_size" env:"MODCLAW_FEEDBACK_NUKE_BATCH_SIZE"`
	BatchesPerSecond  float64 `json:"batches_per_second" env:"MODCLAW_FEEDBACK_BATCHES_PER_SECOND"`
	MaxBroadcastChars int     `json:"max_broadcast_chars" env:"MODCLAW_FEEDBACK_MAX_BROADCAST_CHARS"`
}

type AuditConfig struct {
	Enabled     bool   `json:"enabled" env:"MODCLAW_AUDIT_ENABLED"`
	LogFilePath string `json:"log_file_path" env:"MODCLAW_AUDIT_LOG_FILE_PATH"`
	SecretKey   string `json:"secret_key" env:"MODCLAW_AUDIT_SECRET_KEY"`
}

type LogConfig struct {
	Level string `json:"level" env:"MODCLAW_LOG_LEVEL"`
	File  string `json:"file" env:"MODCLAW_LOG_FILE"`
}

type Config struct {
	Commands   CommandsConfig   `json:"commands"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Storage    StorageConfig    `json:"storage"`
	Feedback   FeedbackConfig   `json:"feedback"`
	Audit      AuditConfig      `json:"audit"`
	Log        LogConfig        `json:"log"`
	mu         sync.RWMutex
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

func DefaultConfig() *Config {
	paths := ResolveRuntimePaths()
	return &Config{
		Commands: CommandsConfig{
			Prefixes:      []string{"/", "!"},
			ElevatedRoles: []string{"admin"},
			SearchLimit:   10,
		},
		RateLimits: RateLimitsConfig{
			Enabled:        true,
			MaxInvocations: 10,
			WindowSeconds:  60,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			Path:   filepath.Join(paths.HomeDir, "modclaw.db"),
		},
		Feedback: FeedbackConfig{
			BufferSize:        256,
			NukeBatchSize:     50,
			BatchesPerSecond:  5,
			MaxBroadcastChars: 500,
		},
		Audit: AuditConfig{
			Enabled:     false,
			LogFilePath: paths.AuditPath,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults, then applies MODCLAW_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Commands.Prefixes) == 0 {
		errs = append(errs, errors.New("commands.prefixes must not be empty"))
	}
	for _, p := range c.Commands.Prefixes {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t\n") {
			errs = append(errs, fmt.Errorf("commands.prefixes: invalid prefix %q", p))
		}
	}
	if c.Commands.SearchLimit <= 0 {
		errs = append(errs, errors.New("commands.search_limit must be positive"))
	}
	if c.RateLimits.Enabled {
		if c.RateLimits.MaxInvocations <= 0 {
			errs = append(errs, errors.New("rate_limits.max_invocations must be positive"))
		}
		if c.RateLimits.WindowSeconds <= 0 {
			errs = append(errs, errors.New("rate_limits.window_seconds must be positive"))
		}
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Feedback.NukeBatchSize <= 0 {
		errs = append(errs, errors.New("feedback.nuke_batch_size must be positive"))
	}
	if c.Feedback.BatchesPerSecond <= 0 {
		errs = append(errs, errors.New("feedback.batches_per_second must be positive"))
	}

	return errors.Join(errs...)
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }
