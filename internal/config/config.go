// Package config loads rpcdevtools settings from an optional YAML file,
// then applies .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/angel122382/rpcdevtools/internal/transport"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no -config flag is given.
const DefaultPath = "rpcdevtools.yaml"

// Config represents the rpcdevtools.yaml structure.
type Config struct {
	ListenAddr  string         `yaml:"listen_addr"`
	PanelAddr   string         `yaml:"panel_addr"`
	TargetURL   string         `yaml:"target_url"`
	PluginID    string         `yaml:"plugin_id"`
	Debug       bool           `yaml:"debug"`
	Environment string         `yaml:"environment"`
	MaxRequests int            `yaml:"max_requests"`
	LogLevel    string         `yaml:"log_level"`
	LogFile     string         `yaml:"log_file"`
	TypeRules   []rpctype.Rule `yaml:"type_rules"`
	Archive     Archive        `yaml:"archive"`
}

// Archive configures the optional SQLite archive.
type Archive struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path"`
	BufferSize   int    `yaml:"buffer_size"`
	Backpressure string `yaml:"backpressure"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		ListenAddr:  ":9998",
		PanelAddr:   "127.0.0.1:9997",
		TargetURL:   "http://localhost:3000",
		PluginID:    transport.DefaultPluginID,
		MaxRequests: store.MaxRequests,
		LogLevel:    "info",
		Archive: Archive{
			Path:         ".rpcdevtools/archive.db",
			BufferSize:   1024,
			Backpressure: "drop",
		},
	}
}

// Load reads path (a missing file means defaults), then .env, then the
// RPCDEVTOOLS_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional; existing environment variables win over it.
	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = getEnvOrDefault("RPCDEVTOOLS_LISTEN_ADDR", cfg.ListenAddr)
	cfg.PanelAddr = getEnvOrDefault("RPCDEVTOOLS_PANEL_ADDR", cfg.PanelAddr)
	cfg.TargetURL = getEnvOrDefault("RPCDEVTOOLS_TARGET_URL", cfg.TargetURL)
	cfg.PluginID = getEnvOrDefault("RPCDEVTOOLS_PLUGIN_ID", cfg.PluginID)
	cfg.Debug = getEnvBoolOrDefault("RPCDEVTOOLS_DEBUG", cfg.Debug)
	cfg.Environment = getEnvOrDefault("RPCDEVTOOLS_ENV", cfg.Environment)
	cfg.MaxRequests = getEnvIntOrDefault("RPCDEVTOOLS_MAX_REQUESTS", cfg.MaxRequests)
	cfg.LogLevel = getEnvOrDefault("RPCDEVTOOLS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvOrDefault("RPCDEVTOOLS_LOG_FILE", cfg.LogFile)
	cfg.Archive.Enabled = getEnvBoolOrDefault("RPCDEVTOOLS_ARCHIVE_ENABLED", cfg.Archive.Enabled)
	cfg.Archive.Path = getEnvOrDefault("RPCDEVTOOLS_ARCHIVE_PATH", cfg.Archive.Path)
	cfg.Archive.BufferSize = getEnvIntOrDefault("RPCDEVTOOLS_ARCHIVE_BUFFER_SIZE", cfg.Archive.BufferSize)
	cfg.Archive.Backpressure = getEnvOrDefault("RPCDEVTOOLS_ARCHIVE_BACKPRESSURE", cfg.Archive.Backpressure)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.PanelAddr == "" {
		return errors.New("panel_addr must not be empty")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target_url %q must be an absolute URL", c.TargetURL)
	}
	if c.MaxRequests < 1 || c.MaxRequests > 100000 {
		return fmt.Errorf("max_requests must be in [1, 100000], got %d", c.MaxRequests)
	}
	if _, err := rpctype.RuleResolver(c.TypeRules, nil); err != nil {
		return fmt.Errorf("type_rules: %w", err)
	}
	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return errors.New("archive.path must not be empty when the archive is enabled")
		}
		if c.Archive.BufferSize < 1 {
			return fmt.Errorf("archive.buffer_size must be positive, got %d", c.Archive.BufferSize)
		}
	}
	if _, err := archive.ParseBackpressureMode(c.Archive.Backpressure); err != nil {
		return fmt.Errorf("archive.backpressure: %w", err)
	}
	return nil
}

// IsDevelopment reports whether event emission should be enabled. An
// explicit environment setting wins over the process environment.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "":
		return transport.IsDevelopment()
	case "development", "dev", "local":
		return true
	default:
		return false
	}
}

// Resolver builds the classifier resolver: configured rules first, then
// the heuristic.
func (c *Config) Resolver() (rpctype.Resolver, error) {
	if len(c.TypeRules) == 0 {
		return rpctype.Heuristic, nil
	}
	return rpctype.RuleResolver(c.TypeRules, rpctype.Heuristic)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
