package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends understood by store.Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StorageConfig selects and configures the Storage Port adapter.
type StorageConfig struct {
	// Backend is one of "file" (default), "sqlite" or "redis".
	Backend string `yaml:"backend" json:"backend" validate:"oneof=file sqlite redis"`

	// Path is the .sevc document used by the file backend.
	Path string `yaml:"path" json:"path" validate:"required_if=Backend file"`

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path" validate:"required_if=Backend sqlite"`

	// RedisURL / RedisPrefix configure the redis backend.
	RedisURL    string `yaml:"redis_url" json:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`

	// ReadOnly turns every save into a no-op, for display-only hosts.
	ReadOnly bool `yaml:"read_only" json:"read_only"`
}

// SyncConfig controls polling of shared stores for external changes.
type SyncConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Schedule is a cron spec; the default polls every two minutes.
	Schedule string `yaml:"schedule" json:"schedule" validate:"required"`
}

// FeedConfig is an ICS subscription whose all-day events become a
// read-only blackout group (public holidays, school breaks, ...).
type FeedConfig struct {
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// LogLevel is debug, info, warn or error. LogFormat is text or json.
	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=text json"`

	// Timezone is the IANA zone used to decide what "today" is.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday" for month views.
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	Storage StorageConfig `yaml:"storage" json:"storage"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`

	// Feeds are refreshed on FeedRefresh (cron spec) and expanded
	// FeedHorizonDays ahead.
	Feeds           []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`
	FeedRefresh     string       `yaml:"feed_refresh" json:"feed_refresh"`
	FeedHorizonDays int          `yaml:"feed_horizon_days" json:"feed_horizon_days" validate:"gte=1"`
	FeedCacheDir    string       `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultDataDir      = "/var/lib/sevcal"
	defaultSyncSchedule = "*/2 * * * *"
	defaultFeedRefresh  = "0 */6 * * *"
	defaultFeedHorizon  = 366
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    defaultListen,
		LogLevel:  "info",
		LogFormat: "text",
		Timezone:  "Local",
		WeekStart: "monday",
		Storage: StorageConfig{
			Backend:     BackendFile,
			Path:        filepath.Join(defaultDataDir, "calendar.sevc"),
			SQLitePath:  filepath.Join(defaultDataDir, "calendar.db"),
			RedisPrefix: "sevcal",
		},
		Sync: SyncConfig{
			Enabled:  false,
			Schedule: defaultSyncSchedule,
		},
		Feeds:           []FeedConfig{},
		FeedRefresh:     defaultFeedRefresh,
		FeedHorizonDays: defaultFeedHorizon,
		FeedCacheDir:    filepath.Join(defaultDataDir, "ics-cache"),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat != "json" {
		c.LogFormat = def.LogFormat
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = def.WeekStart
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = def.Storage.SQLitePath
	}
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = def.Storage.RedisPrefix
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = def.Sync.Schedule
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = c.Feeds[i].Name
		}
	}
	if c.FeedRefresh == "" {
		c.FeedRefresh = def.FeedRefresh
	}
	if c.FeedHorizonDays <= 0 {
		c.FeedHorizonDays = def.FeedHorizonDays
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = def.FeedCacheDir
	}
}

var validate = validator.New()

// Validate checks the normalized config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		return errors.New("invalid config: basic_auth needs both username and password")
	}
	return nil
}

// ApplyEnv overrides selected fields from environment variables
// (SEVCAL_LISTEN, SEVCAL_LOG_LEVEL, SEVCAL_STORAGE_BACKEND, SEVCAL_STORAGE_PATH,
// SEVCAL_REDIS_URL).
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SEVCAL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SEVCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SEVCAL_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("SEVCAL_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SEVCAL_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sevcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
