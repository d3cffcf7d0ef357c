// Package config loads fieldsync client configuration from a YAML file with
// optional environment overrides loaded from the process environment or a
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/siamtech/fieldsync/logging"
)

// Config is the complete configuration for the fieldsync client.
type Config struct {
	// API is the remote API the sync engine drains against.
	API APIConfig `yaml:"api"`

	// App is the user-facing application origin used for click routing.
	App AppConfig `yaml:"app"`

	// Storage configures the local durable store.
	Storage StorageConfig `yaml:"storage"`

	// Sync configures queue drain behavior.
	Sync SyncConfig `yaml:"sync"`

	// Push configures push delivery and device subscription.
	Push PushConfig `yaml:"push"`

	// Presenter configures the foreground toast presenter.
	Presenter PresenterConfig `yaml:"presenter"`

	// Logging configures structured logging.
	Logging logging.Config `yaml:"logging"`

	// DevMode skips service-worker registration and device subscription,
	// mirroring local-development behavior.
	DevMode bool `yaml:"dev_mode"`
}

// APIConfig holds remote endpoint settings.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryMax       int           `yaml:"retry_max"`
}

// AppConfig holds the application origin that notification target paths are
// absolutized against. Falls back to the API origin when unset.
type AppConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StorageConfig holds local store settings.
type StorageConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// SyncConfig holds queue drain settings.
type SyncConfig struct {
	// Interval is the coarse periodic drain timer, a defense against missed
	// connectivity transition events.
	Interval time.Duration `yaml:"interval"`

	// MaxAttempts bounds retries per mutation before it is marked
	// permanently failed and surfaced to the user.
	MaxAttempts int `yaml:"max_attempts"`
}

// PushConfig holds push delivery settings.
type PushConfig struct {
	// RelayAddr is the listen address for the window relay channel.
	RelayAddr string `yaml:"relay_addr"`

	// DeviceName is an optional human-readable name sent on registration.
	DeviceName string `yaml:"device_name"`

	// WorkerPath is the current delivery worker script path.
	WorkerPath string `yaml:"worker_path"`

	// LegacyWorkerPaths are obsolete service-worker script paths whose
	// registrations must be removed before installing the current one.
	LegacyWorkerPaths []string `yaml:"legacy_worker_paths"`
}

// PresenterConfig holds toast display settings.
type PresenterConfig struct {
	MaxToasts int           `yaml:"max_toasts"`
	ToastTTL  time.Duration `yaml:"toast_ttl"`
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 15 * time.Second
	}
	if c.API.RetryMax == 0 {
		c.API.RetryMax = 2
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = c.API.BaseURL
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Push.RelayAddr == "" {
		c.Push.RelayAddr = "localhost:8791"
	}
	if c.Push.WorkerPath == "" {
		c.Push.WorkerPath = "/push-worker.js"
	}
	if c.Presenter.MaxToasts == 0 {
		c.Presenter.MaxToasts = 3
	}
	if c.Presenter.ToastTTL == 0 {
		c.Presenter.ToastTTL = 6 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging = logging.DefaultConfig
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Presenter.MaxToasts < 1 {
		return fmt.Errorf("presenter.max_toasts must be at least 1, got %d", c.Presenter.MaxToasts)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays FIELDSYNC_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("FIELDSYNC_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_APP_BASE_URL"); v != "" {
		c.App.BaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("FIELDSYNC_RELAY_ADDR"); v != "" {
		c.Push.RelayAddr = v
	}
	if v := os.Getenv("FIELDSYNC_DEVICE_NAME"); v != "" {
		c.Push.DeviceName = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FIELDSYNC_DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DevMode = b
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Interval = d
		}
	}
}
