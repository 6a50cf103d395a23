package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cwygoda/harvester/internal/domain"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds application configuration.
type Config struct {
	LogLevel    string          `toml:"log_level"`
	Candidates  string          `toml:"candidates"`
	MetricsFile string          `toml:"metrics_file"`
	Store       StoreConfig     `toml:"store"`
	Fetch       FetchConfig     `toml:"fetch"`
	Writer      WriterConfig    `toml:"writer"`
	Profiles    []ProfileConfig `toml:"profiles"`
}

// StoreConfig selects and addresses the page store.
type StoreConfig struct {
	Driver   string `toml:"driver"`
	Path     string `toml:"path"`
	DSN      string `toml:"dsn"`
	Table    string `toml:"table"`
	MaxConns int    `toml:"max_conns"`
}

// FetchConfig controls the fetch scheduler.
type FetchConfig struct {
	Concurrency  int           `toml:"concurrency"`
	Timeout      time.Duration `toml:"timeout"`
	JitterMin    time.Duration `toml:"jitter_min"`
	JitterMax    time.Duration `toml:"jitter_max"`
	MaxBodyBytes int64         `toml:"max_body_bytes"`
	Scheme       string        `toml:"scheme"`
	VerifyTLS    bool          `toml:"verify_tls"`
}

// WriterConfig controls the batch writer.
type WriterConfig struct {
	BatchSize int           `toml:"batch_size"`
	IdleFlush time.Duration `toml:"idle_flush"`
	QueueSize int           `toml:"queue_size"`
}

// ProfileConfig is one header profile from the config file.
type ProfileConfig struct {
	Name    string            `toml:"name"`
	Headers map[string]string `toml:"headers"`
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "harvester", "config.toml")
}

// DefaultDBPath returns the default SQLite path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "harvester", "pages.db")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		Candidates: "majestic_million.csv",
		Store: StoreConfig{
			Driver:   DriverSQLite,
			Path:     DefaultDBPath(),
			Table:    "html_data",
			MaxConns: 4,
		},
		Fetch: FetchConfig{
			Concurrency:  100,
			Timeout:      10 * time.Second,
			JitterMin:    100 * time.Millisecond,
			JitterMax:    500 * time.Millisecond,
			MaxBodyBytes: 10 << 20,
			Scheme:       "https://",
		},
		Writer: WriterConfig{
			BatchSize: 100,
			IdleFlush: time.Second,
			QueueSize: 200,
		},
	}
}

// Load builds Config from defaults, the TOML file at path and the environment.
// An empty path means DefaultConfigPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultConfigPath()
	}
	path = ExpandPath(path)

	md, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Candidates = ExpandPath(cfg.Candidates)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HARVESTER_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("HARVESTER_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("HARVESTER_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("HARVESTER_CANDIDATES"); v != "" {
		c.Candidates = v
	}
	if v := os.Getenv("HARVESTER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARVESTER_CONCURRENCY: %w", err)
		}
		c.Fetch.Concurrency = n
	}
	if v := os.Getenv("HARVESTER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARVESTER_BATCH_SIZE: %w", err)
		}
		c.Writer.BatchSize = n
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres, DriverMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if !domain.ValidTableName(c.Store.Table) {
		return fmt.Errorf("invalid store.table %q", c.Store.Table)
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.JitterMin < 0 || c.Fetch.JitterMax < c.Fetch.JitterMin {
		return fmt.Errorf("fetch jitter window [%s, %s] is invalid", c.Fetch.JitterMin, c.Fetch.JitterMax)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be positive")
	}
	if c.Fetch.Scheme != "http://" && c.Fetch.Scheme != "https://" {
		return fmt.Errorf("fetch.scheme must be http:// or https://, got %q", c.Fetch.Scheme)
	}
	if c.Writer.BatchSize <= 0 {
		return fmt.Errorf("writer.batch_size must be positive")
	}
	if c.Writer.IdleFlush <= 0 {
		return fmt.Errorf("writer.idle_flush must be positive")
	}
	if c.Writer.QueueSize <= 0 {
		return fmt.Errorf("writer.queue_size must be positive")
	}
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profiles[%d]: name is required", i)
		}
		if len(p.Headers) == 0 {
			return fmt.Errorf("profile %q: headers are required", p.Name)
		}
	}
	return nil
}
