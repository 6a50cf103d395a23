package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("with XDG_CACHE_HOME", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "/custom/cache")

		expected := "/custom/cache/harvester/pages.db"
		if path := DefaultDBPath(); path != expected {
			t.Errorf("DefaultDBPath() = %q, want %q", path, expected)
		}
	})

	t.Run("without XDG_CACHE_HOME", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "")

		path := DefaultDBPath()
		if !strings.HasSuffix(path, filepath.Join(".cache", "harvester", "pages.db")) {
			t.Errorf("DefaultDBPath() = %q, want suffix .cache/harvester/pages.db", path)
		}
	})
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	expected := "/custom/config/harvester/config.toml"
	if path := DefaultConfigPath(); path != expected {
		t.Errorf("DefaultConfigPath() = %q, want %q", path, expected)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"~/data/pages.db", filepath.Join(home, "data", "pages.db")},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"relative/path", "relative/path"},
		{"~other/path", "~other/path"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	if cfg.Fetch.Concurrency != 100 {
		t.Errorf("Fetch.Concurrency = %d, want 100", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.Timeout != 10*time.Second {
		t.Errorf("Fetch.Timeout = %s, want 10s", cfg.Fetch.Timeout)
	}
	if cfg.Writer.BatchSize != 100 {
		t.Errorf("Writer.BatchSize = %d, want 100", cfg.Writer.BatchSize)
	}
	if cfg.Writer.IdleFlush != time.Second {
		t.Errorf("Writer.IdleFlush = %s, want 1s", cfg.Writer.IdleFlush)
	}
	if cfg.Store.Table != "html_data" {
		t.Errorf("Store.Table = %q, want html_data", cfg.Store.Table)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 100 {
		t.Errorf("Fetch.Concurrency = %d, want default 100", cfg.Fetch.Concurrency)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() error = nil, want error for missing explicit file")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
candidates = "/data/top.csv"

[store]
driver = "postgres"
dsn = "postgres://u:p@localhost/scraped"
table = "html_data"

[fetch]
concurrency = 250
timeout = "5s"
jitter_min = "0s"
jitter_max = "200ms"

[writer]
batch_size = 50
idle_flush = "2s"
queue_size = 500

[[profiles]]
name = "curl"
headers = { "User-Agent" = "curl/7.88.1" }
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Store.Driver != DriverPostgres {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverPostgres)
	}
	if cfg.Fetch.Concurrency != 250 {
		t.Errorf("Fetch.Concurrency = %d, want 250", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Errorf("Fetch.Timeout = %s, want 5s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.JitterMax != 200*time.Millisecond {
		t.Errorf("Fetch.JitterMax = %s, want 200ms", cfg.Fetch.JitterMax)
	}
	if cfg.Writer.BatchSize != 50 || cfg.Writer.IdleFlush != 2*time.Second || cfg.Writer.QueueSize != 500 {
		t.Errorf("Writer = %+v, want {50 2s 500}", cfg.Writer)
	}
	// untouched keys keep defaults
	if cfg.Fetch.Scheme != "https://" {
		t.Errorf("Fetch.Scheme = %q, want default https://", cfg.Fetch.Scheme)
	}
	if len(cfg.Profiles) != 1 || cfg.Profiles[0].Headers["User-Agent"] != "curl/7.88.1" {
		t.Errorf("Profiles = %+v, want single curl profile", cfg.Profiles)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[fetch]
concurency = 10
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want unknown key error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HARVESTER_DB", "/tmp/override.db")
	t.Setenv("HARVESTER_CONCURRENCY", "7")
	t.Setenv("HARVESTER_BATCH_SIZE", "3")
	t.Setenv("HARVESTER_CANDIDATES", "/tmp/list.csv")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("Store.Path = %q, want /tmp/override.db", cfg.Store.Path)
	}
	if cfg.Fetch.Concurrency != 7 {
		t.Errorf("Fetch.Concurrency = %d, want 7", cfg.Fetch.Concurrency)
	}
	if cfg.Writer.BatchSize != 3 {
		t.Errorf("Writer.BatchSize = %d, want 3", cfg.Writer.BatchSize)
	}
	if cfg.Candidates != "/tmp/list.csv" {
		t.Errorf("Candidates = %q, want /tmp/list.csv", cfg.Candidates)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HARVESTER_CONCURRENCY", "lots")

	if _, err := Load(""); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"mysql without dsn", func(c *Config) { c.Store.Driver = DriverMySQL }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"bad table", func(c *Config) { c.Store.Table = "html data" }},
		{"zero concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }},
		{"zero timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"inverted jitter", func(c *Config) { c.Fetch.JitterMin = time.Second; c.Fetch.JitterMax = time.Millisecond }},
		{"negative jitter", func(c *Config) { c.Fetch.JitterMin = -time.Millisecond }},
		{"zero body limit", func(c *Config) { c.Fetch.MaxBodyBytes = 0 }},
		{"ftp scheme", func(c *Config) { c.Fetch.Scheme = "ftp://" }},
		{"zero batch", func(c *Config) { c.Writer.BatchSize = 0 }},
		{"zero idle", func(c *Config) { c.Writer.IdleFlush = 0 }},
		{"zero queue", func(c *Config) { c.Writer.QueueSize = 0 }},
		{"nameless profile", func(c *Config) {
			c.Profiles = []ProfileConfig{{Headers: map[string]string{"User-Agent": "x"}}}
		}},
		{"empty profile", func(c *Config) { c.Profiles = []ProfileConfig{{Name: "empty"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}
