// Package config loads the watcher configuration.
//
// The file lives at $XDG_CONFIG_HOME/synctrayzor/config.yaml (defaults to
// ~/.config/synctrayzor/config.yaml). A path ending in .toml is read as TOML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const appDir = "synctrayzor"

const (
	DefaultAddress         = "http://127.0.0.1:8384"
	DefaultLongPollTimeout = 60 * time.Second
	DefaultErroredInterval = 10 * time.Second
)

// Duration accepts Go duration strings ("1m30s") or bare seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Log selects the process log output.
type Log struct {
	Level  string `yaml:"level,omitempty" toml:"level"`
	Format string `yaml:"format,omitempty" toml:"format"` // text or json
}

// Config is the watcher configuration.
type Config struct {
	Address         string   `yaml:"address" toml:"address"`
	APIKey          string   `yaml:"api_key,omitempty" toml:"api_key"`
	LongPollTimeout Duration `yaml:"long_poll_timeout,omitempty" toml:"long_poll_timeout"`
	PollInterval    Duration `yaml:"poll_interval,omitempty" toml:"poll_interval"`
	ErroredInterval Duration `yaml:"errored_interval,omitempty" toml:"errored_interval"`
	StateDir        string   `yaml:"state_dir,omitempty" toml:"state_dir"`
	Log             Log      `yaml:"log,omitempty" toml:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Address:         DefaultAddress,
		LongPollTimeout: Duration{DefaultLongPollTimeout},
		ErroredInterval: Duration{DefaultErroredInterval},
		StateDir:        DefaultStateDir(),
		Log:             Log{Level: "warn", Format: "text"},
	}
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/synctrayzor/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", appDir, "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appDir, "config.yaml")
}

// DefaultStateDir returns where the cursor database lives. It respects
// XDG_STATE_HOME, falling back to ~/.local/state/synctrayzor.
func DefaultStateDir() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "state", appDir)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, appDir)
}

// Load reads the config at path, or at Path() when path is empty. A missing
// file yields Default (not an error). Unset fields take their defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("address %q must be an http(s) URL", c.Address)
	}
	if c.LongPollTimeout.Duration < 0 || c.PollInterval.Duration < 0 || c.ErroredInterval.Duration < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	if c.LongPollTimeout.Duration%time.Second != 0 {
		return fmt.Errorf("long_poll_timeout %s must be whole seconds", c.LongPollTimeout)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// Save writes the config as YAML to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// The file may hold an API key.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
