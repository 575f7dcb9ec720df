// Package cmdutil holds setup shared by syncwatch subcommands.
package cmdutil

import (
	"fmt"

	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/ui"
	"github.com/roseeng/SyncTrayzor/config"
	"github.com/roseeng/SyncTrayzor/internal/adapter/rest"
	"github.com/roseeng/SyncTrayzor/internal/logging"
)

// Options are the root persistent flags.
type Options struct {
	ConfigPath string
	Debug      bool
	NoColor    bool
}

// Overrides are per-command flags that take precedence over the file.
type Overrides struct {
	Address string
	APIKey  string
}

// Setup loads the config, applies overrides and configures logging and
// terminal color.
func Setup(opts *Options, ov Overrides) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if ov.Address != "" {
		cfg.Address = ov.Address
	}
	if ov.APIKey != "" {
		cfg.APIKey = ov.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.Debug {
		level = logging.LevelDebug
	}
	if err := logging.ConfigureFormat(level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	ui.ConfigureColor(opts.NoColor)
	return cfg, nil
}

// NewClient builds the daemon REST client described by cfg.
func NewClient(cfg *config.Config) (*rest.Client, error) {
	return rest.New(cfg.Address,
		rest.WithAPIKey(cfg.APIKey),
		rest.WithLongPollTimeout(cfg.LongPollTimeout.Duration),
	)
}
