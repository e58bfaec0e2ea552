// Package config reads server settings from the environment. Command-line
// flags override these values.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr      string `env:"RC_ADDR"       envDefault:":8080"`
	DataDir   string `env:"RC_DATA_DIR"   envDefault:"./data"`
	ConfigDir string `env:"RC_CONFIG_DIR" envDefault:"./configs"`
	Profile   string `env:"RC_PROFILE"    envDefault:"default"`

	// Storage selects the state backend: sqlite, file, file+zstd or memory.
	Storage string `env:"RC_STORAGE" envDefault:"sqlite"`

	Audio    bool `env:"RC_AUDIO"     envDefault:"true"`
	Index    bool `env:"RC_INDEX"     envDefault:"true"`
	EventLog bool `env:"RC_EVENT_LOG" envDefault:"true"`

	// TickInterval overrides tuning.tick_duration_ms when set.
	TickInterval  time.Duration `env:"RC_TICK_INTERVAL"`
	MaxActsPerSec int           `env:"RC_MAX_ACTS_PER_SEC" envDefault:"50"`

	AdminHTTP *bool  `env:"RC_ENABLE_ADMIN_HTTP"`
	PprofHTTP bool   `env:"RC_ENABLE_PPROF_HTTP" envDefault:"false"`
	DeployEnv string `env:"DEPLOY_ENV"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage)) {
	case "sqlite", "file", "file+zstd", "memory":
	default:
		return fmt.Errorf("RC_STORAGE: unsupported backend %q", c.Storage)
	}
	if c.Profile == "" || strings.ContainsAny(c.Profile, `/\`) || c.Profile == "." || c.Profile == ".." {
		return fmt.Errorf("RC_PROFILE: invalid profile %q", c.Profile)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("RC_TICK_INTERVAL: must not be negative")
	}
	if c.MaxActsPerSec < 0 {
		return fmt.Errorf("RC_MAX_ACTS_PER_SEC: must not be negative")
	}
	return nil
}

// ProfileDir is where one profile keeps its state, logs and snapshots.
func (c Config) ProfileDir() string {
	return filepath.Join(c.DataDir, "profiles", c.Profile)
}

// AdminEnabled defaults to on outside staging and production.
func (c Config) AdminEnabled() bool {
	if c.AdminHTTP != nil {
		return *c.AdminHTTP
	}
	switch strings.ToLower(strings.TrimSpace(c.DeployEnv)) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
