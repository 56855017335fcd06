// Package config loads the agent configuration from a TOML file, matching
// the properties the agent was historically configured with: listen
// addresses, staging directory, and session liveness tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/attachkit/agent/internal/files"
	toml "github.com/pelletier/go-toml/v2"
)

// FileName is the config file the agent looks for near the working
// directory.
const FileName = "agent.toml"

// Config is the resolved agent configuration.
type Config struct {
	ApplicationName string
	ListenAddr      string
	AdminAddr       string
	StagingDir      string
	WatchStaging    bool
	CompilerURL     string

	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	ProbeInterval time.Duration
}

// fileConfig mirrors Config but uses strings for durations to keep the TOML
// friendly.
type fileConfig struct {
	ApplicationName string `toml:"application_name"`
	ListenAddr      string `toml:"listen_addr"`
	AdminAddr       string `toml:"admin_addr"`
	StagingDir      string `toml:"staging_dir"`
	WatchStaging    *bool  `toml:"watch_staging"`
	CompilerURL     string `toml:"compiler_url"`

	IdleTimeout   string `toml:"idle_timeout"`
	ReapInterval  string `toml:"reap_interval"`
	ProbeInterval string `toml:"probe_interval"`
}

// Default returns the configuration the agent runs with when no file or
// flags override it.
func Default() Config {
	return Config{
		ApplicationName: "unknown",
		ListenAddr:      "127.0.0.1:12345",
		AdminAddr:       "127.0.0.1:22222",
		StagingDir:      filepath.Join(os.TempDir(), "attach-agent", "classes"),
		WatchStaging:    false,
		IdleTimeout:     3 * time.Minute,
		ReapInterval:    5 * time.Second,
		ProbeInterval:   10 * time.Second,
	}
}

// Find locates the config file by walking up from dir. Empty when no file
// exists.
func Find(dir string) string {
	return files.FindUp(FileName, dir)
}

// Load reads the TOML file at path and applies it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := apply(&cfg, fc); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func apply(cfg *Config, fc fileConfig) error {
	setString(&cfg.ApplicationName, fc.ApplicationName)
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.AdminAddr, fc.AdminAddr)
	setString(&cfg.StagingDir, fc.StagingDir)
	setString(&cfg.CompilerURL, fc.CompilerURL)
	if fc.WatchStaging != nil {
		cfg.WatchStaging = *fc.WatchStaging
	}
	if err := setDuration(&cfg.IdleTimeout, "idle_timeout", fc.IdleTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.ReapInterval, "reap_interval", fc.ReapInterval); err != nil {
		return err
	}
	return setDuration(&cfg.ProbeInterval, "probe_interval", fc.ProbeInterval)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, key, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = d
	return nil
}
