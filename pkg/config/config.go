package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine settings. Zero values are filled from defaults
// at load time, so a partial or absent config file is valid.
type Config struct {
	// ProfilesRoot is the directory holding named profile directories
	ProfilesRoot string `yaml:"profiles_root"`

	// TempRoot is the directory for ephemeral profile directories
	TempRoot string `yaml:"temp_root"`

	// MaxSessions caps the number of concurrently live sessions
	MaxSessions int `yaml:"max_sessions"`

	// LaunchTimeout bounds the wait for browser readiness
	LaunchTimeout time.Duration `yaml:"launch_timeout"`

	// CloseGrace bounds the wait for graceful termination before force-kill
	CloseGrace time.Duration `yaml:"close_grace"`

	// CommandTimeout is the default per-command protocol timeout
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Headless controls whether launched browsers run without a window
	Headless bool `yaml:"headless"`

	// AllowedMethods are glob patterns for protocol methods scripts may call
	AllowedMethods []string `yaml:"allowed_methods"`
}

// duration wraps time.Duration so durations read and write as strings
// like "30s" in the YAML file.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// fileConfig is the on-disk shape of Config.
type fileConfig struct {
	ProfilesRoot   string   `yaml:"profiles_root,omitempty"`
	TempRoot       string   `yaml:"temp_root,omitempty"`
	MaxSessions    int      `yaml:"max_sessions,omitempty"`
	LaunchTimeout  duration `yaml:"launch_timeout,omitempty"`
	CloseGrace     duration `yaml:"close_grace,omitempty"`
	CommandTimeout duration `yaml:"command_timeout,omitempty"`
	Headless       *bool    `yaml:"headless,omitempty"`
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`
}

// Default values applied when the config file omits a field.
const (
	DefaultMaxSessions    = 5
	DefaultLaunchTimeout  = 30 * time.Second
	DefaultCloseGrace     = 5 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// DefaultAllowedMethods is the protocol surface scripts may use out of the box.
var DefaultAllowedMethods = []string{
	"Page.*",
	"DOM.*",
	"Runtime.evaluate",
	"Input.*",
	"Network.enable",
	"Network.disable",
	"Emulation.*",
	"Target.createTarget",
}

// Default returns a Config populated with default values. Paths are rooted
// under the user's home directory.
func Default() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return &Config{
		ProfilesRoot:   filepath.Join(homeDir, ".marionet", "profiles"),
		TempRoot:       filepath.Join(homeDir, ".marionet", "tmp"),
		MaxSessions:    DefaultMaxSessions,
		LaunchTimeout:  DefaultLaunchTimeout,
		CloseGrace:     DefaultCloseGrace,
		CommandTimeout: DefaultCommandTimeout,
		Headless:       true,
		AllowedMethods: append([]string(nil), DefaultAllowedMethods...),
	}, nil
}

// Load reads the config file at path, filling absent fields from defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Overlay present fields onto the defaults
	if fc.ProfilesRoot != "" {
		cfg.ProfilesRoot = fc.ProfilesRoot
	}
	if fc.TempRoot != "" {
		cfg.TempRoot = fc.TempRoot
	}
	if fc.MaxSessions != 0 {
		cfg.MaxSessions = fc.MaxSessions
	}
	if fc.LaunchTimeout != 0 {
		cfg.LaunchTimeout = time.Duration(fc.LaunchTimeout)
	}
	if fc.CloseGrace != 0 {
		cfg.CloseGrace = time.Duration(fc.CloseGrace)
	}
	if fc.CommandTimeout != 0 {
		cfg.CommandTimeout = time.Duration(fc.CommandTimeout)
	}
	if fc.Headless != nil {
		cfg.Headless = *fc.Headless
	}
	if len(fc.AllowedMethods) > 0 {
		cfg.AllowedMethods = fc.AllowedMethods
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.ProfilesRoot == "" {
		return fmt.Errorf("profiles_root must not be empty")
	}
	if c.TempRoot == "" {
		return fmt.Errorf("temp_root must not be empty")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be positive, got %v", c.LaunchTimeout)
	}
	if c.CloseGrace <= 0 {
		return fmt.Errorf("close_grace must be positive, got %v", c.CloseGrace)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %v", c.CommandTimeout)
	}
	return nil
}

// Save writes the configuration to path atomically (temp file + rename).
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	headless := c.Headless
	fc := fileConfig{
		ProfilesRoot:   c.ProfilesRoot,
		TempRoot:       c.TempRoot,
		MaxSessions:    c.MaxSessions,
		LaunchTimeout:  duration(c.LaunchTimeout),
		CloseGrace:     duration(c.CloseGrace),
		CommandTimeout: duration(c.CommandTimeout),
		Headless:       &headless,
		AllowedMethods: c.AllowedMethods,
	}

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	return nil
}
