// Package config provides configuration management for plcmesh.
//
// Config file locations (priority order):
//  1. $PLCMESH_CONFIG
//  2. ./plcmesh.yaml
//  3. $XDG_CONFIG_HOME/plcmesh/config.yaml
//  4. ~/.config/plcmesh/config.yaml
//  5. /etc/plcmesh/config.yaml
//
// With the default identity store the adapter index map lives in the same
// file and is written back whenever a new adapter is indexed.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"plcmesh/internal/logger"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInterfaceUnavailable is returned for an interface that does not
	// exist or is down
	ErrInterfaceUnavailable = errors.New("interface unavailable")
)

// Limits enforced by Validate
const (
	MinScanInterval = 5 * time.Second
	MinTimeout      = 100 * time.Millisecond
	MaxTimeout      = 5 * time.Second
)

const (
	defaultScanInterval = 30 * time.Second
	defaultTimeout      = 2 * time.Second
	defaultRetries      = 3
	defaultBackoff      = 200 * time.Millisecond
	defaultWorkers      = 4
	defaultDBPath       = "./plcmesh.db"
	defaultHTTPAddr     = ":8080"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Parse decodes config YAML and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Save writes config to the specified path, replacing the file atomically
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return writeFileAtomic(path, data)
}

// writeFileAtomic replaces path with data through a temp file and rename,
// so a crash never leaves a truncated identity map behind
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = Duration(defaultScanInterval)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(defaultTimeout)
	}
	if c.Retries == 0 {
		c.Retries = defaultRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = Duration(defaultBackoff)
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendCommand
	}
	if c.Backend.Kind == BackendCommand && len(c.Backend.Command) == 0 {
		c.Backend.Command = []string{"pla-util", "--json"}
	}
	if c.Identity.Store == "" {
		c.Identity.Store = IdentityStoreConfig
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDBPath
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports every problem with the configuration. All returned
// errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Interface == "" {
		invalid("interface is required")
	}
	if d := c.ScanInterval.Duration(); d < MinScanInterval {
		invalid("scan_interval %s is below %s", d, MinScanInterval)
	}
	if d := c.Timeout.Duration(); d < MinTimeout || d > MaxTimeout {
		invalid("timeout %s is outside %s to %s", d, MinTimeout, MaxTimeout)
	}
	if c.Retries < 1 {
		invalid("retries must be at least 1, got %d", c.Retries)
	}
	if c.RetryBackoff < 0 {
		invalid("retry_backoff must not be negative")
	}
	if c.Workers < 1 {
		invalid("workers must be at least 1, got %d", c.Workers)
	}

	switch c.Backend.Kind {
	case BackendCommand:
		if len(c.Backend.Command) == 0 {
			invalid("backend.command is required for the command backend")
		}
		if ssh := c.Backend.SSH; ssh != nil {
			if ssh.Host == "" || ssh.User == "" {
				invalid("backend.ssh needs host and user")
			}
			if ssh.KeyPath == "" && ssh.PasswordEnv == "" {
				invalid("backend.ssh needs key_path or password_env")
			}
		}
	case BackendFixture:
		if c.Backend.Fixture == "" {
			invalid("backend.fixture is required for the fixture backend")
		}
	default:
		invalid("unknown backend.kind %q", c.Backend.Kind)
	}

	switch c.Identity.Store {
	case IdentityStoreConfig:
	case IdentityStoreDatabase:
		if c.Database.Path == "" {
			invalid("database.path is required for the database identity store")
		}
	default:
		invalid("unknown identity.store %q", c.Identity.Store)
	}

	return errors.Join(errs...)
}

// Timing is the subset of the configuration that can change while running
type Timing struct {
	ScanInterval time.Duration `json:"scan_interval"`
	Timeout      time.Duration `json:"timeout"`
	Retries      int           `json:"retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
}

// Timing returns the reloadable timing options
func (c *Config) Timing() Timing {
	return Timing{
		ScanInterval: c.ScanInterval.Duration(),
		Timeout:      c.Timeout.Duration(),
		Retries:      c.Retries,
		RetryBackoff: c.RetryBackoff.Duration(),
	}
}

// LoggerConfig returns the logging section with environment overrides applied
func (c *Config) LoggerConfig() logger.Config {
	return c.Logging.Overlay()
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	backend := string(c.Backend.Kind)
	if c.Backend.SSH != nil {
		backend += fmt.Sprintf(" via ssh %s@%s", c.Backend.SSH.User, c.Backend.SSH.Host)
	}

	return fmt.Sprintf("Interface: %s, Scan: %s, Timeout: %s, Retries: %d, Workers: %d\nBackend: %s, Identity store: %s",
		c.Interface, c.ScanInterval.Duration(), c.Timeout.Duration(), c.Retries, c.Workers,
		backend, c.Identity.Store)
}
