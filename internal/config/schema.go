package config

import (
	"time"

	"plcmesh/internal/logger"
)

// Config is the root configuration structure
type Config struct {
	Version int `yaml:"version"`

	// Interface is the network interface the powerline adapters hang off
	Interface    string   `yaml:"interface"`
	ScanInterval Duration `yaml:"scan_interval"`
	Timeout      Duration `yaml:"timeout"`
	Retries      int      `yaml:"retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	Workers      int      `yaml:"workers"`

	Backend  BackendConfig  `yaml:"backend"`
	Identity IdentityConfig `yaml:"identity"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  logger.Config  `yaml:"logging"`
}

// BackendKind selects how adapters are queried
type BackendKind string

const (
	// BackendCommand runs a JSON query helper, locally or over SSH
	BackendCommand BackendKind = "command"
	// BackendFixture answers from a YAML fixture file
	BackendFixture BackendKind = "fixture"
)

// BackendConfig holds query backend settings
type BackendConfig struct {
	Kind    BackendKind `yaml:"kind"`
	Command []string    `yaml:"command,omitempty"`
	Fixture string      `yaml:"fixture,omitempty"`
	SSH     *SSHConfig  `yaml:"ssh,omitempty"`
}

// SSHConfig runs the helper on a remote host. Secrets are referenced, not
// stored: the key by path and the password by environment variable name.
type SSHConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port,omitempty"`
	User           string   `yaml:"user"`
	KeyPath        string   `yaml:"key_path,omitempty"`
	PassphraseEnv  string   `yaml:"passphrase_env,omitempty"`
	PasswordEnv    string   `yaml:"password_env,omitempty"`
	KnownHostsPath string   `yaml:"known_hosts,omitempty"`
	DialTimeout    Duration `yaml:"dial_timeout,omitempty"`
}

// IdentityStoreKind selects where the identity map is persisted
type IdentityStoreKind string

const (
	// IdentityStoreConfig keeps the map in this configuration file
	IdentityStoreConfig IdentityStoreKind = "config"
	// IdentityStoreDatabase keeps the map in the sqlite database
	IdentityStoreDatabase IdentityStoreKind = "database"
)

// IdentityConfig holds the identity map settings and, for the config
// store, the map itself
type IdentityConfig struct {
	Store     IdentityStoreKind `yaml:"store"`
	IndexMap  map[string]int    `yaml:"index_map,omitempty"`
	LastIndex int               `yaml:"last_index,omitempty"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds the API listener settings
type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
