package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "PLCMESH_CONFIG"
	// ConfigFileName is the file looked up in the working directory
	ConfigFileName = "plcmesh.yaml"
	// ConfigDirName is the per-user and system directory name
	ConfigDirName = "plcmesh"

	dirFileName = "config.yaml"
)

// Location is one place a config file may live
type Location struct {
	Path string
	// Source is env, workdir, xdg, home or system
	Source string
	// Writable locations are used for a new file when none exists. The
	// working directory and /etc are only read.
	Writable bool
}

// SearchPaths lists the config locations from highest to lowest priority.
// Locations whose environment variable is unset are left out.
func SearchPaths() []Location {
	var locs []Location
	if path := os.Getenv(EnvConfigPath); path != "" {
		locs = append(locs, Location{Path: path, Source: "env", Writable: true})
	}

	workdir := ConfigFileName
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		workdir = abs
	}
	locs = append(locs, Location{Path: workdir, Source: "workdir"})

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		locs = append(locs, Location{Path: filepath.Join(xdg, ConfigDirName, dirFileName), Source: "xdg", Writable: true})
	}
	if home := os.Getenv("HOME"); home != "" {
		locs = append(locs, Location{Path: filepath.Join(home, ".config", ConfigDirName, dirFileName), Source: "home", Writable: true})
	}

	return append(locs, Location{Path: filepath.Join("/etc", ConfigDirName, dirFileName), Source: "system"})
}

// FindConfigPath returns the first location in SearchPaths holding a
// regular file, or "" when there is none
func FindConfigPath() string {
	for _, loc := range SearchPaths() {
		if isRegularFile(loc.Path) {
			return loc.Path
		}
	}
	return ""
}

// DefaultConfigPath returns where a new config file goes: the first
// writable location, or plcmesh.yaml in the working directory
func DefaultConfigPath() string {
	for _, loc := range SearchPaths() {
		if loc.Writable {
			return loc.Path
		}
	}
	return ConfigFileName
}

// EnsureConfigDir creates the directory holding configPath
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
