package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Name used for directory naming.
const appName = "gitforge"

// DefaultConfDir is the configuration directory used when none is given.
//
//	Linux:   $XDG_CONFIG_HOME/gitforge
//	macOS:   ~/Library/Application Support/gitforge
func DefaultConfDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultDataDir is the data directory used when data_dir is unset.
//
//	Linux:   $XDG_DATA_HOME/gitforge
//	macOS:   ~/Library/Application Support/gitforge
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}
