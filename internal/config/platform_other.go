//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to a path under the
// home directory.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "alloyist")
}

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "alloyist", "secrets.json")
}

// platformStores returns $XDG_CONFIG_HOME/alloyist/config.json for settings
// and a private secrets.json beside the data directory for API keys.
func platformStores() (settings, secrets Store) {
	cfgFile := filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "alloyist", "config.json")
	return jsonFile{path: cfgFile}, jsonFile{path: secretsFilePath()}
}

func secretHint(string) string {
	return " or " + secretsFilePath()
}
