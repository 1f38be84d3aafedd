// Package paths centralizes where mailcode keeps its on-disk state.
package paths

import (
	"os"
	"path/filepath"
)

const appDir = "mailcode"

// GetDataDir returns the directory for persistent state (the account
// database). It honors XDG_DATA_HOME and falls back to ~/.local/share.
func GetDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}
	return filepath.Join(home, ".local", "share", appDir)
}

// GetConfigDir returns the directory for the policy file. It honors
// XDG_CONFIG_HOME and falls back to ~/.config.
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}
	return filepath.Join(home, ".config", appDir)
}
