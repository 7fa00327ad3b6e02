// Package config provides the user settings that apply to every launch.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directories searched for settings.
type Paths struct {
	// ConfigDir is the platform configuration directory.
	// macOS: ~/Library/Application Support/VZLinux
	// Others: ~/.config/vzlinux (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir is ~/.vzlinux on all platforms.
	DataDir string
}

// GetPaths returns platform-aware paths for vzlinux.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{
		DataDir: filepath.Join(home, ".vzlinux"),
	}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "VZLinux")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "vzlinux")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "vzlinux")
		}
	}

	return p, nil
}

// SearchDirs returns the directories searched for config.yaml, in order.
func (p *Paths) SearchDirs() []string {
	return []string{p.DataDir, p.ConfigDir}
}
