package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPaths(t *testing.T) *Paths {
	t.Helper()
	return &Paths{DataDir: t.TempDir(), ConfigDir: t.TempDir()}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	if s.LogLevel != "info" {
		t.Errorf("LogLevel should be 'info', got %q", s.LogLevel)
	}
	if s.EFIStore != "efistore" {
		t.Errorf("EFIStore should be 'efistore', got %q", s.EFIStore)
	}
	if !s.Console {
		t.Error("Console should be enabled by default")
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	s, err := Load(tempPaths(t), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Same(t, s, Global)
}

func TestLoadFromDataDir(t *testing.T) {
	paths := tempPaths(t)
	writeConfig(t, paths.DataDir, "log_level: debug\nefi_store: nvram/vars\nconsole: false\n")

	s, err := Load(paths, nil)
	require.NoError(t, err)
	assert.Equal(t, &Settings{LogLevel: "debug", EFIStore: "nvram/vars", Console: false}, s)
}

func TestLoadFromConfigDir(t *testing.T) {
	paths := tempPaths(t)
	writeConfig(t, paths.ConfigDir, "log_level: warn\n")

	s, err := Load(paths, nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "efistore", s.EFIStore)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	paths := tempPaths(t)
	writeConfig(t, paths.DataDir, "log_level: debug\nconsole: true\n")
	t.Setenv("VZLINUX_LOG_LEVEL", "error")
	t.Setenv("VZLINUX_CONSOLE", "false")

	s, err := Load(paths, nil)
	require.NoError(t, err)
	assert.Equal(t, "error", s.LogLevel)
	assert.False(t, s.Console)
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("VZLINUX_EFI_STORE", "/env/efistore")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("efi-store", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--efi-store=/flag/efistore"}))

	s, err := Load(tempPaths(t), flags)
	require.NoError(t, err)
	assert.Equal(t, "/flag/efistore", s.EFIStore)
	// Unset flags do not mask defaults.
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadInvalidConfigFile(t *testing.T) {
	paths := tempPaths(t)
	writeConfig(t, paths.DataDir, "log_level: [unterminated\n")

	_, err := Load(paths, nil)
	assert.Error(t, err)
}

func TestGetPaths(t *testing.T) {
	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths failed: %v", err)
	}

	if paths.ConfigDir == "" {
		t.Error("ConfigDir should not be empty")
	}
	if !filepath.IsAbs(paths.DataDir) {
		t.Error("DataDir should be absolute path")
	}
	if filepath.Base(paths.DataDir) != ".vzlinux" {
		t.Errorf("DataDir should end in .vzlinux, got %q", paths.DataDir)
	}
	if got := paths.SearchDirs(); len(got) != 2 || got[0] != paths.DataDir {
		t.Errorf("SearchDirs() = %v, want data dir first", got)
	}
}
