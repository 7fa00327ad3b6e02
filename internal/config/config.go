package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"

	"github.com/javanstorm/vzlinux/internal/plan"
)

// Settings holds user preferences. They never change what a profile
// describes, only how the launcher behaves around it.
type Settings struct {
	// LogLevel is the minimum level logged (trace, debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// EFIStore is the EFI variable store path used in UEFI mode.
	// A relative path is resolved against the profile's directory.
	EFIStore string `mapstructure:"efi_store"`

	// Console attaches the guest serial console to the terminal.
	Console bool `mapstructure:"console"`
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel: "info",
		EFIStore: plan.DefaultVariableStore,
		Console:  true,
	}
}

// Global holds the loaded settings.
var Global = DefaultSettings()

var fileUsed string

// Flag names that override settings of the same key.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"efi-store": "efi_store",
	"console":   "console",
}

// Load reads settings from config.yaml in the search paths, VZLINUX_*
// environment variables and flags, highest precedence last. A missing
// config file is not an error. flags may be nil.
func Load(paths *Paths, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	defaults := DefaultSettings()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("efi_store", defaults.EFIStore)
	v.SetDefault("console", defaults.Console)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if paths != nil {
		for _, dir := range paths.SearchDirs() {
			v.AddConfigPath(dir)
		}
	}

	// VZLINUX_LOG_LEVEL, VZLINUX_EFI_STORE, VZLINUX_CONSOLE
	v.SetEnvPrefix("VZLINUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if paths != nil {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Errorf("failed to read config: %w", err)
			}
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Errorf("failed to parse config: %w", err)
	}

	Global = settings
	fileUsed = v.ConfigFileUsed()
	return settings, nil
}

// FileUsed returns the config file read by the last Load, if any.
func FileUsed() string {
	return fileUsed
}
