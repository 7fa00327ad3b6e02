// Package cli provides the command-line interface for vzlinux.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/javanstorm/vzlinux/internal/config"
	"github.com/javanstorm/vzlinux/internal/logging"
	"github.com/javanstorm/vzlinux/internal/version"
	"github.com/javanstorm/vzlinux/internal/vm"
)

// errUsage is returned after the usage line has been printed.
var errUsage = errors.New("usage")

var rootCmd = &cobra.Command{
	Use:   "vzlinux <profile.json>",
	Short: "Boot a Linux virtual machine described by a JSON profile",
	Long: `vzlinux boots a Linux guest with macOS Virtualization.framework.

The profile is a JSON object. Every field is optional:

  cpus     number of virtual CPUs            (default 2)
  memory   memory in megabytes               (default 2048)
  kernel   kernel image                      (default "vmlinuz")
  initrd   initial ramdisk, "" for none      (default "initrd.img")
  storage  disk images, first is /dev/vda    (default ["root.img"])
  cmdline  kernel command line               (default "console=hvc0 root=/dev/vda rw")
  network  attach a NAT network device       (default false)
  uefi     boot through UEFI firmware        (default false)
  shared   host directories for virtio-fs    (default [])

Relative paths are resolved against the profile's directory. Shared
directories appear in the guest under the virtio-fs tag "shared".`,
	Args:              profileArg,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runLaunch,
}

// profileArg requires exactly one profile path and prints the usage line
// otherwise.
func profileArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "usage: %s <profile.json>\n", cmd.Root().Name())
		return errUsage
	}
	return nil
}

// setup loads settings and installs the logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		log.Warn().Err(err).Msg("cannot determine config directories, using defaults")
		paths = nil
	}

	settings, err := config.Load(paths, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.Setup(os.Stderr, settings.LogLevel)
	if err != nil {
		return err
	}
	logger.Debug().Str("config", config.FileUsed()).Msg(version.String())
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

// Execute runs the root command and reports any failure on the log.
// The returned error is meant for ExitCode.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errUsage) {
		log.Error().Msg(vm.Describe(err))
	}
	return err
}

// ExitCode maps the result of Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func init() {
	log.Logger = logging.New(os.Stderr, zerolog.InfoLevel)

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("efi-store", "", "EFI variable store path, relative to the profile (default \"efistore\")")
	flags.Bool("console", true, "attach the guest serial console to this terminal")
	rootCmd.Flags().BoolVar(&showTiming, "timing", false, "print a launch timing report after the guest stops")
	rootCmd.Flags().BoolVar(&showDisplay, "display", false, "show the guest display in a window instead of attaching the serial console")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(guiCmd)
}
