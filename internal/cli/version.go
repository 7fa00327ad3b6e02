package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vzlinux/internal/version"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit hash, build date and hypervisor of vzlinux.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vzlinux %s\n", version.Version)
		fmt.Fprintf(out, "  Commit:     %s\n", version.Commit)
		fmt.Fprintf(out, "  Build Date: %s\n", version.BuildDate)
		if driver, err := hypervisor.NewDriver(); err == nil {
			info := driver.Info()
			fmt.Fprintf(out, "  Hypervisor: %s %s (%s)\n", info.Name, info.Version, info.Arch)
		} else {
			fmt.Fprintf(out, "  Hypervisor: unavailable on %s/%s\n", runtime.GOOS, runtime.GOARCH)
		}
	},
}
