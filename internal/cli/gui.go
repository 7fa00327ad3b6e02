package cli

import (
	"github.com/spf13/cobra"

	"github.com/javanstorm/vzlinux/internal/config"
	"github.com/javanstorm/vzlinux/internal/gui"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

var guiCmd = &cobra.Command{
	Use:   "gui [profile.json]",
	Short: "Open a window to choose a profile and run it",
	Long: `Open a window with a profile chooser, a Start button, a status line and
the guest serial console. Closing the window stops the virtual machine.
A normal guest shutdown closes the window.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := hypervisor.NewDriver()
		if err != nil {
			return err
		}

		opts := gui.Options{
			Driver:        driver,
			VariableStore: config.Global.EFIStore,
		}
		if len(args) == 1 {
			opts.ProfilePath = args[0]
		}
		return gui.Run(cmd.Context(), opts)
	},
}
