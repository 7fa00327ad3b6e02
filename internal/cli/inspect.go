package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/javanstorm/vzlinux/internal/config"
	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <profile.json>",
	Short: "Show the virtual machine a profile describes",
	Long: `Load a profile, apply defaults and print the devices that would be
attached, without starting anything.

With --check the plan is also validated by the hypervisor. In UEFI mode
this recreates the EFI variable store.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectCheck bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectCheck, "check", false, "validate the plan with the hypervisor")
}

func runInspect(cmd *cobra.Command, args []string) error {
	p, err := profile.Load(args[0])
	if err != nil {
		return err
	}

	var (
		driver hypervisor.Driver
		caps   hypervisor.Capabilities
	)
	if d, err := hypervisor.NewDriver(); err == nil {
		driver = d
		caps = d.Capabilities()
	} else if inspectCheck {
		return err
	}

	builder := plan.NewBuilder(driver, plan.WithVariableStore(config.Global.EFIStore))
	dp := builder.Describe(p)

	out := cmd.OutOrStdout()
	printPlan(out, args[0], dp)

	var issues []config.ValidationError
	if driver != nil {
		issues = config.ValidateProfile(p, caps)
		if len(issues) > 0 {
			fmt.Fprint(out, "\n"+config.FormatValidationErrors(issues))
		}
	}

	if inspectCheck {
		if err := config.Fatal(issues); err != nil {
			return &plan.ConfigurationError{Err: err}
		}
		if _, err := builder.Build(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintln(out, "\nConfiguration is valid.")
	}
	return nil
}

func printPlan(w io.Writer, path string, dp *hypervisor.DevicePlan) {
	fmt.Fprintf(w, "Profile:   %s\n", path)
	fmt.Fprintf(w, "CPUs:      %d\n", dp.CPUs)
	fmt.Fprintf(w, "Memory:    %s\n", units.BytesSize(float64(dp.MemoryMB)*units.MiB))

	switch b := dp.Boot.(type) {
	case *hypervisor.LinuxBoot:
		fmt.Fprintf(w, "Boot:      linux\n")
		fmt.Fprintf(w, "  kernel:  %s\n", describeFile(b.Kernel))
		if b.Initrd != "" {
			fmt.Fprintf(w, "  initrd:  %s\n", describeFile(b.Initrd))
		} else {
			fmt.Fprintf(w, "  initrd:  none\n")
		}
		fmt.Fprintf(w, "  cmdline: %s\n", b.Cmdline)
	case *hypervisor.EFIBoot:
		fmt.Fprintf(w, "Boot:      uefi\n")
		fmt.Fprintf(w, "  store:   %s\n", b.VariableStore)
	}

	if len(dp.Storage) == 0 {
		fmt.Fprintf(w, "Storage:   none\n")
	} else {
		fmt.Fprintf(w, "Storage:\n")
		for i, disk := range dp.Storage {
			fmt.Fprintf(w, "  vd%c:     %s\n", 'a'+i, describeFile(disk.Path))
		}
	}

	if dp.Network != nil {
		fmt.Fprintf(w, "Network:   %s\n", dp.Network.Mode)
	} else {
		fmt.Fprintf(w, "Network:   none\n")
	}

	if dp.Share != nil {
		fmt.Fprintf(w, "Shared:    tag %q\n", dp.Share.Tag)
		names := make([]string, 0, len(dp.Share.Directories))
		for name := range dp.Share.Directories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s\n", dp.Share.Directories[name].Path)
		}
	}

	for _, g := range dp.Graphics {
		fmt.Fprintf(w, "Display:   %dx%d\n", g.Width, g.Height)
	}
}

// describeFile annotates a path with its size, or notes that it is missing.
func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + " (missing)"
	}
	if info.IsDir() {
		return path + " (directory)"
	}
	return fmt.Sprintf("%s (%s)", path, units.HumanSize(float64(info.Size())))
}
