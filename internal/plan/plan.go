// Package plan turns a loaded profile into a validated hypervisor device plan.
package plan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

// Fixed devices every launch carries.
const (
	ShareTag             = "shared"
	DisplayWidth         = 1280
	DisplayHeight        = 720
	DefaultVariableStore = "efistore"
)

// Option configures a Builder.
type Option func(*Builder)

// WithVariableStore sets the EFI variable store path. A relative path is
// resolved against the profile's directory.
func WithVariableStore(path string) Option {
	return func(b *Builder) {
		if path != "" {
			b.variableStore = path
		}
	}
}

// WithConsole attaches a serial console to every plan.
func WithConsole(c *hypervisor.Console) Option {
	return func(b *Builder) {
		b.console = c
	}
}

// Builder assembles device plans for a driver.
type Builder struct {
	driver        hypervisor.Driver
	variableStore string
	console       *hypervisor.Console
}

// NewBuilder creates a Builder for driver.
func NewBuilder(driver hypervisor.Driver, opts ...Option) *Builder {
	b := &Builder{
		driver:        driver,
		variableStore: DefaultVariableStore,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// VariableStorePath returns where the EFI variable store for p lives.
func (b *Builder) VariableStorePath(p *profile.Profile) string {
	return p.Resolve(b.variableStore)
}

// Describe maps a profile to a plan without touching the filesystem or the
// hypervisor. The result has not been validated.
func (b *Builder) Describe(p *profile.Profile) *hypervisor.DevicePlan {
	dp := &hypervisor.DevicePlan{
		CPUs:     p.CPUs,
		MemoryMB: p.MemoryMB,
		Graphics: []hypervisor.GraphicsDevice{
			{Width: DisplayWidth, Height: DisplayHeight},
		},
		Keyboards: []hypervisor.InputDevice{
			{Kind: hypervisor.USBKeyboard},
		},
		PointingDevices: []hypervisor.InputDevice{
			{Kind: hypervisor.USBScreenCoordinatePointer},
		},
		Console: b.console,
	}

	if p.UEFIEnabled {
		dp.Boot = &hypervisor.EFIBoot{VariableStore: b.VariableStorePath(p)}
	} else {
		dp.Boot = &hypervisor.LinuxBoot{
			Kernel:  p.KernelPath,
			Initrd:  p.InitrdPath,
			Cmdline: p.Cmdline,
		}
	}

	dp.Storage = make([]hypervisor.StorageDevice, 0, len(p.DiskPaths))
	for _, disk := range p.DiskPaths {
		dp.Storage = append(dp.Storage, hypervisor.StorageDevice{Path: disk})
	}

	if p.NetworkEnabled {
		dp.Network = &hypervisor.NetworkDevice{Mode: "nat"}
	}

	if len(p.SharedDirectories) > 0 {
		share := &hypervisor.DirectoryShare{
			Tag:         ShareTag,
			Directories: make(map[string]hypervisor.SharedDirectory, len(p.SharedDirectories)),
		}
		for _, dir := range p.SharedDirectories {
			share.Directories[dir] = hypervisor.SharedDirectory{Path: dir}
		}
		dp.Share = share
	}

	return dp
}

// Build produces a validated plan for p. In UEFI mode the variable store is
// recreated first. Every failure is a *ConfigurationError or a
// *BootStoreError, and no VM exists when Build fails.
func (b *Builder) Build(ctx context.Context, p *profile.Profile) (*hypervisor.DevicePlan, error) {
	if p.UEFIEnabled {
		store := b.VariableStorePath(p)
		if err := b.driver.CreateVariableStore(ctx, store); err != nil {
			return nil, &BootStoreError{Path: store, Err: err}
		}
	} else if err := checkFile(p.KernelPath); err != nil {
		return nil, &ConfigurationError{Field: "kernel", Err: err}
	}

	dp := b.Describe(p)
	if err := dp.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	if err := b.driver.Validate(ctx, dp); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	return dp, nil
}

func checkFile(path string) error {
	if path == "" {
		return hypervisor.ErrMissingKernel
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &os.PathError{Op: "open", Path: filepath.Clean(path), Err: ErrIsDirectory}
	}
	return nil
}
