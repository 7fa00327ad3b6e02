//go:build darwin

package hypervisor

import (
	"context"
	"io/fs"
	"os"
	"runtime"
	"sync"

	"github.com/Code-Hex/vz/v3"
	"gitlab.com/tozd/go/errors"
)

// vzDriver implements Driver using macOS Virtualization.framework.
type vzDriver struct{}

// NewDriver creates a new vz-based driver for macOS.
func NewDriver() (Driver, error) {
	return &vzDriver{}, nil
}

func (d *vzDriver) Info() Info {
	return Info{
		Name:    "vz",
		Version: "3",
		Arch:    runtime.GOARCH,
	}
}

func (d *vzDriver) Capabilities() Capabilities {
	return Capabilities{
		SharedDirs: true,
		Networking: true,
		EFIBoot:    true,
		Graphics:   true,
	}
}

func (d *vzDriver) CreateVariableStore(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Errorf("vzDriver: remove variable store: %w", err)
	}
	if _, err := vz.NewEFIVariableStore(path, vz.WithCreatingEFIVariableStore()); err != nil {
		return errors.Errorf("vzDriver: create variable store: %w", err)
	}
	return nil
}

func (d *vzDriver) Validate(ctx context.Context, plan *DevicePlan) error {
	_, err := d.configure(plan)
	return err
}

func (d *vzDriver) Create(ctx context.Context, plan *DevicePlan) (Machine, error) {
	vmCfg, err := d.configure(plan)
	if err != nil {
		return nil, err
	}

	vm, err := vz.NewVirtualMachine(vmCfg)
	if err != nil {
		return nil, errors.Errorf("vzDriver: create VM: %w", err)
	}

	return &vzMachine{
		vm:     vm,
		events: make(chan Event, 1),
	}, nil
}

// configure translates a plan into a validated vz configuration.
func (d *vzDriver) configure(plan *DevicePlan) (*vz.VirtualMachineConfiguration, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	bootLoader, err := newBootLoader(plan.Boot)
	if err != nil {
		return nil, err
	}

	vmCfg, err := vz.NewVirtualMachineConfiguration(
		bootLoader,
		uint(plan.CPUs),
		uint64(plan.MemoryMB)*1024*1024,
	)
	if err != nil {
		return nil, errors.Errorf("vzDriver: create VM config: %w", err)
	}

	platform, err := vz.NewGenericPlatformConfiguration()
	if err != nil {
		return nil, errors.Errorf("vzDriver: create platform config: %w", err)
	}
	vmCfg.SetPlatformVirtualMachineConfiguration(platform)

	if plan.Console != nil {
		attachment, err := vz.NewFileHandleSerialPortAttachment(plan.Console.Read, plan.Console.Write)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create serial attachment: %w", err)
		}
		serialCfg, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(attachment)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create serial config: %w", err)
		}
		vmCfg.SetSerialPortsVirtualMachineConfiguration([]*vz.VirtioConsoleDeviceSerialPortConfiguration{
			serialCfg,
		})
	}

	storage := make([]vz.StorageDeviceConfiguration, 0, len(plan.Storage))
	for _, disk := range plan.Storage {
		attachment, err := vz.NewDiskImageStorageDeviceAttachment(disk.Path, disk.ReadOnly)
		if err != nil {
			return nil, errors.Errorf("vzDriver: attach disk %s: %w", disk.Path, err)
		}
		blockDevice, err := vz.NewVirtioBlockDeviceConfiguration(attachment)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create block device %s: %w", disk.Path, err)
		}
		storage = append(storage, blockDevice)
	}
	vmCfg.SetStorageDevicesVirtualMachineConfiguration(storage)

	if plan.Network != nil {
		natAttachment, err := vz.NewNATNetworkDeviceAttachment()
		if err != nil {
			return nil, errors.Errorf("vzDriver: create NAT attachment: %w", err)
		}
		netConfig, err := vz.NewVirtioNetworkDeviceConfiguration(natAttachment)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create network config: %w", err)
		}
		macAddr, err := vz.NewRandomLocallyAdministeredMACAddress()
		if err != nil {
			return nil, errors.Errorf("vzDriver: generate random MAC: %w", err)
		}
		netConfig.SetMACAddress(macAddr)
		vmCfg.SetNetworkDevicesVirtualMachineConfiguration([]*vz.VirtioNetworkDeviceConfiguration{netConfig})
	}

	if plan.Share != nil {
		fsConfig, err := newDirectoryShare(plan.Share)
		if err != nil {
			return nil, err
		}
		vmCfg.SetDirectorySharingDevicesVirtualMachineConfiguration([]vz.DirectorySharingDeviceConfiguration{fsConfig})
	}

	graphics := make([]vz.GraphicsDeviceConfiguration, 0, len(plan.Graphics))
	for _, g := range plan.Graphics {
		gpu, err := vz.NewVirtioGraphicsDeviceConfiguration()
		if err != nil {
			return nil, errors.Errorf("vzDriver: create graphics device: %w", err)
		}
		scanout, err := vz.NewVirtioGraphicsScanoutConfiguration(int64(g.Width), int64(g.Height))
		if err != nil {
			return nil, errors.Errorf("vzDriver: create scanout: %w", err)
		}
		gpu.SetScanouts(scanout)
		graphics = append(graphics, gpu)
	}
	vmCfg.SetGraphicsDevicesVirtualMachineConfiguration(graphics)

	keyboards := make([]vz.KeyboardConfiguration, 0, len(plan.Keyboards))
	for _, k := range plan.Keyboards {
		if k.Kind != USBKeyboard {
			return nil, errors.Errorf("vzDriver: unsupported keyboard %q", k.Kind)
		}
		keyboard, err := vz.NewUSBKeyboardConfiguration()
		if err != nil {
			return nil, errors.Errorf("vzDriver: create keyboard: %w", err)
		}
		keyboards = append(keyboards, keyboard)
	}
	vmCfg.SetKeyboardsVirtualMachineConfiguration(keyboards)

	pointers := make([]vz.PointingDeviceConfiguration, 0, len(plan.PointingDevices))
	for _, p := range plan.PointingDevices {
		if p.Kind != USBScreenCoordinatePointer {
			return nil, errors.Errorf("vzDriver: unsupported pointing device %q", p.Kind)
		}
		pointer, err := vz.NewUSBScreenCoordinatePointingDeviceConfiguration()
		if err != nil {
			return nil, errors.Errorf("vzDriver: create pointing device: %w", err)
		}
		pointers = append(pointers, pointer)
	}
	vmCfg.SetPointingDevicesVirtualMachineConfiguration(pointers)

	ok, err := vmCfg.Validate()
	if err != nil {
		return nil, errors.Errorf("vzDriver: invalid configuration: %w", err)
	}
	if !ok {
		return nil, ErrInvalidConfiguration
	}

	return vmCfg, nil
}

func newBootLoader(boot BootLoader) (vz.BootLoader, error) {
	switch b := boot.(type) {
	case *LinuxBoot:
		opts := []vz.LinuxBootLoaderOption{vz.WithCommandLine(b.Cmdline)}
		if b.Initrd != "" {
			opts = append(opts, vz.WithInitrd(b.Initrd))
		}
		loader, err := vz.NewLinuxBootLoader(b.Kernel, opts...)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create boot loader: %w", err)
		}
		return loader, nil
	case *EFIBoot:
		store, err := vz.NewEFIVariableStore(b.VariableStore)
		if err != nil {
			return nil, errors.Errorf("vzDriver: open variable store: %w", err)
		}
		loader, err := vz.NewEFIBootLoader(vz.WithEFIVariableStore(store))
		if err != nil {
			return nil, errors.Errorf("vzDriver: create EFI boot loader: %w", err)
		}
		return loader, nil
	default:
		return nil, ErrMissingBootLoader
	}
}

func newDirectoryShare(share *DirectoryShare) (*vz.VirtioFileSystemDeviceConfiguration, error) {
	dirs := make(map[string]*vz.SharedDirectory, len(share.Directories))
	for name, dir := range share.Directories {
		sharedDir, err := vz.NewSharedDirectory(dir.Path, dir.ReadOnly)
		if err != nil {
			return nil, errors.Errorf("vzDriver: create shared dir %s: %w", dir.Path, err)
		}
		dirs[name] = sharedDir
	}

	dirShare, err := vz.NewMultipleDirectoryShare(dirs)
	if err != nil {
		return nil, errors.Errorf("vzDriver: create dir share: %w", err)
	}

	fsConfig, err := vz.NewVirtioFileSystemDeviceConfiguration(share.Tag)
	if err != nil {
		return nil, errors.Errorf("vzDriver: create fs config %s: %w", share.Tag, err)
	}
	fsConfig.SetDirectoryShare(dirShare)
	return fsConfig, nil
}

// vzMachine is a VM created by vzDriver.
type vzMachine struct {
	mu      sync.Mutex
	vm      *vz.VirtualMachine
	started bool
	events  chan Event
}

func (m *vzMachine) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		done <- ErrAlreadyStarted
		close(done)
		return done
	}
	m.started = true
	m.mu.Unlock()

	// Subscribe before starting so no state change is missed.
	notify := m.vm.StateChangedNotify()
	failed := make(chan struct{})
	go m.watch(notify, failed)

	go func() {
		defer close(done)
		if err := m.vm.Start(); err != nil {
			close(failed)
			done <- errors.Errorf("vzDriver: start VM: %w", err)
			return
		}
		done <- nil
	}()

	return done
}

// watch turns state changes into the terminal event. It returns early
// when failed closes, since a VM that never started may not change state.
func (m *vzMachine) watch(notify <-chan vz.VirtualMachineState, failed <-chan struct{}) {
	defer close(m.events)
	for {
		select {
		case <-failed:
			return
		case state, ok := <-notify:
			if !ok {
				return
			}
			switch state {
			case vz.VirtualMachineStateStopped:
				m.events <- Event{Kind: EventGuestStopped}
				return
			case vz.VirtualMachineStateError:
				m.events <- Event{Kind: EventGuestError, Err: ErrGuestFailed}
				return
			}
		}
	}
}

// ShowDisplay opens Virtualization.framework's own window on the VM. It
// runs the AppKit event loop, so it cannot share a process with another
// UI toolkit's main loop.
func (m *vzMachine) ShowDisplay(ctx context.Context, g GraphicsDevice) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := m.vm.StartGraphicApplication(float64(g.Width), float64(g.Height)); err != nil {
		return errors.Errorf("vzDriver: start graphic application: %w", err)
	}
	return nil
}

func (m *vzMachine) Events() <-chan Event {
	return m.events
}

func (m *vzMachine) RequestStop(ctx context.Context) error {
	if !m.vm.CanRequestStop() {
		return ErrNotRunning
	}
	ok, err := m.vm.RequestStop()
	if err != nil {
		return errors.Errorf("vzDriver: request stop: %w", err)
	}
	if !ok {
		return errors.New("vzDriver: guest declined stop request")
	}
	return nil
}

func (m *vzMachine) Stop(ctx context.Context) error {
	if !m.vm.CanStop() {
		return ErrNotRunning
	}
	if err := m.vm.Stop(); err != nil {
		return errors.Errorf("vzDriver: force stop: %w", err)
	}
	return nil
}

var (
	_ Driver  = (*vzDriver)(nil)
	_ Machine = (*vzMachine)(nil)
	_ Display = (*vzMachine)(nil)
)
