package hypervisor

import "os"

// BootLoader describes how the guest is booted. It is either a *LinuxBoot
// or an *EFIBoot.
type BootLoader interface {
	bootLoader()
}

// LinuxBoot boots a kernel image directly.
type LinuxBoot struct {
	// Kernel is the path to the Linux kernel image.
	Kernel string

	// Initrd is the path to the initial ramdisk. Empty means none is attached.
	Initrd string

	// Cmdline is passed to the guest kernel verbatim.
	Cmdline string
}

// EFIBoot boots through UEFI firmware backed by a variable store file.
type EFIBoot struct {
	// VariableStore is the path of an existing EFI variable store.
	VariableStore string
}

func (*LinuxBoot) bootLoader() {}
func (*EFIBoot) bootLoader()   {}

// StorageDevice is a virtio block device backed by a disk image.
type StorageDevice struct {
	Path     string
	ReadOnly bool
}

// NetworkDevice is a virtio network device.
type NetworkDevice struct {
	// Mode is the attachment type. Only "nat" is supported.
	Mode string
}

// SharedDirectory is one host directory inside a DirectoryShare.
type SharedDirectory struct {
	Path     string
	ReadOnly bool
}

// DirectoryShare exposes several host directories to the guest through a
// single virtio-fs device.
// Guests mount it with "mount -t virtiofs <tag> <mountpoint>".
type DirectoryShare struct {
	Tag string

	// Directories is keyed by the name the directory gets inside the share.
	Directories map[string]SharedDirectory
}

// GraphicsDevice is a virtio-gpu device with a single scanout.
type GraphicsDevice struct {
	Width  int
	Height int
}

// InputDevice kinds.
const (
	USBKeyboard                = "usb-keyboard"
	USBScreenCoordinatePointer = "usb-screen-coordinate-pointer"
)

// InputDevice is a keyboard or pointing device.
type InputDevice struct {
	Kind string
}

// Console is the guest side of a virtio serial console.
// The guest reads its input from Read and writes its output to Write.
type Console struct {
	Read  *os.File
	Write *os.File
}

// DevicePlan is the hypervisor-neutral description of one VM launch.
// It is built fresh for every launch and treated as immutable afterwards.
type DevicePlan struct {
	CPUs     int
	MemoryMB int

	Boot BootLoader

	// Storage is attached in order; the first entry is the guest's /dev/vda.
	Storage []StorageDevice

	// Network is nil when networking is disabled.
	Network *NetworkDevice

	// Share is nil when no directories are shared.
	Share *DirectoryShare

	Graphics        []GraphicsDevice
	Keyboards       []InputDevice
	PointingDevices []InputDevice

	// Console is nil when no serial console is attached.
	Console *Console
}

// Validate performs the hypervisor-independent checks of a plan.
func (p *DevicePlan) Validate() error {
	if p.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if p.MemoryMB <= 0 {
		return ErrInvalidMemory
	}
	switch b := p.Boot.(type) {
	case *LinuxBoot:
		if b.Kernel == "" {
			return ErrMissingKernel
		}
	case *EFIBoot:
		if b.VariableStore == "" {
			return ErrMissingVariableStore
		}
	default:
		return ErrMissingBootLoader
	}
	if p.Network != nil && p.Network.Mode != "nat" {
		return ErrInvalidNetworkMode
	}
	return nil
}
