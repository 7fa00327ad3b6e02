// Package hypervisor provides a narrow interface over a native hypervisor
// (macOS Virtualization.framework) so launch orchestration stays portable.
package hypervisor

import "context"

// Driver is the main interface for hypervisor operations.
// Platform-specific implementations satisfy this interface.
type Driver interface {
	Info() Info

	// Capabilities returns what features the driver supports.
	Capabilities() Capabilities

	// CreateVariableStore creates an EFI variable store at path,
	// replacing any store that already exists there.
	CreateVariableStore(ctx context.Context, path string) error

	// Validate checks that the hypervisor accepts the plan without creating a VM.
	Validate(ctx context.Context, plan *DevicePlan) error

	// Create instantiates a VM from the plan without starting it.
	Create(ctx context.Context, plan *DevicePlan) (Machine, error)
}

// Machine is a created virtual machine.
type Machine interface {
	// Start boots the VM without blocking. The returned channel receives
	// exactly one value, nil on success, and is then closed.
	Start(ctx context.Context) <-chan error

	// Events delivers the terminal lifecycle event of the guest.
	Events() <-chan Event

	// RequestStop asks the guest to shut down.
	RequestStop(ctx context.Context) error

	// Stop forcefully terminates the VM.
	Stop(ctx context.Context) error
}

// Display is implemented by machines that can show a graphics device in a
// native window.
type Display interface {
	// ShowDisplay runs the window's event loop and blocks until it closes.
	// The caller must be on the process's main thread.
	ShowDisplay(ctx context.Context, g GraphicsDevice) error
}

// EventKind identifies a lifecycle event.
type EventKind int

const (
	// EventGuestStopped is sent when the guest stopped normally.
	EventGuestStopped EventKind = iota
	// EventGuestError is sent when the guest stopped abnormally.
	EventGuestError
)

func (k EventKind) String() string {
	switch k {
	case EventGuestStopped:
		return "guest-stopped"
	case EventGuestError:
		return "guest-error"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification from a running machine.
type Event struct {
	Kind EventKind

	// Err carries the diagnostic for EventGuestError.
	Err error
}

// Capabilities describes driver feature support.
// Used for early validation before the plan is built.
type Capabilities struct {
	SharedDirs bool // virtio-fs
	Networking bool // virtio-net
	EFIBoot    bool // UEFI boot loader
	Graphics   bool // virtio-gpu
}

// Info contains driver metadata.
type Info struct {
	Name    string // "vz"
	Version string // Driver version
	Arch    string // "arm64" or "amd64"
}
