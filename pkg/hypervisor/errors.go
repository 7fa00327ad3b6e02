package hypervisor

import "gitlab.com/tozd/go/errors"

// Configuration errors
var (
	ErrInvalidCPUCount      = errors.New("hypervisor: CPU count must be at least 1")
	ErrInvalidMemory        = errors.New("hypervisor: memory must be greater than 0")
	ErrMissingBootLoader    = errors.New("hypervisor: boot loader is required")
	ErrMissingKernel        = errors.New("hypervisor: kernel path is required")
	ErrMissingVariableStore = errors.New("hypervisor: EFI variable store path is required")
	ErrInvalidNetworkMode   = errors.New("hypervisor: network mode must be 'nat'")
	ErrInvalidConfiguration = errors.New("hypervisor: configuration rejected")
)

// Runtime errors
var (
	ErrAlreadyStarted = errors.New("hypervisor: VM already started")
	ErrNotRunning     = errors.New("hypervisor: VM is not running")
	ErrGuestFailed    = errors.New("hypervisor: virtual machine entered error state")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
	ErrDisplayUnsupported  = errors.New("hypervisor: machine cannot show a display")
)
