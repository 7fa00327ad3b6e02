package vm

import "gitlab.com/tozd/go/errors"

var (
	ErrAlreadyLaunched = errors.New("vm: controller already launched")
	ErrNotRunning      = errors.New("vm: virtual machine is not running")
	ErrEventsClosed    = errors.New("vm: lifecycle events closed without a final state")
	ErrKilled          = errors.New("vm: virtual machine was forced off")
	ErrNoDisplay       = errors.New("vm: plan has no graphics device")
)

// StartError reports that the hypervisor could not start the VM.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return "start virtual machine: " + e.Err.Error()
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// GuestError reports that a running guest stopped abnormally.
type GuestError struct {
	Err error
}

func (e *GuestError) Error() string {
	return "guest error: " + e.Err.Error()
}

func (e *GuestError) Unwrap() error {
	return e.Err
}
