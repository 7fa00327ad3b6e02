package plan

import "gitlab.com/tozd/go/errors"

var ErrIsDirectory = errors.New("is a directory")

// ConfigurationError reports a plan the hypervisor would not accept.
type ConfigurationError struct {
	// Field names the profile field at fault, if known.
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Err.Error()
	}
	return "invalid configuration (" + e.Field + "): " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// BootStoreError reports a failure to create the EFI variable store.
type BootStoreError struct {
	Path string
	Err  error
}

func (e *BootStoreError) Error() string {
	return "create EFI variable store " + e.Path + ": " + e.Err.Error()
}

func (e *BootStoreError) Unwrap() error {
	return e.Err
}
