package vm

import (
	"gitlab.com/tozd/go/errors"

	"github.com/javanstorm/vzlinux/internal/plan"
	"github.com/javanstorm/vzlinux/internal/profile"
)

// Describe returns a one-line, user-facing account of how a launch ended.
func Describe(err error) string {
	var (
		decodeErr *profile.DecodeError
		configErr *plan.ConfigurationError
		storeErr  *plan.BootStoreError
		startErr  *StartError
		guestErr  *GuestError
	)

	switch {
	case err == nil:
		return "The guest shut down."
	case errors.As(err, &decodeErr):
		return "Could not read the profile: " + decodeErr.Error()
	case errors.As(err, &storeErr):
		return "Could not create the EFI variable store: " + storeErr.Err.Error()
	case errors.As(err, &configErr):
		return "The virtual machine configuration is invalid: " + configErr.Err.Error()
	case errors.As(err, &startErr):
		return "The virtual machine failed to start: " + startErr.Err.Error()
	case errors.Is(err, ErrKilled):
		return "The virtual machine was forced off."
	case errors.As(err, &guestErr):
		return "The guest stopped with an error: " + guestErr.Err.Error()
	default:
		return err.Error()
	}
}

// Status returns the short label front-ends show for a state.
func Status(s State) string {
	switch s {
	case StateIdle:
		return "Waiting to start the virtual machine"
	case StateLoading:
		return "Loading profile"
	case StateConfiguring:
		return "Configuring virtual machine"
	case StateStarting:
		return "Starting virtual machine"
	case StateRunning:
		return "Virtual machine running"
	case StateTerminated:
		return "Virtual machine stopped"
	default:
		return "Unknown state"
	}
}
