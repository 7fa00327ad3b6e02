package config

import (
	"fmt"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/javanstorm/vzlinux/internal/profile"
	"github.com/javanstorm/vzlinux/pkg/hypervisor"
)

// ValidationError represents a profile issue found before planning.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = warning only
}

// ValidateProfile checks a profile against driver capabilities.
// The plan builder remains the authority; these are early, friendlier
// diagnostics.
func ValidateProfile(p *profile.Profile, caps hypervisor.Capabilities) []ValidationError {
	var errs []ValidationError

	if len(p.SharedDirectories) > 0 && !caps.SharedDirs {
		errs = append(errs, ValidationError{
			Field:   "shared",
			Message: "Shared directories are not supported by this hypervisor",
			Fatal:   true,
		})
	}

	if p.NetworkEnabled && !caps.Networking {
		errs = append(errs, ValidationError{
			Field:   "network",
			Message: "Networking is not supported by this hypervisor",
			Fatal:   true,
		})
	}

	if p.UEFIEnabled && !caps.EFIBoot {
		errs = append(errs, ValidationError{
			Field:   "uefi",
			Message: "UEFI boot is not supported by this hypervisor",
			Fatal:   true,
		})
	}

	if len(p.DiskPaths) == 0 {
		errs = append(errs, ValidationError{
			Field:   "storage",
			Message: "No storage devices; the guest must run from its initrd",
		})
	}

	if p.UEFIEnabled && p.InitrdPath != "" && p.InitrdPath != p.Resolve(profile.DefaultInitrd) {
		errs = append(errs, ValidationError{
			Field:   "initrd",
			Message: "initrd is ignored in UEFI mode",
		})
	}

	return errs
}

// ErrUnsupportedFeature is wrapped by Fatal.
var ErrUnsupportedFeature = errors.New("feature not supported by this hypervisor")

// Fatal returns an error naming the first issue that prevents the launch,
// or nil if there is none.
func Fatal(errs []ValidationError) error {
	for _, e := range errs {
		if e.Fatal {
			return errors.Errorf("%s: %w", e.Field, ErrUnsupportedFeature)
		}
	}
	return nil
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Profile warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
