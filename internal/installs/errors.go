package installs

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownDepError reports a dependency that the install set does not allow.
type UnknownDepError struct {
	Port string // the dependent
	Dep  string
	Kind string // "build" or "resolution"
}

func (e *UnknownDepError) Error() string {
	return fmt.Sprintf("port %s: %s dependency %q is not in allowed build deps", e.Port, e.Kind, e.Dep)
}

// DuplicateInstallError reports two user installs resolving to one install id.
type DuplicateInstallError struct {
	InstallID string
	Port      string
	First     int // index in the install set
	Second    int
}

func (e *DuplicateInstallError) Error() string {
	return fmt.Sprintf("duplicate install of %s: entries %d and %d both resolve to %s", e.Port, e.First, e.Second, e.InstallID)
}

// VersionNotFoundError reports a requested version the port does not list.
type VersionNotFoundError struct {
	Port      string
	Requested string
	Available []string
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("port %s: version %q not found; available versions: [%s]",
		e.Port, e.Requested, strings.Join(e.Available, ", "))
}

// UnsupportedPlatformError reports a port that cannot run on the host.
type UnsupportedPlatformError struct {
	Port      string
	Platform  string
	Supported []string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("port %s does not support platform %s (supported: %s)",
		e.Port, e.Platform, strings.Join(e.Supported, ", "))
}

// IsVersionNotFound returns true if err wraps a *VersionNotFoundError.
func IsVersionNotFound(err error) bool {
	var ve *VersionNotFoundError
	return errors.As(err, &ve)
}

// IsDuplicateInstall returns true if err wraps a *DuplicateInstallError.
func IsDuplicateInstall(err error) bool {
	var de *DuplicateInstallError
	return errors.As(err, &de)
}

// IsUnknownDep returns true if err wraps an *UnknownDepError.
func IsUnknownDep(err error) bool {
	var ue *UnknownDepError
	return errors.As(err, &ue)
}
