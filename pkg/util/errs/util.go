// Package errs holds the error kinds shared by the host packages
// and the process-wide reporter for faults raised inside plugin code.
package errs

import "errors"

var (
	ErrMissingConfig = errors.New("config is missing")

	// ErrPolicyViolation is returned when a plugin touches a schema field
	// that is blocked while the server follows the game's hosting guidelines.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrResolution is returned when a native lookup (schema offset,
	// signature, patch) could not be resolved.
	ErrResolution = errors.New("resolution failed")
	// ErrChainRebuild wraps faults raised while rebuilding a hook chain.
	ErrChainRebuild = errors.New("hook chain rebuild failed")
	// ErrCallback wraps faults raised by plugin callbacks.
	ErrCallback = errors.New("callback failed")
	ErrArgument = errors.New("invalid argument")
	// ErrTypeMismatch is returned when an address was already bound
	// to a function of a different signature.
	ErrTypeMismatch = errors.New("type mismatch")
)
