package registry

import "errors"

// Domain errors for the registry package.
var (
	ErrEntityNotFound = errors.New("registry: entity not found")
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidEntityID is returned for ids that are not "<domain>.<object_id>".
	ErrInvalidEntityID = errors.New("registry: invalid entity id")

	ErrInvalidDevice = errors.New("registry: invalid device")
)
