package network

import "errors"

var (
	// ErrUnsupportedType is returned for interface types other than veth.
	ErrUnsupportedType = errors.New("unsupported interface type")

	// ErrNotRunning is returned when a live operation needs a container
	// process that does not exist.
	ErrNotRunning = errors.New("container is not running")
)
