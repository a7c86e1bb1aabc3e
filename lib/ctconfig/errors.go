package ctconfig

import "errors"

var (
	// ErrUnknownKey is returned when a key is not in the recognized vocabulary
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrInvalidValue is returned when a value fails its key's validator
	ErrInvalidValue = errors.New("invalid configuration value")

	// ErrDuplicateKey is returned when a scalar key is defined twice in one section
	ErrDuplicateKey = errors.New("duplicate configuration key")

	// ErrDuplicateName is returned when two snapshot sections share a name
	ErrDuplicateName = errors.New("duplicate snapshot name")

	// ErrInconsistent is returned when a Config holds a value the codec cannot emit
	ErrInconsistent = errors.New("inconsistent configuration state")
)
