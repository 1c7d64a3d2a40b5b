package errors

import "errors"

var (
	ErrNotFound = errors.New("record not found")

	ErrVersionConflict = errors.New("capacity version changed since read")

	ErrInvariantViolation = errors.New("occupancy outside [0, capacity]")

	ErrStoreUnavailable = errors.New("capacity store unavailable")

	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)
