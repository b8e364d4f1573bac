package service

import "errors"

// Domain errors for the service package.
//
//	if errors.Is(err, service.ErrServiceNotFound) {
//	    // unknown domain or service
//	}
var (
	// ErrServiceNotFound is returned by Call when no handler is registered.
	ErrServiceNotFound = errors.New("service: not found")

	// ErrInvalidName is returned when a domain or service name is empty
	// or contains characters other than [a-z0-9_].
	ErrInvalidName = errors.New("service: invalid name")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("service: handler is nil")

	// ErrHandlerPanic wraps a panic recovered from a service handler.
	ErrHandlerPanic = errors.New("service: handler panicked")

	// ErrInvalidData is returned by handlers when service_data fails validation.
	ErrInvalidData = errors.New("service: invalid service data")
)
