package integration

import "errors"

// Domain errors for the integration package.
var (
	// ErrEntryNotFound is returned when an entry ID does not exist.
	ErrEntryNotFound = errors.New("integration: entry not found")

	// ErrEntryExists is returned when adding an entry whose ID is taken.
	ErrEntryExists = errors.New("integration: entry already exists")

	// ErrEntryDisabled is returned when setting up a disabled entry.
	ErrEntryDisabled = errors.New("integration: entry disabled")

	// ErrInvalidEntry is returned when an entry has no domain.
	ErrInvalidEntry = errors.New("integration: invalid entry")

	// ErrInvalidState is returned when an operation is not allowed in the
	// entry's current state.
	ErrInvalidState = errors.New("integration: invalid state for operation")

	// ErrNotReady is returned by a SetupFunc whose dependency is not up yet.
	// The Manager retries such failures with backoff.
	ErrNotReady = errors.New("integration: not ready")
)
