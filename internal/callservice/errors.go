package callservice

import "errors"

// Errors returned while decoding inbound messages.
var (
	// ErrInvalidPayload is returned when a payload is not a JSON object
	// of the expected shape.
	ErrInvalidPayload = errors.New("callservice: invalid payload")

	// ErrMissingField is returned when domain or service is absent or empty.
	ErrMissingField = errors.New("callservice: missing required field")

	// ErrClosed is returned for messages that arrive after Close.
	ErrClosed = errors.New("callservice: bridge closed")
)
