package history

import "errors"

var (
	// ErrInvalidFilter is returned for filters that cannot be applied.
	ErrInvalidFilter = errors.New("history: invalid filter")
)
