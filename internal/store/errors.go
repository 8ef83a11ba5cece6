package store

import "errors"

// Sentinel errors returned by repository methods, matching the
// sentinel + wrapper pattern in pkg/services/errors.go.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidColumn = errors.New("invalid column for whitelisted update")
)
