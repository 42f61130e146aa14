package services

import "errors"

// Error taxonomy shared by the stores, the hub and the gateway. Handlers
// match these with errors.Is and map them to HTTP status codes or protocol
// error events.
var (
	// ErrValidation: missing or malformed fields. Rejected synchronously,
	// no state change, no fan-out.
	ErrValidation = errors.New("validation failed")

	// ErrNotAuthorized: caller is not a member of the room. The caller gets
	// a generic denial; room contents and membership are never leaked.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound: room, message or user does not exist.
	ErrNotFound = errors.New("not found")
)
