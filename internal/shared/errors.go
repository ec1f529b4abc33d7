package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated occurs when no actor is attached to the request.
	ErrUnauthenticated = errors.New("unauthenticated")
)
