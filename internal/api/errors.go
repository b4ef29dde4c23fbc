package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for any 401 response. By the time the
	// caller sees it the session has already been invalidated.
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
)

// StatusError carries a non-2xx response the client could not map onto a
// sentinel error.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}
