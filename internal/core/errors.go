package core

import "errors"

// Control-plane error taxonomy. Adapters map these to transport
// status codes; everything else is treated as internal.
var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrDraining          = errors.New("instance draining")
	ErrWorkerUnavailable = errors.New("no healthy worker")
	ErrEngine            = errors.New("media engine failure")
)
