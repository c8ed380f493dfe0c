package repository

import "errors"

// Sentinel errors for the stores.
var (
	ErrNotFound     = errors.New("prediction not found")
	ErrInvalidEmail = errors.New("email is required")
	ErrNilInput     = errors.New("nil input")
	ErrCorrupt      = errors.New("stored record could not be decoded")
)
