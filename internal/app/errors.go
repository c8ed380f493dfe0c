package service

import "errors"

var (
	// ErrDeadlinePassed is returned when a prediction arrives after the deadline.
	ErrDeadlinePassed = errors.New("elections closed: deadline passed")
	// ErrEmailRequired is returned when a lookup has no email.
	ErrEmailRequired = errors.New("email required")
	// ErrNilInput is returned for nil payloads.
	ErrNilInput = errors.New("nil input")
	// ErrSyncDisabled is returned by RetrySync when no sink is configured.
	ErrSyncDisabled = errors.New("sync disabled")
	// ErrNotStarted is returned by operations that need Start to have run.
	ErrNotStarted = errors.New("service not started")
)
