package domain

import "errors"

var (
	// ErrDuplicateIdempotencyKey means a command with the same
	// Idempotency-Key has already been accepted.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateBusinessKey means a command with the same
	// (name, business key) pair already exists.
	ErrDuplicateBusinessKey = errors.New("duplicate business key")

	ErrCommandNotFound = errors.New("command not found")

	// ErrReplyTimeout is returned when the bounded synchronous wait
	// for a reply elapses. The command still completes asynchronously.
	ErrReplyTimeout = errors.New("reply wait timed out")
)
