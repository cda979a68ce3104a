package storage

import "errors"

// Storage errors shared by ledger and journal backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a journal entry whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupt is returned when persisted ledger data cannot be decoded.
	ErrCorrupt = errors.New("corrupt ledger data")
)
