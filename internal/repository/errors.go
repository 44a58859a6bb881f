package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyConsumed indicates a single-use record was used or revoked before this call.
	ErrAlreadyConsumed = errors.New("repository: already consumed")
	// ErrNoTransaction signals a unit-of-work call outside Begin.
	ErrNoTransaction = errors.New("repository: no active transaction")
)
