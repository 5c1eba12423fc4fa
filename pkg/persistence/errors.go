package persistence

import "errors"

var (
	// ErrEntityNotFound is returned when an entity is not found in the repository.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrTransactionFailed wraps the cause of an aborted transaction.
	ErrTransactionFailed = errors.New("transaction failed")
)
