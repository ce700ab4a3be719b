package repository

import "errors"

var (
	// ErrNotFound is returned when a ticket does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict is returned by Update when the stored row_version no
	// longer matches the expected one. Nothing was written.
	ErrVersionConflict = errors.New("repository: row version conflict")
)
