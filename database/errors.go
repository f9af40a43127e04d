package database

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrProtectedDefault is returned when deleting the default template.
	ErrProtectedDefault = errors.New("the default template cannot be deleted")
)
