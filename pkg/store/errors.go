package store

import "errors"

var (
	// ErrDuplicateID is returned when inserting a document whose id exists
	ErrDuplicateID = errors.New("document id already exists")

	// ErrNotFound is returned when a document is not found
	ErrNotFound = errors.New("document not found")

	// ErrStoreClosed is returned when operating on a closed store
	ErrStoreClosed = errors.New("store is closed")
)
