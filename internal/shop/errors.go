package shop

import "errors"

var (
	// ErrNotFound is returned by exact-match lookups that match nothing.
	ErrNotFound = errors.New("record not found")

	// ErrMultipleFound is returned by exact-match lookups that match more
	// than one record.
	ErrMultipleFound = errors.New("multiple records found")

	// ErrInvalidOrdering is returned for a ListOptions.Ordering naming a
	// field that cannot be sorted on.
	ErrInvalidOrdering = errors.New("invalid ordering field")
)
