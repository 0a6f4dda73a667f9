package postgres

import "errors"

var (
	// ErrNotFound is returned when a requested resource does not exist (or is
	// soft-deleted, or belongs to another tenant — callers cannot tell apart).
	ErrNotFound = errors.New("faqforge/postgres: resource not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("faqforge/postgres: duplicate resource")
	// ErrConflict is returned when a compare-and-set update matched no rows,
	// i.e. the row is not in an allowed prior state.
	ErrConflict = errors.New("faqforge/postgres: state conflict")
)
