package model

import "errors"

var (
	// ErrStudentNotFound is returned by FindOne when no record matches the filter.
	ErrStudentNotFound = errors.New("student not found")
	// ErrStoreUnavailable wraps backing-store failures caused by connectivity (network,
	// timeouts, server selection). The original driver error stays in the chain.
	ErrStoreUnavailable = errors.New("student store unavailable")
	// ErrInvalidFilter is returned for filters the store cannot express, such as a malformed id.
	ErrInvalidFilter = errors.New("invalid student filter")
	// ErrInvalidStudent is returned when a nil or otherwise unusable record reaches a store.
	ErrInvalidStudent = errors.New("invalid student record")
)
