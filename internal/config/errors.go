package config

import (
	"errors"
	"fmt"
)

// Errors returned by store operations.
var (
	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("config store is closed")

	// ErrNotLoaded indicates a write was attempted before Load.
	ErrNotLoaded = errors.New("config store is not loaded")

	// ErrReadOnly indicates a write to a store opened WithReadOnly.
	ErrReadOnly = errors.New("config store is read-only")

	// ErrInvalidValue indicates a written value cannot be represented in
	// the document (functions, channels, cyclic data).
	ErrInvalidValue = errors.New("invalid config value")

	// ErrInvalidPath indicates an invalid dot-separated path.
	ErrInvalidPath = errors.New("invalid config path")

	// ErrServerNotFound indicates no server matched the given name.
	ErrServerNotFound = errors.New("server not found")
)

// PersistError wraps a storage failure. The in-memory document already
// reflects the attempted writes; only durability is unknown.
type PersistError struct {
	// Op is the operation that failed ("save" or "load").
	Op string
	// Writes is the number of writes in the failed batch (0 for loads).
	Writes int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	if e.Writes > 0 {
		return fmt.Sprintf("config %s failed (%d writes): %v", e.Op, e.Writes, e.Err)
	}
	return fmt.Sprintf("config %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// ValidationError describes a server record rejected at the UI boundary.
type ValidationError struct {
	// Field is the offending field ("name" or "url").
	Field string
	// Message describes the problem.
	Message string
	// Value is the invalid value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Message, e.Value)
}
