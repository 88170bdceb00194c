// Package utils provides shared helpers for the btide node.
package utils

import "fmt"

// Error is a structured btide error: the operation that failed, the entity
// it involved (a peer address, package ident, or file path), and the
// underlying cause. Callers branch on Entity and the wrapped sentinel via
// errors.Is rather than string-matching Error().
type Error struct {
	Op     string
	Entity string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap provides compatibility with errors.Unwrap() and errors.Is().
func (e *Error) Unwrap() error {
	return e.Cause
}

// WrapError annotates a failure with the operation that hit it.
func WrapError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Cause: cause}
}

// WrapEntityError annotates a failure with the operation and the peer
// address, package ident, or path it concerned.
func WrapEntityError(op, entity string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Entity: entity, Cause: cause}
}
