// Package storage provides database connections and repository
// implementations for the projected aggregates and audit records.
package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the
// projection.
var ErrNotFound = errors.New("entity not found")

// ErrIllegalTransition is returned when a listing write would move an
// already-terminal listing into another state.
var ErrIllegalTransition = errors.New("illegal listing state transition")
