// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish a missing row from a store fault.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. It replaces
// sql.ErrNoRows at the repository boundary.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a unique key that the
// caller is expected to handle (e.g. a concurrent first insert).
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when a user with the same email already exists.
var ErrEmailExists = errors.New("email already exists")
