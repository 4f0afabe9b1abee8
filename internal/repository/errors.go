// Package repository implements the entity stores the booking service runs
// on: a PostgreSQL store using pgx directly (no ORM) and an in-memory store
// with the same locking contract.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique key.
var ErrDuplicate = errors.New("duplicate key")

// ErrConstraint is returned when a write breaks a foreign key or check constraint.
var ErrConstraint = errors.New("constraint violation")

// ErrStoreUnavailable is returned when the store could not complete the
// transaction: lost connection, deadlock, serialization failure, lock
// timeout or an expired context. The whole transaction is rolled back and
// may be replayed.
var ErrStoreUnavailable = errors.New("store unavailable")
