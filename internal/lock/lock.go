package lock

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a lock could not be acquired within the
	// configured wait.
	ErrTimeout = errors.New("lock wait timed out")

	// ErrNotHeld is returned by an Unlock whose lease already expired.
	ErrNotHeld = errors.New("lock was not held or already expired")

	// ErrEmptyKey rejects acquisitions without a key.
	ErrEmptyKey = errors.New("lock key cannot be empty")
)

// Unlock releases a previously acquired lock. Calling it more than once is a no-op.
type Unlock func(ctx context.Context) error

// Locker grants exclusive ownership of a key until the returned Unlock runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (Unlock, error)
}
