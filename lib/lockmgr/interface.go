package lockmgr

import (
	"context"
	"errors"
)

var (
	// ErrReentrant is returned when the caller's context already owns the lock
	ErrReentrant = errors.New("lockmgr: lock already held by this owner")
	// ErrNotOwner is returned when a release is attempted with the wrong owner id
	ErrNotOwner = errors.New("lockmgr: not the lock owner")
)

// ILockManager hands out named, exclusive, owner-tagged locks inside one
// process.
type ILockManager interface {
	// Acquire blocks until the lock for key is free and takes it. The returned
	// owner id must be passed to Release. If ctx already carries the owner id
	// of the current holder (see WithOwner), ErrReentrant is returned
	// immediately instead of deadlocking. ctx cancellation aborts the wait.
	Acquire(ctx context.Context, key string) (ownerID []byte, err error)

	// TryAcquire takes the lock only if it is free right now.
	TryAcquire(ctx context.Context, key string) (ownerID []byte, ok bool, err error)

	// Release frees the lock for key. The owner id must match the holder.
	// Releasing a lock that is not held returns true.
	Release(key string, ownerID []byte) (ok bool, err error)

	// Holder returns the owner id of the current holder of key
	Holder(key string) (ownerID []byte, held bool)
}
