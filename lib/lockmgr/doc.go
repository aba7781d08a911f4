// Package lockmgr implements named, exclusive, in-process locks with owner
// ids. The multi-version store uses it for its single write slot.
//
// Core Functionality:
//   - Blocking acquisition with context cancellation (Acquire)
//   - Non-blocking acquisition (TryAcquire)
//   - Release that verifies the owner id
//   - Re-entry detection: a context carrying the id of the current holder
//     gets ErrReentrant instead of deadlocking on itself
//
// Implementation Approach:
//
//	Every key maps to an entry with a one-element channel. Sending into the
//	channel acquires the lock, receiving from it releases the lock, so
//	waiters block in a select that also watches ctx.Done(). The entries are
//	kept in an xsync.MapOf and created lazily.
//
//	Owner ids are random 256 bit values. A holder that wants nested calls
//	to be recognized attaches its id to the context with WithOwner; the
//	manager compares that id with the current holder before waiting.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager()
//
//	ownerID, err := locks.Acquire(ctx, "write")
//	if err != nil {
//	    return err
//	}
//	ctx = lockmgr.WithOwner(ctx, "write", ownerID)
//	defer locks.Release("write", ownerID)
//
//	// a nested Acquire(ctx, "write") now returns ErrReentrant
package lockmgr
