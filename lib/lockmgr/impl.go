package lockmgr

import (
	"bytes"
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// entry is the state of one named lock. slot has capacity one: a value in
// the channel means the lock is held.
type entry struct {
	slot  chan struct{}
	mu    sync.Mutex
	owner []byte
}

type lockMgrImpl struct {
	locks *xsync.MapOf[string, *entry]
}

// NewLockManager creates an empty lock manager
func NewLockManager() ILockManager {
	return &lockMgrImpl{locks: xsync.NewMapOf[string, *entry]()}
}

func (lm *lockMgrImpl) entry(key string) *entry {
	e, _ := lm.locks.LoadOrCompute(key, func() *entry {
		return &entry{slot: make(chan struct{}, 1)}
	})
	return e
}

func (lm *lockMgrImpl) Acquire(ctx context.Context, key string) ([]byte, error) {
	e := lm.entry(key)
	if e.heldBy(OwnerFrom(ctx, key)) {
		return nil, ErrReentrant
	}

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.take()
}

func (lm *lockMgrImpl) TryAcquire(ctx context.Context, key string) ([]byte, bool, error) {
	e := lm.entry(key)
	if e.heldBy(OwnerFrom(ctx, key)) {
		return nil, false, ErrReentrant
	}

	select {
	case e.slot <- struct{}{}:
	default:
		return nil, false, nil
	}
	ownerID, err := e.take()
	if err != nil {
		return nil, false, err
	}
	return ownerID, true, nil
}

func (lm *lockMgrImpl) Release(key string, ownerID []byte) (bool, error) {
	e, ok := lm.locks.Load(key)
	if !ok {
		return true, nil
	}

	e.mu.Lock()
	if e.owner == nil {
		e.mu.Unlock()
		return true, nil
	}
	if !bytes.Equal(e.owner, ownerID) {
		e.mu.Unlock()
		return false, ErrNotOwner
	}
	e.owner = nil
	e.mu.Unlock()

	<-e.slot
	return true, nil
}

func (lm *lockMgrImpl) Holder(key string) ([]byte, bool) {
	e, ok := lm.locks.Load(key)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner == nil {
		return nil, false
	}
	return append([]byte(nil), e.owner...), true
}

// take records a fresh owner id after the slot was acquired
func (e *entry) take() ([]byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		<-e.slot
		return nil, err
	}
	e.mu.Lock()
	e.owner = ownerID
	e.mu.Unlock()
	return append([]byte(nil), ownerID...), nil
}

func (e *entry) heldBy(ownerID []byte) bool {
	if ownerID == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner != nil && bytes.Equal(e.owner, ownerID)
}
