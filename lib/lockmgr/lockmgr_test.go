package lockmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	ownerID, err := lm.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(ownerID) != bitLength/8 {
		t.Errorf("Expected owner id of %d bytes, got %d", bitLength/8, len(ownerID))
	}

	holder, held := lm.Holder("k")
	if !held || string(holder) != string(ownerID) {
		t.Errorf("Holder should report the acquiring owner")
	}

	if ok, err := lm.Release("k", []byte("wrong")); ok || !errors.Is(err, ErrNotOwner) {
		t.Errorf("Release with wrong owner should fail, got %v, %v", ok, err)
	}
	if ok, err := lm.Release("k", ownerID); !ok || err != nil {
		t.Errorf("Release failed: %v, %v", ok, err)
	}
	if _, held := lm.Holder("k"); held {
		t.Errorf("Lock should be free after release")
	}
	if ok, _ := lm.Release("never-locked", nil); !ok {
		t.Errorf("Releasing an unknown lock should succeed")
	}
}

func TestTryAcquire(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	ownerID, ok, err := lm.TryAcquire(ctx, "k")
	if !ok || err != nil {
		t.Fatalf("TryAcquire on a free lock failed: %v, %v", ok, err)
	}
	if _, ok, _ := lm.TryAcquire(ctx, "k"); ok {
		t.Errorf("TryAcquire on a held lock should fail")
	}
	if _, ok, _ := lm.TryAcquire(ctx, "other"); !ok {
		t.Errorf("Locks with different keys must be independent")
	}
	_, _ = lm.Release("k", ownerID)
	if _, ok, _ := lm.TryAcquire(ctx, "k"); !ok {
		t.Errorf("TryAcquire after release should succeed")
	}
}

func TestReentrant(t *testing.T) {
	lm := NewLockManager()

	ownerID, err := lm.Acquire(context.Background(), "write")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	ctx := WithOwner(context.Background(), "write", ownerID)

	if _, err := lm.Acquire(ctx, "write"); !errors.Is(err, ErrReentrant) {
		t.Errorf("Expected ErrReentrant, got %v", err)
	}
	if _, _, err := lm.TryAcquire(ctx, "write"); !errors.Is(err, ErrReentrant) {
		t.Errorf("Expected ErrReentrant from TryAcquire, got %v", err)
	}
	// an owner id for another key does not count
	if _, ok, err := lm.TryAcquire(ctx, "other"); !ok || err != nil {
		t.Errorf("Owner of another key should acquire freely: %v, %v", ok, err)
	}
}

func TestAcquireBlocksAndCancels(t *testing.T) {
	lm := NewLockManager()
	ownerID, _ := lm.Acquire(context.Background(), "k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := lm.Acquire(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	acquired := make(chan []byte)
	go func() {
		id, err := lm.Acquire(context.Background(), "k")
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		acquired <- id
	}()

	select {
	case <-acquired:
		t.Fatalf("Second owner acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}

	_, _ = lm.Release("k", ownerID)
	select {
	case id := <-acquired:
		_, _ = lm.Release("k", id)
	case <-time.After(time.Second):
		t.Fatalf("Waiter was not woken by release")
	}
}

func TestMutualExclusion(t *testing.T) {
	lm := NewLockManager()
	var inside atomic.Int32
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := lm.Acquire(context.Background(), "k")
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders inside the critical section", n)
				}
				inside.Add(-1)
				_, _ = lm.Release("k", id)
			}
		}()
	}
	wg.Wait()
}
