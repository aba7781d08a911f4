package mvstore

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/lockmgr"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
)

// --------------------------------------------------------------------------
// Write transactions
// --------------------------------------------------------------------------

type txnKind int

const (
	txnLocal   txnKind = iota // local mutations, committed as a local header commit
	txnForeign                // PutCommitData, committed as a non-header foreign commit
	txnMerge                  // MergeSyncCommit, committed as a two parent header commit
)

// WriteTxn is the single open write transaction of a Store. All rows are
// written at Version. Nothing is visible to readers before Commit returns.
//
// Thread-safety: a WriteTxn must only be used by one goroutine.
type WriteTxn struct {
	s       *Store
	ctx     context.Context
	txn     db.Txn
	kind    txnKind
	version uint64
	ownerID []byte
	changed bool
	maxTs   uint64
	pending *pendingNode
	done    bool
}

// StartTransaction opens the write transaction. It blocks while another
// write transaction is open. A ctx returned by WriteTxn.Context of a still
// open transaction is rejected with Busy instead of deadlocking.
func (s *Store) StartTransaction(ctx context.Context) (*WriteTxn, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ownerID, err := s.locks.Acquire(ctx, writeLockKey)
	if err != nil {
		return nil, busyErr(err)
	}
	return s.begin(ctx, ownerID, txnLocal)
}

// TryStartTransaction is StartTransaction but returns Busy instead of
// waiting for the open write transaction
func (s *Store) TryStartTransaction(ctx context.Context) (*WriteTxn, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ownerID, ok, err := s.locks.TryAcquire(ctx, writeLockKey)
	if err != nil {
		return nil, busyErr(err)
	}
	if !ok {
		return nil, store.NewError(store.RetCBusy, "a write transaction is already open")
	}
	return s.begin(ctx, ownerID, txnLocal)
}

func busyErr(err error) error {
	if errors.Is(err, lockmgr.ErrReentrant) {
		return store.NewError(store.RetCBusy, "write transaction already open in this context")
	}
	return store.Errorf(store.RetCBusy, "acquire write slot: %v", err)
}

func (s *Store) begin(ctx context.Context, ownerID []byte, kind txnKind) (*WriteTxn, error) {
	s.vacuum.Pause()
	txn, err := s.engine.Begin(true)
	if err != nil {
		s.vacuum.Continue(false)
		s.releaseWriteSlot(ownerID)
		return nil, s.fail(err)
	}
	return &WriteTxn{
		s:       s,
		ctx:     lockmgr.WithOwner(ctx, writeLockKey, ownerID),
		txn:     txn,
		kind:    kind,
		version: s.maxCommitVersion.Load() + 1,
		ownerID: ownerID,
	}, nil
}

func (s *Store) releaseWriteSlot(ownerID []byte) {
	if _, err := s.locks.Release(writeLockKey, ownerID); err != nil {
		log.Errorf("release write slot: %v", err)
	}
}

// Context returns a context that identifies this transaction as the holder
// of the write slot
func (t *WriteTxn) Context() context.Context { return t.ctx }

// Version returns the version the transaction writes at
func (t *WriteTxn) Version() uint64 { return t.version }

func (t *WriteTxn) checkOpen() error {
	if t.done {
		return store.NewError(store.RetCInternalError, "transaction already finished")
	}
	return nil
}

func validateKey(key []byte) error {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return store.Errorf(store.RetCInvalidArgs, "key length %d out of range [1, %d]", len(key), MaxKeyLength)
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) > MaxValueLength {
		return store.Errorf(store.RetCInvalidArgs, "value length %d exceeds %d", len(value), MaxValueLength)
	}
	return nil
}

// addRow writes a local row with a fresh timestamp
func (t *WriteTxn) addRow(key []byte, h internal.Hash, flag OperFlag, value []byte) error {
	obj, err := t.s.slices.Store(t.txn, value)
	if err != nil {
		return t.s.fail(err)
	}
	ts := t.s.clock.Next()
	rec := &internal.Record{
		Key:           key,
		HashKey:       h,
		Value:         obj,
		Flag:          flag | internal.FlagLocal,
		Version:       t.version,
		Timestamp:     ts,
		OrigTimestamp: ts,
		Seq:           t.s.seq.Add(1),
	}
	if err := t.s.data.AddRecord(t.txn, rec); err != nil {
		return t.s.fail(err)
	}
	t.changed = true
	t.maxTs = max(t.maxTs, ts)
	return nil
}

// Put writes key=value
func (t *WriteTxn) Put(key, value []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	t.s.metrics.valueSizes.AddSample(len(value))
	return t.addRow(key, hashKey(key), internal.FlagAdd, value)
}

// Delete writes a tombstone for key. The key must exist.
func (t *WriteTxn) Delete(key []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	h := hashKey(key)
	rec, err := t.s.data.visible(t.txn, h, t.version)
	if err != nil {
		return t.s.fail(err)
	}
	if rec == nil || rec.Flag.Kind() != internal.FlagAdd {
		return store.Errorf(store.RetCNotFound, "key %q not found", key)
	}
	return t.addRow(key, h, internal.FlagDel, nil)
}

// Clear removes every key
func (t *WriteTxn) Clear() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.addRow(internal.ClearKey, internal.ClearHashKey, internal.FlagClear, nil)
}

// Get reads key including the changes of this transaction
func (t *WriteTxn) Get(key []byte) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	value, err := t.s.data.Get(t.txn, key, t.version)
	return value, t.s.fail(err)
}

// Entries lists the pairs with the given key prefix including the changes of
// this transaction
func (t *WriteTxn) Entries(prefix []byte) ([]store.Entry, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	entries, err := t.s.data.GetEntries(t.txn, prefix, t.version)
	return entries, t.s.fail(err)
}

// Rollback discards the transaction. It is a no-op on a finished
// transaction.
func (t *WriteTxn) Rollback() {
	if t.done {
		return
	}
	t.txn.Rollback()
	t.finish(false)
}

func (t *WriteTxn) finish(relaunch bool) {
	t.done = true
	t.s.vacuum.Continue(relaunch)
	t.s.releaseWriteSlot(t.ownerID)
}

// Commit makes the changes visible and returns the new commit node. A local
// transaction without changes is rolled back and returns a nil commit.
func (t *WriteTxn) Commit() (*Commit, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if !t.changed && t.kind == txnLocal {
		t.Rollback()
		return nil, nil
	}

	start := time.Now()
	s := t.s
	ts := s.clock.Next()
	node, err := s.allocNode(t, ts)
	if err != nil {
		t.Rollback()
		return nil, err
	}
	if err := s.commitWrite(t, node, ts); err != nil {
		t.finish(false)
		return nil, err
	}

	s.metrics.commitDone(start)
	switch t.kind {
	case txnMerge:
		mergesTotal.Inc()
	case txnForeign:
		foreignTotal.Inc()
	}
	if t.kind != txnForeign {
		s.observers.notify(node.commit)
	}
	t.finish(true)
	return node.commit, nil
}

// pendingNode carries the commit node of a foreign or merge transaction
// until Commit. covers lists the foreign commits whose pending markers are
// dropped when the node becomes visible.
type pendingNode struct {
	commit   *Commit
	isHeader bool
	covers   [][]byte
}

func (s *Store) allocNode(t *WriteTxn, ts uint64) (*pendingNode, error) {
	if t.pending != nil {
		t.pending.commit.Version = t.version
		if t.pending.commit.Timestamp == 0 {
			t.pending.commit.Timestamp = ts
		}
		return t.pending, nil
	}
	c, err := s.versions.AllocCommit(t.txn, t.version, ts)
	if err != nil {
		return nil, s.fail(err)
	}
	return &pendingNode{commit: c, isHeader: true}, nil
}

// commitWrite runs the two commit phases. On error every written row and
// node of the version is gone again.
func (s *Store) commitWrite(t *WriteTxn, node *pendingNode, ts uint64) error {
	// phase one: the rows
	if err := t.txn.Set(internal.MetaKey(metaSeq), internal.EncodeU64(s.seq.Load())); err != nil {
		t.txn.Rollback()
		return s.fail(err)
	}
	if err := t.txn.Set(internal.MetaKey(metaTimestamp), internal.EncodeU64(max(ts, t.maxTs))); err != nil {
		t.txn.Rollback()
		return s.fail(err)
	}
	if err := t.txn.Commit(); err != nil {
		return s.fail(err)
	}

	// the commit node; a foreign node is pending until a merge covers it
	err := s.update(func(txn db.Txn) error {
		if err := s.versions.AddCommit(txn, node.commit, node.isHeader); err != nil {
			return err
		}
		if !node.commit.Local {
			return s.versions.markPending(txn, node.commit.ID)
		}
		return nil
	})
	if err != nil {
		log.Errorf("write commit node of version %d: %v", t.version, err)
		return errors.Join(err, s.RollbackWritePhaseOne(t.version))
	}

	// phase two: flip visibility
	err = s.update(func(txn db.Txn) error {
		if err := s.versions.clearPending(txn, node.covers...); err != nil {
			return err
		}
		return txn.Set(internal.MetaKey(metaCommitted), internal.EncodeU64(t.version))
	})
	if err != nil {
		log.Errorf("persist committed version %d: %v", t.version, err)
		var undo error
		if node.isHeader {
			undo = s.update(func(txn db.Txn) error { return s.versions.RemoveCommit(txn, node.commit.ID) })
		} else {
			undo = s.update(func(txn db.Txn) error {
				if err := s.versions.clearPending(txn, node.commit.ID); err != nil {
					return err
				}
				return s.versions.deleteCommit(txn, node.commit.ID)
			})
		}
		return errors.Join(err, undo, s.RollbackWritePhaseOne(t.version))
	}

	s.maxCommitVersion.Store(t.version)
	s.clock.Observe(max(ts, t.maxTs))
	return nil
}

// RollbackWritePhaseOne removes the rows written at version and releases
// their slices
func (s *Store) RollbackWritePhaseOne(version uint64) error {
	rollbacksTotal.Inc()
	var n int
	err := s.update(func(txn db.Txn) (err error) {
		n, err = s.data.DeleteVersion(txn, version)
		return err
	})
	if err != nil {
		log.Errorf("rollback of version %d failed: %v", version, err)
		return err
	}
	log.Warningf("rolled back %d rows of version %d", n, version)
	return nil
}
