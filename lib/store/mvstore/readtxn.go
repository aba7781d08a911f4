package mvstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
)

// ReadTxn reads the store as of one version. The version is pinned for the
// lifetime of the transaction so vacuum keeps everything it can observe.
// Commits made after StartRead are not visible.
//
// Thread-safety: safe for concurrent use. Release must be called exactly
// once; later calls are no-ops.
type ReadTxn struct {
	s        *Store
	version  uint64
	pin      uint64
	released atomic.Bool
}

// StartRead takes a slot of the read pool, blocking until one is free or
// ctx is done, and pins the newest committed version
func (s *Store) StartRead(ctx context.Context) (*ReadTxn, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := s.reads.Acquire(ctx, 1); err != nil {
		return nil, store.Errorf(store.RetCBusy, "read pool: %v", err)
	}
	s.metrics.readTxnWait.UpdateSince(start)

	pin, version := s.pins.PinLatest(&s.maxCommitVersion)
	return &ReadTxn{s: s, version: version, pin: pin}, nil
}

// StartReadAt is StartRead anchored at the version of commit id. History
// below the newest version vacuum already compacted cannot be read any
// more; such a commit is NotFound.
func (s *Store) StartReadAt(ctx context.Context, id []byte) (*ReadTxn, error) {
	c, err := s.GetCommit(id)
	if err != nil {
		return nil, err
	}
	if err := s.reads.Acquire(ctx, 1); err != nil {
		return nil, store.Errorf(store.RetCBusy, "read pool: %v", err)
	}

	s.vacuum.Pause()
	defer s.vacuum.Continue(false)
	if c.Version < s.trimmedTo.Load() {
		s.reads.Release(1)
		return nil, store.Errorf(store.RetCNotFound, "version %d of commit %x was already compacted", c.Version, id)
	}
	pin := s.pins.Add(c.Version)
	return &ReadTxn{s: s, version: c.Version, pin: pin}, nil
}

// Version returns the version the transaction reads at
func (r *ReadTxn) Version() uint64 { return r.version }

func (r *ReadTxn) view(fn func(txn db.Txn) error) error {
	if r.released.Load() {
		return store.NewError(store.RetCInternalError, "read transaction already released")
	}
	if err := r.s.check(); err != nil {
		return err
	}
	return r.s.view(fn)
}

// Get returns the value of key. A missing key is NotFound.
func (r *ReadTxn) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := r.view(func(txn db.Txn) (err error) {
		value, err = r.s.data.Get(txn, key, r.version)
		return err
	})
	return value, err
}

// Entries returns the pairs whose key starts with prefix, ordered by key
func (r *ReadTxn) Entries(prefix []byte) ([]store.Entry, error) {
	var out []store.Entry
	err := r.view(func(txn db.Txn) (err error) {
		out, err = r.s.data.GetEntries(txn, prefix, r.version)
		return err
	})
	return out, err
}

// Release returns the slot to the pool and drops the pin
func (r *ReadTxn) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.s.pins.Remove(r.pin)
	r.s.reads.Release(1)
}
