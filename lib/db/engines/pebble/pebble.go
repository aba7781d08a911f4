package pebble

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DBOptions configures the pebble engine
type DBOptions struct {
	Path       string // Directory of the database (ignored if InMemory)
	InMemory   bool   // Use an in-memory filesystem
	SyncWrites bool   // fsync the WAL on every commit
}

// DefaultOptions returns options for an on-disk engine at path
func DefaultOptions(path string) *DBOptions {
	return &DBOptions{Path: path, SyncWrites: true}
}

// InMemoryOptions returns options for an engine backed by vfs.NewMem
func InMemoryOptions() *DBOptions {
	return &DBOptions{InMemory: true}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

type pebbleImpl struct {
	db     *pebble.DB
	opts   DBOptions
	closed atomic.Bool
}

// NewPebbleDB opens (or creates) a pebble backed engine
func NewPebbleDB(opts *DBOptions) (db.KVEngine, error) {
	if opts == nil {
		opts = InMemoryOptions()
	}

	popts := &pebble.Options{}
	dir := opts.Path
	if opts.InMemory {
		popts.FS = vfs.NewMem()
		dir = ""
	}

	pdb, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", opts.Path, err)
	}

	log.Infof("opened pebble engine (path=%q, in-memory=%t)", opts.Path, opts.InMemory)
	return &pebbleImpl{db: pdb, opts: *opts}, nil
}

func (p *pebbleImpl) Begin(writable bool) (db.Txn, error) {
	if p.closed.Load() {
		return nil, db.ErrClosed
	}
	if writable {
		return &pebbleTxn{engine: p, batch: p.db.NewIndexedBatch(), writable: true}, nil
	}
	return &pebbleTxn{engine: p, snap: p.db.NewSnapshot()}, nil
}

func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureTransactions | db.FeaturePrefixScan | db.FeatureSnapshotRead
	if !p.opts.InMemory {
		supported |= db.FeaturePersistent
		if p.opts.SyncWrites {
			supported |= db.FeatureSyncWrites
		}
	}
	return supported&feature == feature
}

func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	var features []db.Feature
	for _, f := range []db.Feature{db.FeatureTransactions, db.FeaturePrefixScan, db.FeaturePersistent, db.FeatureSnapshotRead, db.FeatureSyncWrites} {
		if p.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	var size uint64
	var meta any
	if !p.closed.Load() {
		m := p.db.Metrics()
		size = m.DiskSpaceUsage()
		meta = &struct {
			Compactions int64  `json:"compactions"`
			Flushes     int64  `json:"flushes"`
			Path        string `json:"path"`
			InMemory    bool   `json:"in_memory"`
		}{
			Compactions: m.Compact.Count,
			Flushes:     m.Flush.Count,
			Path:        p.opts.Path,
			InMemory:    p.opts.InMemory,
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         int(size),
		DbType:            db.ImplPebble,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

func (p *pebbleImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

func (p *pebbleImpl) writeOpts() *pebble.WriteOptions {
	if p.opts.SyncWrites && !p.opts.InMemory {
		return pebble.Sync
	}
	return pebble.NoSync
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// pebbleTxn is either a write transaction backed by an indexed batch (reads
// see the batch merged over the database) or a read transaction backed by a
// snapshot.
type pebbleTxn struct {
	engine   *pebbleImpl
	batch    *pebble.Batch
	snap     *pebble.Snapshot
	writable bool
	done     bool
}

func (t *pebbleTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	if t.engine.closed.Load() {
		return nil, db.ErrClosed
	}

	var (
		value []byte
		err   error
	)
	if t.batch != nil {
		v, closer, gerr := t.batch.Get(key)
		if gerr == nil {
			value = append([]byte{}, v...)
			err = closer.Close()
		} else {
			err = gerr
		}
	} else {
		v, closer, gerr := t.snap.Get(key)
		if gerr == nil {
			value = append([]byte{}, v...)
			err = closer.Close()
		} else {
			err = gerr
		}
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return value, nil
}

func (t *pebbleTxn) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	return mapErr(t.batch.Set(key, value, nil))
}

func (t *pebbleTxn) Delete(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	return mapErr(t.batch.Delete(key, nil))
}

func (t *pebbleTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	if t.engine.closed.Load() {
		return db.ErrClosed
	}

	iterOpts := &pebble.IterOptions{LowerBound: prefix, UpperBound: db.PrefixEnd(prefix)}
	var it *pebble.Iterator
	if t.batch != nil {
		it = t.batch.NewIter(iterOpts)
	} else {
		it = t.snap.NewIter(iterOpts)
	}

	for it.First(); it.Valid(); it.Next() {
		key := append([]byte{}, it.Key()...)
		value := append([]byte{}, it.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return mapErr(it.Close())
}

func (t *pebbleTxn) Commit() error {
	if t.done {
		return db.ErrTxnDone
	}
	t.done = true
	if !t.writable {
		return mapErr(t.snap.Close())
	}
	defer t.batch.Close()
	if t.engine.closed.Load() {
		return db.ErrClosed
	}
	return mapErr(t.batch.Commit(t.engine.writeOpts()))
}

func (t *pebbleTxn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	if t.writable {
		_ = t.batch.Close()
	} else {
		_ = t.snap.Close()
	}
}

func (t *pebbleTxn) checkWrite() error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	return nil
}

// --------------------------------------------------------------------------
// Error mapping
// --------------------------------------------------------------------------

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pebble.ErrNotFound):
		return db.ErrNotFound
	case errors.Is(err, pebble.ErrClosed):
		return db.ErrClosed
	default:
		return err
	}
}
