package badger

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DBOptions configures the badger engine
type DBOptions struct {
	Path             string // Directory of the database (ignored if InMemory)
	InMemory         bool   // Keep everything in memory, nothing is written to disk
	SyncWrites       bool   // fsync every commit
	ValueLogFileSize int64  // Max size of one value log file in bytes (0 = badger default)
}

// DefaultOptions returns options for an on-disk engine at path
func DefaultOptions(path string) *DBOptions {
	return &DBOptions{
		Path:             path,
		SyncWrites:       true,
		ValueLogFileSize: 100 << 20, // 100 MB
	}
}

// inMemoryValueLimit is the largest value threshold badger accepts. An
// in-memory engine has no value log, so every value must stay below it.
const inMemoryValueLimit = 1 << 20

// InMemoryOptions returns options for an engine without persistence
func InMemoryOptions() *DBOptions {
	return &DBOptions{InMemory: true}
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

type badgerImpl struct {
	db   *badger.DB
	opts DBOptions
}

// NewBadgerDB opens (or creates) a badger backed engine
func NewBadgerDB(opts *DBOptions) (db.KVEngine, error) {
	if opts == nil {
		opts = InMemoryOptions()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithValueThreshold(inMemoryValueLimit)
	} else {
		bopts = badger.DefaultOptions(opts.Path).WithSyncWrites(opts.SyncWrites)
		if opts.ValueLogFileSize > 0 {
			bopts = bopts.WithValueLogFileSize(opts.ValueLogFileSize)
		}
	}
	// the dragonboat logger satisfies badger.Logger
	bopts = bopts.WithLogger(log).WithLoggingLevel(badger.WARNING)

	bdb, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Path, mapErr(err))
	}

	log.Infof("opened badger engine (path=%q, in-memory=%t)", opts.Path, opts.InMemory)
	return &badgerImpl{db: bdb, opts: *opts}, nil
}

func (b *badgerImpl) Begin(writable bool) (db.Txn, error) {
	if b.db.IsClosed() {
		return nil, db.ErrClosed
	}
	t := &badgerTxn{txn: b.db.NewTransaction(writable), writable: writable}
	if b.opts.InMemory {
		t.maxValue = inMemoryValueLimit
	}
	return t, nil
}

func (b *badgerImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureTransactions | db.FeaturePrefixScan | db.FeatureSnapshotRead
	if !b.opts.InMemory {
		supported |= db.FeaturePersistent
		if b.opts.SyncWrites {
			supported |= db.FeatureSyncWrites
		}
	}
	return supported&feature == feature
}

func (b *badgerImpl) GetInfo() db.DatabaseInfo {
	lsm, vlog := b.db.Size()

	var features []db.Feature
	for _, f := range []db.Feature{db.FeatureTransactions, db.FeaturePrefixScan, db.FeaturePersistent, db.FeatureSnapshotRead, db.FeatureSyncWrites} {
		if b.SupportsFeature(f) {
			features = append(features, f)
		}
	}

	meta := &struct {
		LSMSizeBytes  int64  `json:"lsm_size_bytes"`
		VLogSizeBytes int64  `json:"vlog_size_bytes"`
		Path          string `json:"path"`
		InMemory      bool   `json:"in_memory"`
	}{
		LSMSizeBytes:  lsm,
		VLogSizeBytes: vlog,
		Path:          b.opts.Path,
		InMemory:      b.opts.InMemory,
	}

	return db.DatabaseInfo{
		SizeBytes:         int(lsm + vlog),
		DbType:            db.ImplBadger,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

func (b *badgerImpl) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return mapErr(b.db.Close())
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type badgerTxn struct {
	txn      *badger.Txn
	writable bool
	done     bool
	maxValue int // exclusive, 0 = no limit
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	item, err := t.txn.Get(key)
	if err != nil {
		return nil, mapErr(err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return value, nil
}

func (t *badgerTxn) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if t.maxValue > 0 && len(value) >= t.maxValue {
		return fmt.Errorf("%w: value of %d bytes, in-memory limit is %d", db.ErrTooBig, len(value), t.maxValue-1)
	}
	// badger keeps references to key and value until commit
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return mapErr(t.txn.Set(k, v))
}

func (t *badgerTxn) Delete(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	return mapErr(t.txn.Delete(append([]byte(nil), key...)))
}

// Scan uses the prefix iteration pattern: Seek(prefix), ValidForPrefix, Next.
// Only one iterator may be open per read-write transaction, so fn must not
// start another scan on the same transaction.
func (t *badgerTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if t.done {
		return db.ErrTxnDone
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return mapErr(err)
		}
		if !fn(item.KeyCopy(nil), value) {
			break
		}
	}
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.done {
		return db.ErrTxnDone
	}
	t.done = true
	if !t.writable {
		t.txn.Discard()
		return nil
	}
	return mapErr(t.txn.Commit())
}

func (t *badgerTxn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

func (t *badgerTxn) checkWrite() error {
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

// mapErr translates badger errors into the engine independent errors of package db
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return db.ErrNotFound
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return db.ErrReadOnly
	case errors.Is(err, badger.ErrDiscardedTxn):
		return db.ErrTxnDone
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("%w: %v", db.ErrTooBig, err)
	case errors.Is(err, badger.ErrDBClosed):
		return db.ErrClosed
	default:
		return err
	}
}
