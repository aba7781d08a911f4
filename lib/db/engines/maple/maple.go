package maple

import (
	"bytes"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/mvkv/lib/db/util"
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Core Maple engine structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory transactional engine with sharded data
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards

	// commitMu serializes commits and guards the ordered index.
	// Scans hold the read lock, so a scan never observes half a commit.
	commitMu sync.RWMutex
	index    *btree.BTree

	commits atomic.Uint64 // Number of committed write transactions
	closed  atomic.Bool
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new in-memory engine with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVEngine {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	// Create shards
	shards := make([]*internal.Shard, opts.NumShards)
	for i := 0; i < opts.NumShards; i++ {
		shards[i] = internal.NewShard()
	}

	return &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
		shards:    shards,
		index:     internal.NewIndex(),
	}
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// KVEngine Interface
// --------------------------------------------------------------------------

// Begin opens a new transaction. Writes are buffered inside the transaction
// and applied atomically (with respect to scans) on commit.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Begin(writable bool) (db.Txn, error) {
	if maple.closed.Load() {
		return nil, db.ErrClosed
	}
	t := &mapleTxn{engine: maple, writable: writable}
	if writable {
		t.pending = make(map[string]internal.PendingWrite)
	}
	return t, nil
}

// GetInfo returns statistics about the engine
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	shardSizes := make([]float64, len(maple.shards))

	for i, shard := range maple.shards {
		shard.Data.Range(func(key string, value []byte) bool {
			histogram.AddSample(len(key) + len(value))
			return true
		})
		shardSizes[i] = float64(shard.Data.Size())
	}

	meta := &struct {
		Commits           uint64                 `json:"commits"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		Keys              int64                  `json:"keys"`
	}{
		Commits:           maple.commits.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Keys:              histogram.GetCount(),
	}

	return db.DatabaseInfo{
		SizeBytes:         histogram.AverageSize() * int(histogram.GetCount()),
		DbType:            db.ImplMaple,
		SupportedFeatures: []db.Feature{db.FeatureTransactions, db.FeaturePrefixScan},
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureTransactions | db.FeaturePrefixScan
	return supportedFeatures&feature == feature
}

// Close marks the engine as closed, all data is dropped
func (maple *mapleImpl) Close() error {
	if !maple.closed.CompareAndSwap(false, true) {
		return nil
	}
	maple.commitMu.Lock()
	defer maple.commitMu.Unlock()
	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	maple.index = internal.NewIndex()
	return nil
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// mapleTxn is a transaction on the maple engine
//
// Thread-safety: A transaction must only be used by one goroutine.
type mapleTxn struct {
	engine   *mapleImpl
	writable bool
	done     bool
	pending  map[string]internal.PendingWrite
}

func (t *mapleTxn) check(write bool) error {
	if t.done {
		return db.ErrTxnDone
	}
	if t.engine.closed.Load() {
		return db.ErrClosed
	}
	if write && !t.writable {
		return db.ErrReadOnly
	}
	return nil
}

func (t *mapleTxn) Get(key []byte) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	k := string(key)
	if p, ok := t.pending[k]; ok {
		if p.Deleted {
			return nil, db.ErrNotFound
		}
		return bytes.Clone(p.Value), nil
	}
	value, ok := t.engine.shardFor(k).Data.Load(k)
	if !ok {
		return nil, db.ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (t *mapleTxn) Set(key, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	// copy value to prevent memory corruption
	t.pending[string(key)] = internal.PendingWrite{Value: bytes.Clone(value)}
	return nil
}

func (t *mapleTxn) Delete(key []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	t.pending[string(key)] = internal.PendingWrite{Deleted: true}
	return nil
}

// Scan merges the committed keys of the ordered index with the pending
// writes of the transaction and visits them in ascending order.
func (t *mapleTxn) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if err := t.check(false); err != nil {
		return err
	}

	type kv struct {
		key   string
		value []byte
	}

	// collect committed keys under the read lock (consistent with commits)
	var committed []kv
	t.engine.commitMu.RLock()
	t.engine.index.AscendGreaterOrEqual(internal.KeyItem(prefix), func(i btree.Item) bool {
		k := i.(internal.KeyItem)
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		if _, overwritten := t.pending[string(k)]; overwritten {
			return true
		}
		if v, ok := t.engine.shardFor(string(k)).Data.Load(string(k)); ok {
			committed = append(committed, kv{key: string(k), value: v})
		}
		return true
	})
	t.engine.commitMu.RUnlock()

	// add own pending writes
	for k, p := range t.pending {
		if !p.Deleted && bytes.HasPrefix([]byte(k), prefix) {
			committed = append(committed, kv{key: k, value: p.Value})
		}
	}
	if len(t.pending) > 0 {
		sort.Slice(committed, func(i, j int) bool { return committed[i].key < committed[j].key })
	}

	for _, e := range committed {
		if !fn([]byte(e.key), bytes.Clone(e.value)) {
			break
		}
	}
	return nil
}

// Commit applies all pending writes while holding the commit lock
func (t *mapleTxn) Commit() error {
	if err := t.check(false); err != nil {
		return err
	}
	t.done = true
	if !t.writable || len(t.pending) == 0 {
		return nil
	}

	t.engine.commitMu.Lock()
	defer t.engine.commitMu.Unlock()

	for k, p := range t.pending {
		shard := t.engine.shardFor(k)
		if p.Deleted {
			shard.Data.Delete(k)
			t.engine.index.Delete(internal.KeyItem(k))
			continue
		}
		shard.Data.Store(k, p.Value)
		t.engine.index.ReplaceOrInsert(internal.KeyItem(k))
	}
	t.engine.commits.Add(1)
	t.pending = nil
	return nil
}

func (t *mapleTxn) Rollback() {
	t.done = true
	t.pending = nil
}
