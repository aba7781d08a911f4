package db

import "errors"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplBadger Implementation = "badger"
	ImplPebble Implementation = "pebble"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureTransactions Feature = 1 << iota // Atomic multi-key write transactions
	FeaturePrefixScan                       // Ordered range scans by key prefix
	FeaturePersistent                       // Data survives a restart
	FeatureSnapshotRead                     // Read transactions see a consistent snapshot
	FeatureSyncWrites                       // Commits are fsynced before returning
)

func (f Feature) String() string {
	switch f {
	case FeatureTransactions:
		return "Transactions"
	case FeaturePrefixScan:
		return "PrefixScan"
	case FeaturePersistent:
		return "Persistent"
	case FeatureSnapshotRead:
		return "SnapshotRead"
	case FeatureSyncWrites:
		return "SyncWrites"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotFound is returned by Txn.Get if the key does not exist.
	ErrNotFound = errors.New("db: key not found")
	// ErrReadOnly is returned by write operations on a read transaction.
	ErrReadOnly = errors.New("db: transaction is read-only")
	// ErrTxnDone is returned when a committed or discarded transaction is used.
	ErrTxnDone = errors.New("db: transaction already finished")
	// ErrClosed is returned if the engine was closed.
	ErrClosed = errors.New("db: engine closed")
	// ErrCorrupted is returned if the engine detected irrecoverable damage.
	ErrCorrupted = errors.New("db: data corrupted")
	// ErrTooBig is returned if a transaction exceeds the engine limits.
	ErrTooBig = errors.New("db: transaction too big")
)

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// KVEngine is the physical, byte-oriented transactional store the versioned
// store is built on. Keys are ordered lexicographically. Any implementation
// must provide atomic multi-key commits: either every write of a transaction
// becomes visible or none does.
type KVEngine interface {

	// Begin opens a new transaction. Read transactions must not write.
	// The caller must always end the transaction with Commit or Rollback.
	Begin(writable bool) (txn Txn, err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the engine.
	GetInfo() (info DatabaseInfo)

	// Close closes the engine. Open transactions become invalid.
	Close() (err error)
}

// Txn is a single engine transaction. A Txn is not safe for concurrent use.
// Reads inside a writable transaction observe the transaction's own writes.
type Txn interface {

	// Get returns a copy of the value stored under key or ErrNotFound.
	Get(key []byte) (value []byte, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value []byte) (err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) (err error)

	// Scan calls fn for every key starting with prefix in ascending order.
	// Key and value passed to fn are copies and may be retained.
	// The scan stops early if fn returns false.
	Scan(prefix []byte, fn func(key, value []byte) bool) (err error)

	// Commit makes all writes of the transaction durable and visible.
	Commit() (err error)

	// Rollback discards the transaction. Calling Rollback after Commit is a no-op.
	Rollback()
}

// DBFactory creates a new engine. It is injected into the stores so that
// the engine implementation can be chosen by configuration.
type DBFactory func() (KVEngine, error)

// PrefixEnd returns the smallest key greater than every key starting with prefix,
// or nil if no such key exists (prefix is empty or all 0xff).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
