package internal

import (
	"bytes"

	"github.com/ValentinKolb/mvkv/lib/db/util"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Pending Write (buffered in a transaction until commit)
// --------------------------------------------------------------------------

// PendingWrite is a write buffered by a transaction
type PendingWrite struct {
	Value   []byte
	Deleted bool
}

// --------------------------------------------------------------------------
// Ordered Key Index
// --------------------------------------------------------------------------

// KeyItem is a key stored in the ordered index (implements btree.Item)
type KeyItem []byte

// Less orders keys lexicographically
func (k KeyItem) Less(than btree.Item) bool {
	return bytes.Compare(k, than.(KeyItem)) < 0
}

// NewIndex creates an empty ordered key index
func NewIndex() *btree.BTree {
	return btree.New(32)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the key space)
// --------------------------------------------------------------------------

// Shard represents a partition of the engine
// Point reads go directly to the shard map without taking the commit lock.
type Shard struct {
	Data *xsync.MapOf[string, []byte] // Map of committed key-value pairs
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, []byte](),
	}
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
