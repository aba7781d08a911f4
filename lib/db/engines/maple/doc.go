// Package maple implements an in-memory transactional engine satisfying
// db.KVEngine. It is the default engine for tests and for stores that do
// not need to survive a restart.
//
// Key Components:
//
//   - mapleImpl: the engine. Committed data lives in a fixed number of
//     shards, each backed by an xsync.MapOf, so point reads never block.
//     Keys are distributed across shards by hashing them (xxhash) with a
//     per-engine seed and using the higher bits of the digest.
//
//   - Ordered index: a btree of all committed keys. It makes prefix scans
//     O(log n + k) instead of a full walk over every shard.
//
//   - mapleTxn: buffers writes in a private map until Commit. Reads inside
//     the transaction consult the buffer first, which gives read-your-writes
//     semantics for Get and Scan.
//
// Concurrency:
//
//   - Commits are serialized by a single RWMutex. A commit applies all
//     buffered writes to the shards and the index while holding the write
//     lock; scans hold the read lock, so a scan observes either none or all
//     of a commit.
//   - Point reads go to the shard maps without the lock and may observe a
//     commit that is being applied. The versioned store never relies on
//     cross-key atomicity of point reads (every row carries its version).
//   - Read transactions do not provide snapshot isolation. Isolation is
//     provided one layer up by versions and pins.
//
// Limitations:
//
//   - No persistence. Close drops all data.
//   - No conflict detection between concurrent write transactions: the last
//     commit wins per key. The versioned store allows only one writer at a
//     time, so this never matters there.
package maple
