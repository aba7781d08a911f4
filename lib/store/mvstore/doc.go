// Package mvstore implements the multi-version store: an MVCC key-value
// store whose history is a commit DAG, that can integrate the histories of
// other devices and compacts old history in the background.
//
// Key Components:
//
//   - dataStore: the append-only record log. A row is keyed by the SHA-256
//     of the user key and the version it was written at. Only local rows are
//     visible to reads; rows received from other devices stay invisible until
//     a merge rewrites the winners as local rows.
//
//   - versionStore: the commit DAG. Nodes reference their parents by id, the
//     header points to the local tip. Local commits have one parent, merge
//     commits have the header as left and the foreign tip as right parent.
//
//   - sliceStore: values larger than the slice threshold are split into
//     fixed size blocks stored once per content hash with a refcount.
//     Refcounts change in the same engine transaction as the owning row.
//
//   - WriteTxn: the single write transaction. Commit runs in two phases:
//     rows are committed first, then the commit node; the new version only
//     becomes visible after both succeeded. A failure removes the rows of
//     the version again.
//
//   - vacuumScheduler: an actor goroutine that owns the vacuum state
//     machine. Writers pause it for the duration of a write transaction;
//     a pass stops at the next checkpoint between two of its write steps.
//
// Visibility:
//
//   - A read at version V sees, per key, the local row with the highest
//     version <= V that is not older (by timestamp, then sequence) than the
//     newest local clear <= V.
//   - Readers pin their version. Vacuum only compacts up to the lowest pin
//     and never removes a row a pinned reader can see.
//
// Merge:
//
//   - Last writer wins by the timestamp assigned on the originating device.
//     A clear wins over everything strictly older. Equal timestamps keep the
//     existing row, so the result does not depend on the sync direction.
//
// Persisted layout (all keys are prefixed by one byte):
//
//	d|sha256(key)|version      record
//	v|version|sha256(key)      rows written at a version
//	k|key|version              rows that set a key, for prefix scans
//	c|commit id                commit node
//	h                          header commit id
//	s|sha256(block)            slice
//	m|name                     counters (sequence, timestamp, committed version)
package mvstore
