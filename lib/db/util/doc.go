// Package util provides small building blocks shared by the engines and the
// stores.
//
// The package contains:
//   - functions: seeded xxhash helpers used for shard selection
//   - statistics: summary statistics and a SizeHistogram for value sizes
//   - pinheap: a min-heap of pinned versions addressable by pin id
//   - mailbox: an unbounded lock-free multi-producer single-consumer queue
//     used as the inbox of actor goroutines
package util
