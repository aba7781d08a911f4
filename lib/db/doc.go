// Package db defines the contract of the physical storage engines the
// versioned store is built on.
//
// The store only needs a narrow, byte oriented, transactional key-value
// contract: point reads, writes and deletes, ordered prefix scans, and
// atomic multi-key commits. Everything else (versions, commits, slices)
// is layered on top by lib/store/mvstore using dedicated key namespaces.
//
// Key Components:
//
//   - KVEngine Interface: opens read and write transactions and reports its
//     capabilities through SupportsFeature and GetInfo.
//
//   - Txn Interface: one transaction. Reads in a writable transaction observe
//     the transaction's own writes. Values returned by Get and Scan are copies.
//
//   - Feature Flags: capability flags (transactions, prefix scan, persistence,
//     snapshot reads, synced writes) that callers can query at runtime.
//
//   - DBFactory: the function type used to inject an engine into a store, so
//     the implementation is selected by configuration and not by globals.
//
// Implementations:
//
//   - engines/maple: sharded in-memory engine with an ordered key index.
//     Not persistent, used for tests and ephemeral stores.
//   - engines/badger: persistent engine on top of badger (LSM, serializable
//     transactions, snapshot reads). Supports an in-memory mode.
//   - engines/pebble: persistent engine on top of pebble using indexed
//     batches for read-your-writes transactions.
//
// The testing package (lib/db/testing) provides a conformance suite
// (RunKVEngineTests) and benchmarks (RunKVEngineBenchmarks) every engine
// runs against.
package db
