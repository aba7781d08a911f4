// Package store defines the surface shared by the store variants and the
// error system every store operation reports through.
//
// Key Components:
//
//   - IStore: key-value operations (Put, Delete, Clear, Get, Has, Entries)
//     implemented by every variant, so the server and CLI can switch
//     variants from configuration.
//
//   - Error and RetCode: every failure is a *Error carrying a return code
//     (NotFound, InvalidArgs, UnexpectedData, Busy, OutOfMemory, Corrupted,
//     IOFailure, ...). IsNotFound and friends test the code through any
//     amount of wrapping. FromEngine maps db engine errors onto codes.
//
//   - DBFactory: creates the db.KVEngine a store runs on. It is injected
//     into the constructors; there is no global engine registry.
//
// Implementations:
//
//   - Local store (lstore): single version, writes straight into the engine.
//
//   - Multi-version store (mvstore): every commit produces a new version and
//     a node in a commit DAG. It supports snapshot reads at old versions,
//     merging the history of other devices, content addressed value slices
//     and background vacuum.
package store
