// Package rpc exposes mvkv stores over the network and lets other devices
// pull their commit history.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, its wire types for entries and commits,
//     configuration structures and the logger factory.
//
//   - transport: network abstractions; package http is the implementation.
//
//   - serializer: converts Messages to bytes (Binary, JSON, GOB).
//
//   - client: a store.IStore and a syncer.Peer backed by a remote shard.
//
//   - server: routes requests to the stores of its shards and exposes
//     Prometheus metrics.
package rpc
