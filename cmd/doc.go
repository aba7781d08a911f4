// Package cmd implements the command-line interface of mvkv. It provides a
// hierarchical command structure for running the server, talking to it as a
// client and syncing local data directories with it.
//
// The package is organized into several subpackages:
//
//   - kv: key-value operations on a remote shard (put, get, delete, ...)
//     and a small load generator (perf)
//   - serve: starts the server
//   - pull: the sync command, pulls the commits of a remote multi-version shard into a local
//     data directory
//   - history: the log command, prints the commit graph of a local data directory
//   - util: shared flag, configuration and store helpers (internal use)
//
// Every flag can also be set through the environment as MVKV_<FLAG>, with
// dashes replaced by underscores (e.g. MVKV_LOG_LEVEL=debug). .env and
// .env.local in the working directory are loaded first.
//
// See mvkv -help for a list of all commands.
package cmd
