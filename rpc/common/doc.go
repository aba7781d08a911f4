// Package common provides the data structures shared by client and server.
//
// Key Components:
//
//   - Message: the single request and response structure. Which fields are
//     used depends on the MessageType. Errors travel as text plus the
//     store.RetCode, so clients get back a *store.Error with the server's
//     code (AsError).
//
//   - Entry and CommitNode: wire forms of key-value pairs, commit rows and
//     commit nodes. FromCommit/ToCommit and friends convert from and to the
//     mvstore types.
//
//   - ServerConfig and ClientConfig: configuration of the server's shards,
//     engine and multi-version options, and of client endpoints.
//
//   - Logger: the dragonboat logger.ILogger implementation used by every
//     package, installed with InitLoggers. Levels are set globally and can
//     be overridden per logger ("vacuum=debug,engine=error").
package common
