// Package syncer moves commit history between multi-version stores.
//
// A Peer is the read side of a remote store: its newest commit per device,
// the commits a caller is missing and the entries of one commit. LocalPeer
// serves a Peer from an in-process store, the rpc client serves one over the
// network.
//
// Pull integrates a peer into a local store:
//
//  1. the local store's newest commit per device is sent as cursors
//  2. the peer answers with every commit the cursors do not cover, lowest
//     version first
//  3. each missing commit is stored with PutCommitData; its rows stay
//     invisible
//  4. MergeSyncCommit resolves the peer's rows against the local state and
//     writes one merge commit
//
// Vacuum is paused from step 3 until the merge is done. The store keeps
// stored foreign commits as pending until a merge covers them, so a pull
// that fails halfway resumes without fetching them again.
package syncer
