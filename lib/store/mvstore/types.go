package mvstore

import (
	"crypto/sha256"

	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
)

// Commit is one node of the commit DAG
type Commit = internal.Commit

// OperFlag is the operation of a record
type OperFlag = internal.OperFlag

const (
	OpAdd   = internal.FlagAdd
	OpDel   = internal.FlagDel
	OpClear = internal.FlagClear
)

// CommitEntry is one record of a commit in the form exchanged between
// devices: the value is resolved and the flag carries no local bit.
type CommitEntry struct {
	Key           []byte   `json:"key"`
	Value         []byte   `json:"value,omitempty"`
	Flag          OperFlag `json:"flag"`
	Timestamp     uint64   `json:"timestamp"`
	OrigTimestamp uint64   `json:"orig_timestamp"`
}

// DiffEntry is one changed key of a Diff
type DiffEntry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Diff is the change set of one commit relative to its predecessor.
// Deleted entries carry the value that was deleted. If IsCleared is set,
// every key that existed before was removed and the entry lists only hold
// changes made after the clear.
type Diff struct {
	StartCommitID []byte      `json:"start_commit_id,omitempty"`
	EndCommitID   []byte      `json:"end_commit_id"`
	Inserted      []DiffEntry `json:"inserted,omitempty"`
	Updated       []DiffEntry `json:"updated,omitempty"`
	Deleted       []DiffEntry `json:"deleted,omitempty"`
	IsCleared     bool        `json:"is_cleared"`
}

// Empty reports whether the diff carries no change
func (d *Diff) Empty() bool {
	return !d.IsCleared && len(d.Inserted) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

func hashKey(key []byte) internal.Hash {
	return sha256.Sum256(key)
}
