package common

import (
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
)

// --------------------------------------------------------------------------
// Conversion between wire and store types
// --------------------------------------------------------------------------

// FromCommit converts a commit into its wire form
func FromCommit(c *mvstore.Commit) CommitNode {
	return CommitNode{
		ID:        c.ID,
		Left:      c.Left,
		Right:     c.Right,
		Version:   c.Version,
		Timestamp: c.Timestamp,
		Local:     c.Local,
		Device:    c.Device,
	}
}

// FromCommits converts a list of commits into their wire form
func FromCommits(commits []*mvstore.Commit) []CommitNode {
	out := make([]CommitNode, len(commits))
	for i, c := range commits {
		out[i] = FromCommit(c)
	}
	return out
}

// ToCommit converts a wire commit back into a commit
func (n CommitNode) ToCommit() *mvstore.Commit {
	return &mvstore.Commit{
		ID:        n.ID,
		Left:      nilIfEmpty(n.Left),
		Right:     nilIfEmpty(n.Right),
		Version:   n.Version,
		Timestamp: n.Timestamp,
		Local:     n.Local,
		Device:    n.Device,
	}
}

// ToCommits converts wire commits back into commits
func ToCommits(nodes []CommitNode) []*mvstore.Commit {
	out := make([]*mvstore.Commit, len(nodes))
	for i, n := range nodes {
		out[i] = n.ToCommit()
	}
	return out
}

// FromCommitEntries converts commit rows into their wire form
func FromCommitEntries(entries []mvstore.CommitEntry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{
			Key:           e.Key,
			Value:         e.Value,
			Flag:          uint8(e.Flag),
			Timestamp:     e.Timestamp,
			OrigTimestamp: e.OrigTimestamp,
		}
	}
	return out
}

// ToCommitEntries converts wire rows back into commit rows
func ToCommitEntries(entries []Entry) []mvstore.CommitEntry {
	out := make([]mvstore.CommitEntry, len(entries))
	for i, e := range entries {
		out[i] = mvstore.CommitEntry{
			Key:           e.Key,
			Value:         e.Value,
			Flag:          mvstore.OperFlag(e.Flag),
			Timestamp:     e.Timestamp,
			OrigTimestamp: e.OrigTimestamp,
		}
	}
	return out
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
