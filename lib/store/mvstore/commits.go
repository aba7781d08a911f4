package mvstore

import (
	"bytes"
	"errors"
	"math"
	"sort"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// VersionStore
// --------------------------------------------------------------------------

// versionStore holds the commit DAG. Nodes reference their parents by id
// only; the single mutable pointer is the header.
//
// Like the data store it works on the caller's engine transaction.
type versionStore struct {
	device string
}

func newVersionStore(device string) *versionStore {
	return &versionStore{device: device}
}

// AllocCommit returns a new local commit node with a random id. Left is the
// current header.
func (vs *versionStore) AllocCommit(txn db.Txn, version, timestamp uint64) (*Commit, error) {
	header, err := vs.GetHeader(txn)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	return &Commit{
		ID:        id[:],
		Left:      header,
		Version:   version,
		Timestamp: timestamp,
		Local:     true,
		Device:    vs.device,
	}, nil
}

// validateCommit checks the structural invariants of a node. It does not
// touch the engine.
func validateCommit(c *Commit) error {
	switch {
	case c == nil:
		return store.NewError(store.RetCInvalidArgs, "commit is nil")
	case len(c.ID) == 0 || len(c.ID) > MaxCommitIDLength:
		return store.Errorf(store.RetCInvalidArgs, "commit id length %d out of range [1,%d]", len(c.ID), MaxCommitIDLength)
	case len(c.Left) > MaxCommitIDLength || len(c.Right) > MaxCommitIDLength:
		return store.NewError(store.RetCInvalidArgs, "parent id too long")
	case bytes.Equal(c.ID, c.Left) || bytes.Equal(c.ID, c.Right):
		return store.NewError(store.RetCInvalidArgs, "commit references itself")
	case len(c.Left) > 0 && bytes.Equal(c.Left, c.Right):
		return store.NewError(store.RetCInvalidArgs, "commit has two identical parents")
	case len(internal.EncodeCommit(c)) > MaxCommitSerialLength:
		return store.Errorf(store.RetCInvalidArgs, "commit exceeds %d bytes", MaxCommitSerialLength)
	}
	return nil
}

// AddCommit validates c and writes it. Both parents must exist. If isHeader
// is set the header is moved to c in the same transaction.
func (vs *versionStore) AddCommit(txn db.Txn, c *Commit, isHeader bool) error {
	if err := validateCommit(c); err != nil {
		return err
	}
	for _, parent := range [][]byte{c.Left, c.Right} {
		if len(parent) == 0 {
			continue
		}
		ok, err := vs.CommitExists(txn, parent)
		if err != nil {
			return err
		}
		if !ok {
			return store.Errorf(store.RetCUnexpectedData, "parent %x of commit %x does not exist", parent, c.ID)
		}
	}
	if err := txn.Set(internal.CommitKey(c.ID), internal.EncodeCommit(c)); err != nil {
		return err
	}
	if isHeader {
		return txn.Set(internal.HeaderKey(), c.ID)
	}
	return nil
}

// RemoveCommit deletes the header commit id and points the header to its
// left parent
func (vs *versionStore) RemoveCommit(txn db.Txn, id []byte) error {
	header, err := vs.GetHeader(txn)
	if err != nil {
		return err
	}
	if !bytes.Equal(header, id) {
		return store.Errorf(store.RetCUnexpectedData, "commit %x is not the header", id)
	}
	c, err := vs.GetCommit(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(internal.CommitKey(id)); err != nil {
		return err
	}
	return vs.setHeader(txn, c.Left)
}

// deleteCommit removes a node without touching the header. Used by vacuum
// for unreachable nodes.
func (vs *versionStore) deleteCommit(txn db.Txn, id []byte) error {
	return txn.Delete(internal.CommitKey(id))
}

// SetHeader points the header to id. An empty id clears the header.
func (vs *versionStore) SetHeader(txn db.Txn, id []byte) error {
	if len(id) > 0 {
		ok, err := vs.CommitExists(txn, id)
		if err != nil {
			return err
		}
		if !ok {
			return store.Errorf(store.RetCNotFound, "commit %x does not exist", id)
		}
	}
	return vs.setHeader(txn, id)
}

func (vs *versionStore) setHeader(txn db.Txn, id []byte) error {
	if len(id) == 0 {
		return txn.Delete(internal.HeaderKey())
	}
	return txn.Set(internal.HeaderKey(), id)
}

// GetHeader returns the id of the header commit, nil if there is none
func (vs *versionStore) GetHeader(txn db.Txn) ([]byte, error) {
	id, err := txn.Get(internal.HeaderKey())
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil || len(id) == 0 {
		return nil, err
	}
	return id, nil
}

// GetCommit loads a node. A missing node is NotFound.
func (vs *versionStore) GetCommit(txn db.Txn, id []byte) (*Commit, error) {
	raw, err := txn.Get(internal.CommitKey(id))
	if errors.Is(err, db.ErrNotFound) {
		return nil, store.Errorf(store.RetCNotFound, "commit %x not found", id)
	}
	if err != nil {
		return nil, err
	}
	c, err := internal.DecodeCommit(raw)
	if err != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "commit %x: %v", id, err)
	}
	return c, nil
}

// CommitExists reports whether a node with id is stored
func (vs *versionStore) CommitExists(txn db.Txn, id []byte) (bool, error) {
	_, err := txn.Get(internal.CommitKey(id))
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AllCommits returns every stored node, reachable or not
func (vs *versionStore) AllCommits(txn db.Txn) ([]*Commit, error) {
	var (
		out    []*Commit
		decErr error
	)
	err := txn.Scan(internal.CommitPrefix(), func(_, v []byte) bool {
		c, err := internal.DecodeCommit(v)
		if err != nil {
			decErr = err
			return false
		}
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "commit row: %v", decErr)
	}
	return out, nil
}

// GetMaxCommitVersion returns the highest version of any stored node
func (vs *versionStore) GetMaxCommitVersion(txn db.Txn) (uint64, error) {
	commits, err := vs.AllCommits(txn)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range commits {
		v = max(v, c.Version)
	}
	return v, nil
}

// walk visits every node reachable from the header depth first. A missing
// node is UnexpectedData.
func (vs *versionStore) walk(txn db.Txn, fn func(c *Commit)) error {
	header, err := vs.GetHeader(txn)
	if err != nil || header == nil {
		return err
	}
	visited := map[string]struct{}{string(header): {}}
	stack := [][]byte{header}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		c, err := vs.GetCommit(txn, id)
		if store.IsNotFound(err) {
			return store.Errorf(store.RetCUnexpectedData, "commit %x referenced but missing", id)
		}
		if err != nil {
			return err
		}
		fn(c)

		// right first so the left chain is visited first
		for _, parent := range [][]byte{c.Right, c.Left} {
			if len(parent) == 0 {
				continue
			}
			if _, ok := visited[string(parent)]; ok {
				continue
			}
			visited[string(parent)] = struct{}{}
			stack = append(stack, parent)
		}
	}
	return nil
}

// GetLatestCommits returns the highest version reachable node per device
func (vs *versionStore) GetLatestCommits(txn db.Txn) (map[string]*Commit, error) {
	latest := make(map[string]*Commit)
	err := vs.walk(txn, func(c *Commit) {
		if cur, ok := latest[c.Device]; !ok || c.Version > cur.Version {
			latest[c.Device] = c
		}
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// GetAllCommitsInTree returns every reachable node, highest version first
func (vs *versionStore) GetAllCommitsInTree(txn db.Txn) ([]*Commit, error) {
	var out []*Commit
	if err := vs.walk(txn, func(c *Commit) { out = append(out, c) }); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// GetCommitTree returns the reachable nodes the owner of knownTips is
// missing, lowest version first. knownTips maps a device to the id of the
// newest commit of that device the caller has. Commits of a device whose tip
// is unknown here are all returned.
func (vs *versionStore) GetCommitTree(txn db.Txn, knownTips map[string][]byte) ([]*Commit, error) {
	thresholds := make(map[string]uint64, len(knownTips))
	for device, id := range knownTips {
		c, err := vs.GetCommit(txn, id)
		switch {
		case store.IsNotFound(err):
			thresholds[device] = math.MaxUint64
		case err != nil:
			return nil, err
		default:
			thresholds[device] = c.Version
		}
	}

	all, err := vs.GetAllCommitsInTree(txn)
	if err != nil {
		return nil, err
	}
	var out []*Commit
	for _, c := range all {
		threshold, ok := thresholds[c.Device]
		if !ok || c.Version > threshold {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// reachable returns the ids of every node reachable from the header
func (vs *versionStore) reachable(txn db.Txn) (map[string]*Commit, error) {
	out := make(map[string]*Commit)
	if err := vs.walk(txn, func(c *Commit) { out[string(c.ID)] = c }); err != nil {
		return nil, err
	}
	return out, nil
}

// headerChain returns the nodes on the left parent chain starting at the
// header, lowest version first
func (vs *versionStore) headerChain(txn db.Txn) ([]*Commit, error) {
	id, err := vs.GetHeader(txn)
	if err != nil {
		return nil, err
	}
	var chain []*Commit
	for len(id) > 0 {
		c, err := vs.GetCommit(txn, id)
		if store.IsNotFound(err) {
			return nil, store.Errorf(store.RetCUnexpectedData, "commit %x referenced but missing", id)
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		id = c.Left
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })
	return chain, nil
}

// --------------------------------------------------------------------------
// Pending foreign commits
// --------------------------------------------------------------------------

// markPending keeps vacuum away from a stored foreign commit until a merge
// covers it
func (vs *versionStore) markPending(txn db.Txn, id []byte) error {
	return txn.Set(internal.PendingKey(id), []byte{1})
}

// clearPending drops the markers of ids
func (vs *versionStore) clearPending(txn db.Txn, ids ...[]byte) error {
	for _, id := range ids {
		if err := txn.Delete(internal.PendingKey(id)); err != nil {
			return err
		}
	}
	return nil
}

// pending returns the ids of the foreign commits no merge has covered yet
func (vs *versionStore) pending(txn db.Txn) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	prefix := internal.PendingPrefix()
	err := txn.Scan(prefix, func(k, _ []byte) bool {
		out[string(k[len(prefix):])] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
