package mvstore

import (
	"bytes"
	"context"
	"sort"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
)

// --------------------------------------------------------------------------
// Foreign commits
// --------------------------------------------------------------------------

// PutCommitData stores a commit of another device together with its
// entries. The rows are written at a fresh local version and stay invisible
// until MergeSyncCommit folds them in. The node keeps its id, parents,
// timestamp and device; deviceName is used if the node carries no device.
// Storing a commit that already exists is a no-op.
func (s *Store) PutCommitData(ctx context.Context, commit *Commit, entries []CommitEntry, deviceName string) error {
	if err := validateCommit(commit); err != nil {
		return err
	}
	for i := range entries {
		if err := validateEntry(&entries[i]); err != nil {
			return err
		}
	}

	t, err := s.StartTransaction(ctx)
	if err != nil {
		return err
	}
	t.kind = txnForeign

	exists, err := s.versions.CommitExists(t.txn, commit.ID)
	if err != nil {
		t.Rollback()
		return s.fail(err)
	}
	if exists {
		t.Rollback()
		return nil
	}

	for _, e := range entries {
		h := internal.ClearHashKey
		if e.Flag.Kind() != internal.FlagClear {
			h = hashKey(e.Key)
		}
		obj, err := s.slices.Store(t.txn, e.Value)
		if err != nil {
			t.Rollback()
			return s.fail(err)
		}
		rec := &internal.Record{
			Key:           e.Key,
			HashKey:       h,
			Value:         obj,
			Flag:          e.Flag.Kind(),
			Version:       t.version,
			Timestamp:     e.Timestamp,
			OrigTimestamp: e.OrigTimestamp,
			Seq:           s.seq.Add(1),
		}
		if err := s.data.AddRecord(t.txn, rec); err != nil {
			t.Rollback()
			return s.fail(err)
		}
		t.maxTs = max(t.maxTs, e.Timestamp)
	}

	node := *commit
	node.Local = false
	if node.Device == "" {
		node.Device = deviceName
	}
	t.pending = &pendingNode{commit: &node}
	t.maxTs = max(t.maxTs, commit.Timestamp)

	_, err = t.Commit()
	if err == nil {
		log.Debugf("stored foreign commit %x of %q at version %d (%d entries)", commit.ID, node.Device, t.version, len(entries))
	}
	return err
}

func validateEntry(e *CommitEntry) error {
	switch e.Flag.Kind() {
	case internal.FlagAdd:
		if err := validateValue(e.Value); err != nil {
			return err
		}
		return validateKey(e.Key)
	case internal.FlagDel:
		return validateKey(e.Key)
	case internal.FlagClear:
		return nil
	default:
		return store.Errorf(store.RetCInvalidArgs, "unknown operation %s", e.Flag)
	}
}

// --------------------------------------------------------------------------
// Merge
// --------------------------------------------------------------------------

// MergeSyncCommit folds the foreign history ending at tip into the local
// header. pathCommits are the commits received with tip; the entries of
// those written by tip's device are resolved against the local state in
// ascending version order and the winners are written as local rows of one
// merge commit with left parent = header and right parent = tip.
//
// If every path commit already has a right parent the path only consists of
// merges and nothing is done. A tip that is already reachable from the
// header is a no-op as well.
//
// Either way tip and the path commits are no longer pending afterwards, so
// vacuum may reclaim the ones that stay unreachable.
func (s *Store) MergeSyncCommit(ctx context.Context, tip *Commit, pathCommits []*Commit) (*Commit, error) {
	if tip == nil || len(tip.ID) == 0 {
		return nil, store.NewError(store.RetCInvalidArgs, "merge tip is empty")
	}
	covers := make([][]byte, 0, len(pathCommits)+1)
	covers = append(covers, tip.ID)
	needed := false
	for _, c := range pathCommits {
		covers = append(covers, c.ID)
		if len(c.Right) == 0 {
			needed = true
		}
	}
	if !needed {
		return nil, s.settlePending(covers)
	}

	t, err := s.StartTransaction(ctx)
	if err != nil {
		return nil, err
	}
	t.kind = txnMerge

	node, err := s.prepareMerge(t, tip, pathCommits)
	if err != nil {
		t.Rollback()
		return nil, err
	}
	if node == nil {
		t.Rollback()
		return nil, s.settlePending(covers)
	}
	t.pending = &pendingNode{commit: node, isHeader: true, covers: covers}
	return t.Commit()
}

// settlePending drops the pending markers of ids without a merge commit
func (s *Store) settlePending(ids [][]byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.update(func(txn db.Txn) error { return s.versions.clearPending(txn, ids...) })
}

func (s *Store) prepareMerge(t *WriteTxn, tip *Commit, pathCommits []*Commit) (*Commit, error) {
	localTip, err := s.versions.GetCommit(t.txn, tip.ID)
	if err != nil {
		return nil, s.fail(err)
	}
	reachable, err := s.versions.reachable(t.txn)
	if err != nil {
		return nil, s.fail(err)
	}
	if _, ok := reachable[string(tip.ID)]; ok {
		return nil, nil
	}

	// resolve the local versions of the path commits of tip's device
	var path []*Commit
	for _, c := range pathCommits {
		if c.Device != localTip.Device {
			continue
		}
		local, err := s.versions.GetCommit(t.txn, c.ID)
		if err != nil {
			return nil, s.fail(err)
		}
		path = append(path, local)
	}
	sort.Slice(path, func(i, j int) bool { return path[i].Version < path[j].Version })

	saved := 0
	for _, c := range path {
		rows, err := s.data.GetRawEntriesByVersion(t.txn, c.Version)
		if err != nil {
			return nil, s.fail(err)
		}
		for _, rec := range rows {
			if rec.Flag.IsLocal() {
				continue
			}
			ok, err := s.resolve(t, rec)
			if err != nil {
				return nil, s.fail(err)
			}
			if ok {
				saved++
			}
		}
	}
	mergedRowsTotal.Add(saved)
	s.metrics.merges.Mark(int64(saved))

	// AllocCommit sets left to the header, the timestamp is set at commit
	node, err := s.versions.AllocCommit(t.txn, t.version, 0)
	if err != nil {
		return nil, s.fail(err)
	}
	node.Right = localTip.ID
	log.Debugf("merging %d commits of %q: %d rows won", len(path), localTip.Device, saved)
	return node, nil
}

// resolve applies last writer wins to one foreign row and writes it as a
// local row of the merge version if it wins. The decision only depends on
// timestamps, so both sides of a sync reach the same state.
func (s *Store) resolve(t *WriteTxn, in *internal.Record) (bool, error) {
	boundary, err := s.data.clearBoundary(t.txn, t.version)
	if err != nil {
		return false, err
	}
	if boundary != nil && in.Timestamp <= boundary.Timestamp {
		return false, nil
	}

	if in.Flag.Kind() == internal.FlagClear {
		// rows already merged in this transaction that the clear covers
		staged, err := s.data.GetRawEntriesByVersion(t.txn, t.version)
		if err != nil {
			return false, err
		}
		for _, rec := range staged {
			if rec.Timestamp <= in.Timestamp && !bytes.Equal(rec.HashKey[:], internal.ClearHashKey[:]) {
				if err := s.data.deleteRow(t.txn, rec); err != nil {
					return false, err
				}
			}
		}
	} else {
		local, err := s.data.latestLocal(t.txn, in.HashKey, t.version)
		if err != nil {
			return false, err
		}
		if local != nil && !(local.Timestamp < in.Timestamp &&
			(local.OrigTimestamp != in.OrigTimestamp || !sameValue(local.Value, in.Value))) {
			return false, nil
		}
	}

	rec := *in
	rec.Flag = in.Flag.Kind() | internal.FlagLocal
	rec.Version = t.version
	rec.Seq = s.seq.Add(1)
	if err := s.slices.AddRefs(t.txn, rec.Value); err != nil {
		return false, err
	}
	if err := s.data.AddRecord(t.txn, &rec); err != nil {
		return false, err
	}
	t.changed = true
	t.maxTs = max(t.maxTs, rec.Timestamp)
	return true, nil
}
