package mvstore

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
)

// --------------------------------------------------------------------------
// DataStore
// --------------------------------------------------------------------------

// dataStore is the append-only record log. A record is keyed by
// (hashKey, version); writing the same hash key twice in one version
// replaces the row. Reads only consider local rows. Foreign rows written
// by PutCommitData stay invisible until a merge rewrites the winners as
// local rows.
//
// Every method takes the engine transaction to work on. Scans are never
// nested: rows are collected first and processed afterwards.
type dataStore struct {
	slices *sliceStore
}

func newDataStore(slices *sliceStore) *dataStore {
	return &dataStore{slices: slices}
}

// rowFilter selects rows of rowsOf
type rowFilter struct {
	maxVersion uint64 // inclusive
	localOnly  bool
}

// rowsOf returns the rows of h ordered by version
func (d *dataStore) rowsOf(txn db.Txn, h internal.Hash, f rowFilter) ([]*internal.Record, error) {
	var (
		rows    []*internal.Record
		decErr  error
		prefix  = internal.DataPrefix(h)
		version uint64
	)
	err := txn.Scan(prefix, func(k, v []byte) bool {
		_, version, decErr = internal.ParseDataKey(k)
		if decErr != nil {
			return false
		}
		if version > f.maxVersion {
			return false
		}
		rec, err := internal.DecodeRecord(v)
		if err != nil {
			decErr = err
			return false
		}
		if f.localOnly && !rec.Flag.IsLocal() {
			return true
		}
		rows = append(rows, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "data row of %x: %v", h[:8], decErr)
	}
	return rows, nil
}

// clearBoundary returns the newest local clear row with version <= v
func (d *dataStore) clearBoundary(txn db.Txn, v uint64) (*internal.Record, error) {
	clears, err := d.rowsOf(txn, internal.ClearHashKey, rowFilter{maxVersion: v, localOnly: true})
	if err != nil {
		return nil, err
	}
	var boundary *internal.Record
	for _, c := range clears {
		if boundary == nil || c.Newer(boundary) {
			boundary = c
		}
	}
	return boundary, nil
}

// visible returns the row of h that a read at version v sees, nil if the
// key does not exist at v. A DEL row is returned as well; callers check the
// flag.
func (d *dataStore) visible(txn db.Txn, h internal.Hash, v uint64) (*internal.Record, error) {
	boundary, err := d.clearBoundary(txn, v)
	if err != nil {
		return nil, err
	}
	rows, err := d.rowsOf(txn, h, rowFilter{maxVersion: v, localOnly: true})
	if err != nil {
		return nil, err
	}
	// rows are ordered by version, the newest one not hidden by the clear wins
	for i := len(rows) - 1; i >= 0; i-- {
		if boundary == nil || !boundary.Newer(rows[i]) {
			return rows[i], nil
		}
	}
	return nil, nil
}

// latestLocal returns the newest local row of h with version <= v,
// regardless of clears. Used by conflict resolution.
func (d *dataStore) latestLocal(txn db.Txn, h internal.Hash, v uint64) (*internal.Record, error) {
	rows, err := d.rowsOf(txn, h, rowFilter{maxVersion: v, localOnly: true})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[len(rows)-1], nil
}

// Get returns the value of key at version v
func (d *dataStore) Get(txn db.Txn, key []byte, v uint64) ([]byte, error) {
	rec, err := d.visible(txn, hashKey(key), v)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Flag.Kind() != internal.FlagAdd {
		return nil, store.NewError(store.RetCNotFound, "key not found")
	}
	return d.slices.Load(txn, rec.Value)
}

// GetEntries returns all pairs whose key starts with prefix at version v,
// ordered by key
func (d *dataStore) GetEntries(txn db.Txn, prefix []byte, v uint64) ([]store.Entry, error) {
	var (
		keys    []string
		seen    = make(map[string]struct{})
		scanErr error
	)
	err := txn.Scan(internal.KeyIndexPrefix(prefix), func(k, _ []byte) bool {
		userKey, version, err := internal.ParseKeyIndexKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if version > v {
			return true
		}
		if _, ok := seen[string(userKey)]; !ok {
			seen[string(userKey)] = struct{}{}
			keys = append(keys, string(userKey))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "key index: %v", scanErr)
	}
	sort.Strings(keys)

	entries := make([]store.Entry, 0, len(keys))
	for _, k := range keys {
		value, err := d.Get(txn, []byte(k), v)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, store.Entry{Key: k, Value: value})
	}
	return entries, nil
}

// AddRecord writes rec. A row of the same hash key at the same version is
// replaced and its slices are released.
func (d *dataStore) AddRecord(txn db.Txn, rec *internal.Record) error {
	old, err := d.rowAt(txn, rec.HashKey, rec.Version)
	if err != nil {
		return err
	}
	if old != nil {
		if err := d.deleteRow(txn, old); err != nil {
			return err
		}
	}

	if err := txn.Set(internal.DataKey(rec.HashKey, rec.Version), internal.EncodeRecord(rec)); err != nil {
		return err
	}
	if err := txn.Set(internal.VersionKey(rec.Version, rec.HashKey), nil); err != nil {
		return err
	}
	if rec.Flag.Kind() == internal.FlagAdd {
		return txn.Set(internal.KeyIndexKey(rec.Key, rec.Version), nil)
	}
	return nil
}

// rowAt returns the row of h written at exactly version v
func (d *dataStore) rowAt(txn db.Txn, h internal.Hash, v uint64) (*internal.Record, error) {
	raw, err := txn.Get(internal.DataKey(h, v))
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := internal.DecodeRecord(raw)
	if err != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "data row %x@%d: %v", h[:8], v, err)
	}
	return rec, nil
}

// deleteRow removes rec with its index entries and releases its slices
func (d *dataStore) deleteRow(txn db.Txn, rec *internal.Record) error {
	if err := txn.Delete(internal.DataKey(rec.HashKey, rec.Version)); err != nil {
		return err
	}
	if err := txn.Delete(internal.VersionKey(rec.Version, rec.HashKey)); err != nil {
		return err
	}
	if rec.Flag.Kind() == internal.FlagAdd {
		if err := txn.Delete(internal.KeyIndexKey(rec.Key, rec.Version)); err != nil {
			return err
		}
	}
	return d.slices.Release(txn, rec.Value)
}

// GetRawEntriesByVersion returns every row written at version v in
// insertion order
func (d *dataStore) GetRawEntriesByVersion(txn db.Txn, v uint64) ([]*internal.Record, error) {
	var (
		hashes  []internal.Hash
		scanErr error
	)
	err := txn.Scan(internal.VersionPrefix(v), func(k, _ []byte) bool {
		h, err := internal.ParseVersionKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		hashes = append(hashes, h)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "version index: %v", scanErr)
	}

	rows := make([]*internal.Record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := d.rowAt(txn, h, v)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, store.Errorf(store.RetCUnexpectedData, "version index points to missing row %x@%d", h[:8], v)
		}
		rows = append(rows, rec)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows, nil
}

// DeleteVersion removes every row written at version v. It undoes phase one
// of a write transaction whose commit node could not be written.
func (d *dataStore) DeleteVersion(txn db.Txn, v uint64) (int, error) {
	rows, err := d.GetRawEntriesByVersion(txn, v)
	if err != nil {
		return 0, err
	}
	for _, rec := range rows {
		if err := d.deleteRow(txn, rec); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// GetOverwrittenClearTypeEntries returns the local rows hidden by the clear
// written at clearVersion: rows older than the clear, including older
// clears.
func (d *dataStore) GetOverwrittenClearTypeEntries(txn db.Txn, clearVersion uint64) ([]*internal.Record, error) {
	clearRow, err := d.rowAt(txn, internal.ClearHashKey, clearVersion)
	if err != nil || clearRow == nil {
		return nil, err
	}

	var (
		out     []*internal.Record
		scanErr error
	)
	err = txn.Scan(internal.AllDataPrefix(), func(k, v []byte) bool {
		_, version, err := internal.ParseDataKey(k)
		if err != nil {
			scanErr = err
			return false
		}
		if version >= clearVersion {
			return true
		}
		rec, err := internal.DecodeRecord(v)
		if err != nil {
			scanErr = err
			return false
		}
		if rec.Flag.IsLocal() && clearRow.Newer(rec) {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "data rows: %v", scanErr)
	}
	return out, nil
}

// GetOverwrittenNonClearTypeEntries returns the local rows of h written
// before version
func (d *dataStore) GetOverwrittenNonClearTypeEntries(txn db.Txn, version uint64, h internal.Hash) ([]*internal.Record, error) {
	if version == 0 {
		return nil, nil
	}
	return d.rowsOf(txn, h, rowFilter{maxVersion: version - 1, localOnly: true})
}

// DeleteEntriesByHashKey removes the local rows of h written before version
func (d *dataStore) DeleteEntriesByHashKey(txn db.Txn, version uint64, h internal.Hash) (int, error) {
	rows, err := d.GetOverwrittenNonClearTypeEntries(txn, version, h)
	if err != nil {
		return 0, err
	}
	for _, rec := range rows {
		if err := d.deleteRow(txn, rec); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// GetMaxVersion returns the highest version of any row, and the highest
// timestamp and sequence number seen
func (d *dataStore) GetMaxVersion(txn db.Txn) (version, timestamp, seq uint64, err error) {
	var scanErr error
	err = txn.Scan(internal.AllDataPrefix(), func(k, v []byte) bool {
		rec, err := internal.DecodeRecord(v)
		if err != nil {
			scanErr = err
			return false
		}
		version = max(version, rec.Version)
		timestamp = max(timestamp, rec.Timestamp)
		seq = max(seq, rec.Seq)
		return true
	})
	if err == nil && scanErr != nil {
		err = store.Errorf(store.RetCUnexpectedData, "data rows: %v", scanErr)
	}
	return version, timestamp, seq, err
}

// --------------------------------------------------------------------------
// Diff
// --------------------------------------------------------------------------

// GetDiffEntries classifies the local rows written at version end against
// the state at version begin
func (d *dataStore) GetDiffEntries(txn db.Txn, begin, end uint64) (*Diff, error) {
	rows, err := d.GetRawEntriesByVersion(txn, end)
	if err != nil {
		return nil, err
	}

	diff := &Diff{}
	cleared := false
	for _, rec := range rows {
		if !rec.Flag.IsLocal() {
			continue
		}
		if rec.Flag.Kind() == internal.FlagClear {
			// a clear makes everything before it irrelevant
			diff.Inserted, diff.Updated, diff.Deleted = nil, nil, nil
			diff.IsCleared = true
			cleared = true
			continue
		}

		var before *internal.Record
		if !cleared {
			if before, err = d.visible(txn, rec.HashKey, begin); err != nil {
				return nil, err
			}
			if before != nil && before.Flag.Kind() != internal.FlagAdd {
				before = nil
			}
		}

		switch rec.Flag.Kind() {
		case internal.FlagAdd:
			value, err := d.slices.Load(txn, rec.Value)
			if err != nil {
				return nil, err
			}
			entry := DiffEntry{Key: rec.Key, Value: value}
			if before == nil {
				diff.Inserted = append(diff.Inserted, entry)
			} else {
				diff.Updated = append(diff.Updated, entry)
			}
		case internal.FlagDel:
			if before == nil {
				continue
			}
			value, err := d.slices.Load(txn, before.Value)
			if err != nil {
				return nil, err
			}
			diff.Deleted = append(diff.Deleted, DiffEntry{Key: rec.Key, Value: value})
		}
	}
	sortDiff(diff)
	return diff, nil
}

func sortDiff(d *Diff) {
	for _, l := range [][]DiffEntry{d.Inserted, d.Updated, d.Deleted} {
		sort.Slice(l, func(i, j int) bool { return bytes.Compare(l[i].Key, l[j].Key) < 0 })
	}
}
