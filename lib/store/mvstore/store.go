package mvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/lockmgr"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"
)

var log = logger.GetLogger("mvstore")

const (
	writeLockKey = "mvstore/write"

	metaSeq       = "seq"
	metaTimestamp = "timestamp"
	metaCommitted = "committed"
	metaTrimmed   = "trimmed"
)

// Store is a multi-version store. Every committed write transaction
// produces a new version and a commit node; reads are anchored at a
// version and never block on writers. Foreign histories are integrated with
// PutCommitData and MergeSyncCommit.
//
// Thread-safety: all methods are safe for concurrent use. At most one
// write transaction is open at a time.
type Store struct {
	opts   Options
	engine db.KVEngine

	data     *dataStore
	versions *versionStore
	slices   *sliceStore

	clock            *clock
	seq              atomic.Uint64
	maxCommitVersion atomic.Uint64

	locks     lockmgr.ILockManager
	pins      *pinSet
	reads     *semaphore.Weighted
	vacuum    *vacuumScheduler
	observers *observerHub
	metrics   *storeMetrics

	// newest header chain version compacted by vacuum, persisted as
	// metaTrimmed
	trimmedTo atomic.Uint64

	corrupted   atomic.Bool
	corruptOnce sync.Once
	closed      atomic.Bool
	closeOnce   sync.Once
}

// Open opens the store on the engine returned by factory and recovers from
// an interrupted commit.
func Open(factory store.DBFactory, opts *Options) (*Store, error) {
	o := opts.withDefaults()

	engine, err := factory()
	if err != nil {
		return nil, store.FromEngine(err)
	}
	slices, err := newSliceStore(&o)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	s := &Store{
		opts:     o,
		engine:   engine,
		data:     newDataStore(slices),
		versions: newVersionStore(o.Device),
		slices:   slices,
		clock:    newClock(o.Now),
		locks:    lockmgr.NewLockManager(),
		pins:     newPinSet(),
		reads:    semaphore.NewWeighted(int64(o.ReadPoolSize)),
		metrics:  newStoreMetrics(),
	}

	if err := s.recover(); err != nil {
		slices.close()
		_ = engine.Close()
		return nil, err
	}

	s.observers = newObserverHub(s)
	s.vacuum = newVacuumScheduler(s.vacuumPass, o.VacuumInterval)

	log.Infof("opened multi-version store (device=%q, version=%d)", o.Device, s.maxCommitVersion.Load())
	return s, nil
}

// NewMultiVersionStore opens a Store and returns it as store.IStore
func NewMultiVersionStore(factory store.DBFactory, opts *Options) (store.IStore, error) {
	return Open(factory, opts)
}

// recover rolls back rows of versions without a commit node and restores
// the counters and the compaction watermark kept in the meta keys
func (s *Store) recover() error {
	return s.update(func(txn db.Txn) error {
		maxCommit, err := s.versions.GetMaxCommitVersion(txn)
		if err != nil {
			return err
		}
		maxRow, maxTs, maxSeq, err := s.data.GetMaxVersion(txn)
		if err != nil {
			return err
		}

		for v := maxCommit + 1; v <= maxRow; v++ {
			n, err := s.data.DeleteVersion(txn, v)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Warningf("recovery: rolled back %d rows of uncommitted version %d", n, v)
			}
		}

		committed, err := s.getMeta(txn, metaCommitted)
		if err != nil {
			return err
		}
		if committed != maxCommit {
			log.Warningf("recovery: committed marker %d differs from newest commit node %d", committed, maxCommit)
			if err := txn.Set(internal.MetaKey(metaCommitted), internal.EncodeU64(maxCommit)); err != nil {
				return err
			}
		}

		seq, err := s.getMeta(txn, metaSeq)
		if err != nil {
			return err
		}
		ts, err := s.getMeta(txn, metaTimestamp)
		if err != nil {
			return err
		}
		trimmed, err := s.getMeta(txn, metaTrimmed)
		if err != nil {
			return err
		}
		commits, err := s.versions.AllCommits(txn)
		if err != nil {
			return err
		}
		for _, c := range commits {
			ts = max(ts, c.Timestamp)
		}

		s.seq.Store(max(seq, maxSeq))
		s.clock.Observe(max(ts, maxTs))
		s.maxCommitVersion.Store(maxCommit)
		s.trimmedTo.Store(min(trimmed, maxCommit))
		return nil
	})
}

func (s *Store) getMeta(txn db.Txn, name string) (uint64, error) {
	raw, err := txn.Get(internal.MetaKey(name))
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := internal.DecodeU64(raw)
	if err != nil {
		return 0, store.Errorf(store.RetCUnexpectedData, "meta %q: %v", name, err)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Engine helpers
// --------------------------------------------------------------------------

// check rejects calls on a closed or corrupted store
func (s *Store) check() error {
	if s.closed.Load() {
		return store.NewError(store.RetCInternalError, "store is closed")
	}
	if s.corrupted.Load() {
		return store.NewError(store.RetCCorrupted, "store is corrupted, reopen it")
	}
	return nil
}

// fail converts err into a store error. A corruption is made sticky and
// reported to OnCorruption once.
func (s *Store) fail(err error) error {
	if err == nil {
		return nil
	}
	err = store.FromEngine(err)
	if store.IsCorrupted(err) && s.corrupted.CompareAndSwap(false, true) {
		corruptionsTotal.Inc()
		log.Errorf("store corrupted: %v", err)
		s.corruptOnce.Do(func() {
			if cb := s.opts.OnCorruption; cb != nil {
				go cb(err)
			}
		})
	}
	return err
}

// update runs fn in one engine write transaction
func (s *Store) update(fn func(txn db.Txn) error) error {
	txn, err := s.engine.Begin(true)
	if err != nil {
		return s.fail(err)
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return s.fail(err)
	}
	return s.fail(txn.Commit())
}

// view runs fn in one engine read transaction
func (s *Store) view(fn func(txn db.Txn) error) error {
	txn, err := s.engine.Begin(false)
	if err != nil {
		return s.fail(err)
	}
	defer txn.Rollback()
	return s.fail(fn(txn))
}

// --------------------------------------------------------------------------
// Versions and commits
// --------------------------------------------------------------------------

// Version returns the newest committed version
func (s *Store) Version() uint64 {
	return s.maxCommitVersion.Load()
}

// GetHeader returns the header commit, nil if the store has no commit
func (s *Store) GetHeader() (*Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var c *Commit
	err := s.view(func(txn db.Txn) error {
		id, err := s.versions.GetHeader(txn)
		if err != nil || id == nil {
			return err
		}
		c, err = s.versions.GetCommit(txn, id)
		return err
	})
	return c, err
}

// GetCommit returns the node with id
func (s *Store) GetCommit(id []byte) (*Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var c *Commit
	err := s.view(func(txn db.Txn) (err error) {
		c, err = s.versions.GetCommit(txn, id)
		return err
	})
	return c, err
}

// CommitExists reports whether a node with id is stored
func (s *Store) CommitExists(id []byte) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var ok bool
	err := s.view(func(txn db.Txn) (err error) {
		ok, err = s.versions.CommitExists(txn, id)
		return err
	})
	return ok, err
}

// GetLatestCommits returns the newest reachable commit per device
func (s *Store) GetLatestCommits() (map[string]*Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out map[string]*Commit
	err := s.view(func(txn db.Txn) (err error) {
		out, err = s.versions.GetLatestCommits(txn)
		return err
	})
	return out, err
}

// GetCommitTree returns the reachable commits newer than knownTips, lowest
// version first
func (s *Store) GetCommitTree(knownTips map[string][]byte) ([]*Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*Commit
	err := s.view(func(txn db.Txn) (err error) {
		out, err = s.versions.GetCommitTree(txn, knownTips)
		return err
	})
	return out, err
}

// GetAllCommitsInTree returns every reachable commit, highest version first
func (s *Store) GetAllCommitsInTree() ([]*Commit, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*Commit
	err := s.view(func(txn db.Txn) (err error) {
		out, err = s.versions.GetAllCommitsInTree(txn)
		return err
	})
	return out, err
}

// GetCommitEntries exports the rows of a commit without the local bit.
// Rows that vacuum already reclaimed are not part of the result.
func (s *Store) GetCommitEntries(id []byte) ([]CommitEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []CommitEntry
	err := s.view(func(txn db.Txn) error {
		c, err := s.versions.GetCommit(txn, id)
		if err != nil {
			return err
		}
		rows, err := s.data.GetRawEntriesByVersion(txn, c.Version)
		if err != nil {
			return err
		}
		out = make([]CommitEntry, 0, len(rows))
		for _, rec := range rows {
			var value []byte
			if rec.Flag.Kind() == internal.FlagAdd {
				if value, err = s.slices.Load(txn, rec.Value); err != nil {
					return err
				}
			}
			out = append(out, CommitEntry{
				Key:           rec.Key,
				Value:         value,
				Flag:          rec.Flag.Kind(),
				Timestamp:     rec.Timestamp,
				OrigTimestamp: rec.OrigTimestamp,
			})
		}
		return nil
	})
	return out, err
}

// GetDiffEntries returns the changes made by commit endID relative to the
// state at commit beginID. An empty beginID compares against the empty
// store. A beginID whose history vacuum already compacted is NotFound;
// otherwise begin is pinned while the diff is computed.
func (s *Store) GetDiffEntries(beginID, endID []byte) (*Diff, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if len(beginID) == 0 {
		return s.diff(beginID, endID)
	}
	begin, err := s.GetCommit(beginID)
	if err != nil {
		return nil, err
	}

	s.vacuum.Pause()
	if begin.Version < s.trimmedTo.Load() {
		s.vacuum.Continue(false)
		return nil, store.Errorf(store.RetCNotFound, "version %d of commit %x was already compacted", begin.Version, beginID)
	}
	pin := s.pins.Add(begin.Version)
	s.vacuum.Continue(false)
	defer s.pins.Remove(pin)

	return s.diff(beginID, endID)
}

func (s *Store) diff(beginID, endID []byte) (*Diff, error) {
	var diff *Diff
	err := s.view(func(txn db.Txn) error {
		end, err := s.versions.GetCommit(txn, endID)
		if err != nil {
			return err
		}
		var begin uint64
		if len(beginID) > 0 {
			b, err := s.versions.GetCommit(txn, beginID)
			if err != nil {
				return err
			}
			begin = b.Version
		}
		if begin > end.Version {
			return store.Errorf(store.RetCInvalidArgs, "begin version %d after end version %d", begin, end.Version)
		}
		if diff, err = s.data.GetDiffEntries(txn, begin, end.Version); err != nil {
			return err
		}
		diff.StartCommitID = beginID
		diff.EndCommitID = endID
		return nil
	})
	return diff, err
}

// PauseVacuum blocks until no vacuum write is active and keeps vacuum
// paused until ContinueVacuum. The sync layer holds it for the length of
// a pull.
func (s *Store) PauseVacuum() { s.vacuum.Pause() }

// ContinueVacuum undoes one PauseVacuum and schedules a pass
func (s *Store) ContinueVacuum() { s.vacuum.Continue(true) }

// VacuumState returns the state of the vacuum actor
func (s *Store) VacuumState() VacuumState { return s.vacuum.State() }

// Device returns the tag of local commits
func (s *Store) Device() string { return s.opts.Device }

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// Info describes the state of a store
type Info struct {
	Kind        store.Kind      `json:"kind"`
	Device      string          `json:"device"`
	Version     uint64          `json:"version"`
	Header      []byte          `json:"header,omitempty"`
	Commits     int             `json:"commits"`
	Slices      int             `json:"slices"`
	Pins        []uint64        `json:"pins,omitempty"`
	Trimmable   uint64          `json:"trimmable_version"`
	VacuumState string          `json:"vacuum_state"`
	Corrupted   bool            `json:"corrupted"`
	Metrics     MetricsInfo     `json:"metrics"`
	Engine      db.DatabaseInfo `json:"engine"`
}

// GetInfo returns the current state of the store
func (s *Store) GetInfo() (*Info, error) {
	if s.closed.Load() {
		return nil, store.NewError(store.RetCInternalError, "store is closed")
	}
	info := &Info{
		Kind:        store.KindMultiVersion,
		Device:      s.opts.Device,
		Version:     s.maxCommitVersion.Load(),
		Pins:        s.pins.Pinned(),
		Trimmable:   s.GetMaxTrimmableVersion(),
		VacuumState: s.vacuum.State().String(),
		Corrupted:   s.corrupted.Load(),
		Metrics:     s.metrics.snapshot(),
		Engine:      s.engine.GetInfo(),
	}
	err := s.view(func(txn db.Txn) error {
		header, err := s.versions.GetHeader(txn)
		if err != nil {
			return err
		}
		info.Header = header
		commits, err := s.versions.AllCommits(txn)
		if err != nil {
			return err
		}
		info.Commits = len(commits)
		info.Slices, err = s.slices.Count(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// --------------------------------------------------------------------------
// IStore
// --------------------------------------------------------------------------

// write runs fn in a write transaction and commits it
func (s *Store) write(fn func(t *WriteTxn) error) error {
	t, err := s.StartTransaction(context.Background())
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		t.Rollback()
		return err
	}
	_, err = t.Commit()
	return err
}

func (s *Store) Put(key string, value []byte) error {
	return s.write(func(t *WriteTxn) error { return t.Put([]byte(key), value) })
}

func (s *Store) Delete(key string) error {
	return s.write(func(t *WriteTxn) error { return t.Delete([]byte(key)) })
}

func (s *Store) Clear() error {
	return s.write(func(t *WriteTxn) error { return t.Clear() })
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	r, err := s.StartRead(context.Background())
	if err != nil {
		return nil, false, err
	}
	defer r.Release()
	value, err := r.Get([]byte(key))
	if store.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *Store) Entries(prefix string) ([]store.Entry, error) {
	r, err := s.StartRead(context.Background())
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return r.Entries([]byte(prefix))
}

func (s *Store) GetDBInfo() (db.DatabaseInfo, error) {
	info, err := s.GetInfo()
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	engine := info.Engine
	engine.Metadata = info
	return engine, nil
}

// Close stops the vacuum actor and the observer dispatcher and closes the
// engine. Open transactions must be finished before.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.observers.close()
		s.vacuum.Abort()
		s.slices.close()
		if cerr := s.engine.Close(); cerr != nil {
			err = fmt.Errorf("close engine: %w", cerr)
		}
		log.Infof("closed multi-version store (device=%q)", s.opts.Device)
	})
	return err
}
