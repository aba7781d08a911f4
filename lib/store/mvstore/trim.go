package mvstore

import (
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
)

// vacuumPass reclaims history below the trimmable version. Every step is
// its own engine transaction; checkpoint is polled between steps.
//
//  1. header chain commits: rows shadowed by a newer local row of the same
//     key, or hidden by a clear, are deleted
//  2. foreign commits reachable through a right parent: their rows were
//     merged as local rows and are deleted
//  3. commits not reachable from the header and not pending: node and
//     rows are deleted. A foreign commit stays pending from PutCommitData
//     until a MergeSyncCommit covers it.
func (s *Store) vacuumPass(checkpoint func() bool) error {
	start := time.Now()
	watermark := s.GetMaxTrimmableVersion()
	if watermark == 0 {
		return nil
	}

	var (
		chain     []*Commit
		reachable map[string]*Commit
		pending   map[string]struct{}
		all       []*Commit
	)
	err := s.view(func(txn db.Txn) (err error) {
		if chain, err = s.versions.headerChain(txn); err != nil {
			return err
		}
		if reachable, err = s.versions.reachable(txn); err != nil {
			return err
		}
		if pending, err = s.versions.pending(txn); err != nil {
			return err
		}
		all, err = s.versions.AllCommits(txn)
		return err
	})
	if err != nil {
		return err
	}

	rows := 0
	onChain := make(map[string]struct{}, len(chain))
	for _, c := range chain {
		onChain[string(c.ID)] = struct{}{}
		if c.Version <= s.trimmedTo.Load() || c.Version > watermark {
			continue
		}
		if checkpoint() {
			return errPassStopped
		}
		n, err := s.vacuumStep(func(txn db.Txn) (int, error) {
			n, err := s.trimLocalCommit(txn, c.Version)
			if err != nil {
				return 0, err
			}
			return n, txn.Set(internal.MetaKey(metaTrimmed), internal.EncodeU64(c.Version))
		})
		if err != nil {
			return err
		}
		rows += n
		s.trimmedTo.Store(c.Version)
	}

	for _, c := range all {
		if c.Version > watermark {
			continue
		}
		if _, ok := onChain[string(c.ID)]; ok {
			continue
		}
		_, isReachable := reachable[string(c.ID)]
		if _, ok := pending[string(c.ID)]; ok && !isReachable {
			continue
		}
		if checkpoint() {
			return errPassStopped
		}
		n, err := s.vacuumStep(func(txn db.Txn) (int, error) {
			n, err := s.data.DeleteVersion(txn, c.Version)
			if err != nil || isReachable {
				return n, err
			}
			log.Debugf("vacuum: dropping unreachable commit %x (version %d)", c.ID, c.Version)
			return n, s.versions.deleteCommit(txn, c.ID)
		})
		if err != nil {
			return err
		}
		rows += n
	}

	s.metrics.vacuumDone(start, rows)
	if rows > 0 {
		vacuumLog.Infof("vacuum pass up to version %d deleted %d rows", watermark, rows)
	}
	return nil
}

// vacuumStep runs fn in its own write transaction
func (s *Store) vacuumStep(fn func(txn db.Txn) (int, error)) (int, error) {
	var n int
	err := s.update(func(txn db.Txn) (err error) {
		n, err = fn(txn)
		return err
	})
	return n, err
}

// trimLocalCommit deletes the rows the local rows of version v make
// unreachable for every reader at v or later
func (s *Store) trimLocalCommit(txn db.Txn, v uint64) (int, error) {
	rows, err := s.data.GetRawEntriesByVersion(txn, v)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range rows {
		if !rec.Flag.IsLocal() {
			continue
		}
		if rec.Flag.Kind() != internal.FlagClear {
			n, err := s.data.DeleteEntriesByHashKey(txn, v, rec.HashKey)
			if err != nil {
				return 0, err
			}
			deleted += n
			continue
		}
		hidden, err := s.data.GetOverwrittenClearTypeEntries(txn, v)
		if err != nil {
			return 0, err
		}
		for _, h := range hidden {
			if err := s.data.deleteRow(txn, h); err != nil {
				return 0, err
			}
		}
		deleted += len(hidden)
	}
	return deleted, nil
}
