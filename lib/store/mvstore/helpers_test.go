package mvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple"
	"github.com/stretchr/testify/require"
)

// testOptions returns options without the periodic vacuum timer
func testOptions(device string) *Options {
	opts := DefaultOptions()
	opts.Device = device
	opts.VacuumInterval = 0
	return opts
}

func mapleFactory() (db.KVEngine, error) { return maple.NewMapleDB(nil), nil }

func newTestStore(t *testing.T, device string) *Store {
	t.Helper()
	s, err := Open(mapleFactory, testOptions(device))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPut(t *testing.T, s *Store, key, value string) *Commit {
	t.Helper()
	txn, err := s.StartTransaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte(key), []byte(value)))
	c, err := txn.Commit()
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func mustGet(t *testing.T, s *Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(key)
	require.NoError(t, err)
	return string(v), ok
}

// pull copies every commit of src that dst is missing and merges src's tip
// into dst, the way the sync layer does it
func pull(t require.TestingT, dst, src *Store) {
	ctx := context.Background()

	latest, err := dst.GetLatestCommits()
	require.NoError(t, err)
	cursors := make(map[string][]byte, len(latest))
	for device, c := range latest {
		cursors[device] = c.ID
	}

	tree, err := src.GetCommitTree(cursors)
	require.NoError(t, err)
	if len(tree) == 0 {
		return
	}

	dst.PauseVacuum()
	defer dst.ContinueVacuum()
	for _, c := range tree {
		entries, err := src.GetCommitEntries(c.ID)
		require.NoError(t, err)
		require.NoError(t, dst.PutCommitData(ctx, c, entries, src.Device()))
	}
	_, err = dst.MergeSyncCommit(ctx, tree[len(tree)-1], tree)
	require.NoError(t, err)
}

// waitVacuumIdle waits until the vacuum actor finished all scheduled passes
func waitVacuumIdle(t *testing.T, s *Store) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.VacuumState() == VacuumFinish
	}, 5*time.Second, 5*time.Millisecond)
}

// --------------------------------------------------------------------------
// Fault injection
// --------------------------------------------------------------------------

// faultyEngine wraps an engine and fails operations selected by its hooks
type faultyEngine struct {
	db.KVEngine

	mu       sync.Mutex
	onSet    func(key []byte) error
	onCommit func() error
	closed   bool
	keepOpen bool
}

func newFaultyEngine() *faultyEngine {
	return &faultyEngine{KVEngine: maple.NewMapleDB(nil)}
}

func (f *faultyEngine) setHooks(onSet func(key []byte) error, onCommit func() error) {
	f.mu.Lock()
	f.onSet, f.onCommit = onSet, onCommit
	f.mu.Unlock()
}

func (f *faultyEngine) hooks() (func(key []byte) error, func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onSet, f.onCommit
}

func (f *faultyEngine) Begin(writable bool) (db.Txn, error) {
	txn, err := f.KVEngine.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &faultyTxn{Txn: txn, engine: f}, nil
}

// Close keeps the data if keepOpen is set, so a store can be reopened on it
func (f *faultyEngine) Close() error {
	if f.keepOpen {
		return nil
	}
	return f.KVEngine.Close()
}

type faultyTxn struct {
	db.Txn
	engine *faultyEngine
}

func (t *faultyTxn) Set(key, value []byte) error {
	if onSet, _ := t.engine.hooks(); onSet != nil {
		if err := onSet(key); err != nil {
			return err
		}
	}
	return t.Txn.Set(key, value)
}

func (t *faultyTxn) Commit() error {
	if _, onCommit := t.engine.hooks(); onCommit != nil {
		if err := onCommit(); err != nil {
			t.Txn.Rollback()
			return err
		}
	}
	return t.Txn.Commit()
}
