package mvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type diffRecorder struct {
	mu    sync.Mutex
	diffs []*Diff
}

func (r *diffRecorder) observe(d *Diff) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.mu.Unlock()
}

func (r *diffRecorder) wait(t *testing.T, n int) []*Diff {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.diffs) >= n
	}, 5*time.Second, time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Diff(nil), r.diffs...)
}

func keysOf(entries []DiffEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Key)
	}
	return out
}

func TestObserverReceivesDiffs(t *testing.T) {
	s := newTestStore(t, "a")
	rec := &diffRecorder{}
	id := s.RegisterObserver(rec.observe)

	c1 := mustPut(t, s, "a", "1")

	txn, err := s.StartTransaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("a"), []byte("2")))
	require.NoError(t, txn.Put([]byte("b"), []byte("3")))
	c2, err := txn.Commit()
	require.NoError(t, err)

	require.NoError(t, s.Delete("b"))

	diffs := rec.wait(t, 3)
	assert.Empty(t, diffs[0].StartCommitID)
	assert.Equal(t, c1.ID, diffs[0].EndCommitID)
	assert.Equal(t, []string{"a"}, keysOf(diffs[0].Inserted))

	assert.Equal(t, c1.ID, diffs[1].StartCommitID)
	assert.Equal(t, c2.ID, diffs[1].EndCommitID)
	assert.Equal(t, []string{"b"}, keysOf(diffs[1].Inserted))
	assert.Equal(t, []string{"a"}, keysOf(diffs[1].Updated))
	assert.Equal(t, []byte("2"), diffs[1].Updated[0].Value)

	// the deleted entry carries the deleted value
	require.Len(t, diffs[2].Deleted, 1)
	assert.Equal(t, DiffEntry{Key: []byte("b"), Value: []byte("3")}, diffs[2].Deleted[0])

	s.UnregisterObserver(id)
	mustPut(t, s, "c", "4")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.wait(t, 3), 3)

	// every pin taken for a delivery is released
	require.Eventually(t, func() bool { return len(s.pins.Pinned()) == 0 }, time.Second, time.Millisecond)
}

func TestObserverClearDiff(t *testing.T) {
	s := newTestStore(t, "a")
	mustPut(t, s, "a", "1")

	rec := &diffRecorder{}
	s.RegisterObserver(rec.observe)

	txn, err := s.StartTransaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("x"), []byte("lost")))
	require.NoError(t, txn.Clear())
	require.NoError(t, txn.Put([]byte("a"), []byte("again")))
	_, err = txn.Commit()
	require.NoError(t, err)

	d := rec.wait(t, 1)[0]
	assert.True(t, d.IsCleared)
	// after the clear every key counts as new
	assert.Equal(t, []string{"a"}, keysOf(d.Inserted))
	assert.Empty(t, d.Updated)
	assert.Empty(t, d.Deleted)
}

func TestObserverSeesMerge(t *testing.T) {
	a := newTestStore(t, "a")
	b := newTestStore(t, "b")
	rec := &diffRecorder{}
	a.RegisterObserver(rec.observe)

	mustPut(t, b, "remote", "1")
	pull(t, a, b)

	d := rec.wait(t, 1)[0]
	assert.Equal(t, []string{"remote"}, keysOf(d.Inserted))
}

func TestGetDiffEntriesRange(t *testing.T) {
	s := newTestStore(t, "a")
	c1 := mustPut(t, s, "k", "1")
	pin := s.AddVersionConstraint(c1.Version)
	c2 := mustPut(t, s, "k", "2")
	waitVacuumIdle(t, s)

	d, err := s.GetDiffEntries(c1.ID, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keysOf(d.Updated))
	assert.Empty(t, d.Inserted)
	assert.False(t, d.Empty())

	_, err = s.GetDiffEntries(c2.ID, c1.ID)
	assert.Error(t, err)
	_, err = s.GetDiffEntries(nil, []byte("missing"))
	assert.Error(t, err)

	// without the pin vacuum compacts c1 and the range is gone
	s.RemoveVersionConstraint(pin)
	s.PauseVacuum()
	s.ContinueVacuum()
	require.Eventually(t, func() bool { return s.trimmedTo.Load() == c2.Version }, 5*time.Second, 5*time.Millisecond)
	_, err = s.GetDiffEntries(c1.ID, c2.ID)
	assert.True(t, store.IsNotFound(err))

	// an empty begin does not depend on history
	d, err = s.GetDiffEntries(nil, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keysOf(d.Inserted))
}
