package mvstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepPass is a vacuum pass of n steps that records how far it got
type stepPass struct {
	steps    int
	stepTime time.Duration
	runs     atomic.Int32
	done     atomic.Int32
	inStep   atomic.Bool
	overlap  atomic.Bool // set if a step ran while a pause was acknowledged
	paused   *atomic.Bool
}

func (p *stepPass) run(checkpoint func() bool) error {
	p.runs.Add(1)
	for i := 0; i < p.steps; i++ {
		if checkpoint() {
			return errPassStopped
		}
		p.inStep.Store(true)
		if p.paused != nil && p.paused.Load() {
			p.overlap.Store(true)
		}
		time.Sleep(p.stepTime)
		p.inStep.Store(false)
	}
	p.done.Add(1)
	return nil
}

func waitState(t *testing.T, v *vacuumScheduler, want VacuumState) {
	t.Helper()
	require.Eventually(t, func() bool { return v.State() == want }, 2*time.Second, time.Millisecond,
		"want state %s", want)
}

func TestVacuumRunsOnStartAndFinishes(t *testing.T) {
	p := &stepPass{steps: 3}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()

	waitState(t, v, VacuumFinish)
	assert.Equal(t, int32(1), p.done.Load())
}

func TestVacuumRelaunch(t *testing.T) {
	p := &stepPass{steps: 1}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()
	waitState(t, v, VacuumFinish)

	v.Relaunch()
	require.Eventually(t, func() bool { return p.done.Load() == 2 }, time.Second, time.Millisecond)
	waitState(t, v, VacuumFinish)
}

func TestVacuumPauseStopsAtCheckpoint(t *testing.T) {
	var paused atomic.Bool
	p := &stepPass{steps: 1000, stepTime: time.Millisecond, paused: &paused}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()

	require.Eventually(t, func() bool { return v.State() == VacuumRunning }, time.Second, time.Millisecond)
	v.Pause()
	paused.Store(true)

	// no step is active once Pause returned
	assert.Equal(t, VacuumPauseDone, v.State())
	assert.False(t, p.inStep.Load())
	time.Sleep(10 * time.Millisecond)
	assert.False(t, p.overlap.Load())
	assert.Equal(t, int32(0), p.done.Load())

	paused.Store(false)
	v.Continue(false)
	// the pass starts over
	require.Eventually(t, func() bool { return p.runs.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestVacuumPauseIsReferenceCounted(t *testing.T) {
	p := &stepPass{steps: 1}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()
	waitState(t, v, VacuumFinish)

	v.Pause()
	v.Pause()
	v.Relaunch()
	// paused in FINISH: not relaunched
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), p.runs.Load())

	v.Continue(false)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), p.runs.Load())
	assert.Equal(t, VacuumFinish, v.State())

	v.Continue(false)
	// the relaunch requested while paused runs now
	require.Eventually(t, func() bool { return p.runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestVacuumContinueWithRelaunch(t *testing.T) {
	p := &stepPass{steps: 1}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()
	waitState(t, v, VacuumFinish)

	v.Pause()
	v.Continue(false)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), p.runs.Load())

	v.Pause()
	v.Continue(true)
	require.Eventually(t, func() bool { return p.runs.Load() == 2 }, time.Second, time.Millisecond)
}

func TestVacuumAbort(t *testing.T) {
	p := &stepPass{steps: 1000, stepTime: time.Millisecond}
	v := newVacuumScheduler(p.run, 0)
	require.Eventually(t, func() bool { return v.State() == VacuumRunning }, time.Second, time.Millisecond)

	v.Abort()
	assert.Equal(t, VacuumAbortDone, v.State())
	assert.False(t, p.inStep.Load())

	// later calls return immediately
	v.Pause()
	v.Continue(true)
	v.Relaunch()
	v.Abort()
	assert.Equal(t, VacuumAbortDone, v.State())
}

func TestVacuumConcurrentPauses(t *testing.T) {
	p := &stepPass{steps: 5, stepTime: time.Millisecond}
	v := newVacuumScheduler(p.run, 0)
	defer v.Abort()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v.Pause()
				assert.False(t, p.inStep.Load())
				v.Continue(j%2 == 0)
			}
		}()
	}
	wg.Wait()
	waitState(t, v, VacuumFinish)
}

func TestVacuumTimer(t *testing.T) {
	p := &stepPass{steps: 1}
	v := newVacuumScheduler(p.run, 5*time.Millisecond)
	defer v.Abort()
	require.Eventually(t, func() bool { return p.runs.Load() >= 3 }, time.Second, time.Millisecond)
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

func rowCount(t *testing.T, s *Store) int {
	n := 0
	err := s.view(func(txn db.Txn) error {
		return txn.Scan([]byte{'d'}, func(_, _ []byte) bool {
			n++
			return true
		})
	})
	require.NoError(t, err)
	return n
}

func TestVacuumCompactsOverwrittenRows(t *testing.T) {
	s := newTestStore(t, "a")

	for i := 0; i < 10; i++ {
		mustPut(t, s, "k", string(rune('a'+i)))
	}
	mustPut(t, s, "other", "x")

	// one row per key survives
	require.Eventually(t, func() bool {
		return rowCount(t, s) == 2 && s.trimmedTo.Load() == s.Version()
	}, 5*time.Second, 5*time.Millisecond)
	v, _ := mustGet(t, s, "k")
	assert.Equal(t, "j", v)
}

func TestVacuumCompactsClearedRows(t *testing.T) {
	s := newTestStore(t, "a")
	mustPut(t, s, "k1", "1")
	mustPut(t, s, "k2", "2")
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	// only the newest clear is left
	require.Eventually(t, func() bool { return rowCount(t, s) == 1 }, 5*time.Second, 5*time.Millisecond)
	entries, err := s.Entries("")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVacuumRespectsPins(t *testing.T) {
	s := newTestStore(t, "a")
	c1 := mustPut(t, s, "k", "1")
	pin := s.AddVersionConstraint(c1.Version)

	mustPut(t, s, "k", "2")
	mustPut(t, s, "k", "3")
	waitVacuumIdle(t, s)
	assert.Equal(t, c1.Version, s.GetMaxTrimmableVersion())

	r, err := s.StartReadAt(context.Background(), c1.ID)
	require.NoError(t, err)
	v, err := r.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	r.Release()

	s.RemoveVersionConstraint(pin)
	require.Eventually(t, func() bool { return rowCount(t, s) == 1 }, 5*time.Second, 5*time.Millisecond)

	// compacted history can no longer be read
	_, err = s.StartReadAt(context.Background(), c1.ID)
	assert.Error(t, err)
}

func TestVacuumKeepsPendingForeignCommits(t *testing.T) {
	a := newTestStore(t, "a")
	b := newTestStore(t, "b")
	mustPut(t, a, "local", "1")
	c := mustPut(t, b, "k", "v")
	entries, err := b.GetCommitEntries(c.ID)
	require.NoError(t, err)

	// no pause between storing and merging: vacuum runs after every commit
	ctx := context.Background()
	require.NoError(t, a.PutCommitData(ctx, c, entries, "b"))
	a.PauseVacuum()
	a.ContinueVacuum()
	waitVacuumIdle(t, a)

	ok, err := a.CommitExists(c.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rowCount(t, a))

	merged, err := a.MergeSyncCommit(ctx, c, []*Commit{c})
	require.NoError(t, err)
	require.NotNil(t, merged)
	v, ok := mustGet(t, a, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// merged: the foreign rows go, the node stays reachable
	require.Eventually(t, func() bool { return rowCount(t, a) == 2 }, 5*time.Second, 5*time.Millisecond)
	ok, err = a.CommitExists(c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVacuumDropsSupersededForeignCommits(t *testing.T) {
	a := newTestStore(t, "a")
	b := newTestStore(t, "b")
	c := mustPut(t, a, "k", "v")
	pull(t, b, a)
	bMerge, err := b.GetHeader()
	require.NoError(t, err)
	require.Equal(t, c.ID, bMerge.Right)

	// b's merge is the only commit a is missing and it only merges a's own
	// history, so a stores it without merging
	ctx := context.Background()
	entries, err := b.GetCommitEntries(bMerge.ID)
	require.NoError(t, err)
	require.NoError(t, a.PutCommitData(ctx, bMerge, entries, "b"))
	merged, err := a.MergeSyncCommit(ctx, bMerge, []*Commit{bMerge})
	require.NoError(t, err)
	assert.Nil(t, merged)

	a.PauseVacuum()
	a.ContinueVacuum()
	require.Eventually(t, func() bool {
		ok, err := a.CommitExists(bMerge.ID)
		return err == nil && !ok
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rowCount(t, a))
	v, ok := mustGet(t, a, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestTrimWatermarkSurvivesReopen(t *testing.T) {
	engine := newFaultyEngine()
	engine.keepOpen = true
	factory := func() (db.KVEngine, error) { return engine, nil }

	s, err := Open(factory, testOptions("a"))
	require.NoError(t, err)
	c1 := mustPut(t, s, "k", "1")
	c2 := mustPut(t, s, "k", "2")
	require.Eventually(t, func() bool { return s.trimmedTo.Load() == c2.Version }, 5*time.Second, 5*time.Millisecond)
	waitVacuumIdle(t, s)
	require.NoError(t, s.Close())

	s, err = Open(factory, testOptions("a"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, c2.Version, s.trimmedTo.Load())

	_, err = s.StartReadAt(context.Background(), c1.ID)
	assert.True(t, store.IsNotFound(err))
	r, err := s.StartReadAt(context.Background(), c2.ID)
	require.NoError(t, err)
	defer r.Release()
	v, err := r.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestVacuumDeletesMergedForeignRows(t *testing.T) {
	a := newTestStore(t, "a")
	b := newTestStore(t, "b")
	mustPut(t, b, "k", "v")
	pull(t, a, b)

	// the foreign row is gone, the merged local row stays
	require.Eventually(t, func() bool { return rowCount(t, a) == 1 }, 5*time.Second, 5*time.Millisecond)
	v, ok := mustGet(t, a, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	all, err := a.GetAllCommitsInTree()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
