package mvstore

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db/util"
)

// --------------------------------------------------------------------------
// Version constraints
// --------------------------------------------------------------------------

// pinSet is the multiset of pinned versions. Vacuum never reclaims history
// a pinned version can still observe.
//
// Thread-safety: all methods are safe for concurrent use.
type pinSet struct {
	mu     sync.Mutex
	heap   *util.PinHeap
	nextID atomic.Uint64
}

func newPinSet() *pinSet {
	return &pinSet{heap: util.NewPinHeap()}
}

// Add pins version and returns the handle to release it with
func (p *pinSet) Add(version uint64) uint64 {
	id := p.nextID.Add(1)
	p.mu.Lock()
	p.heap.Pin(id, version)
	p.mu.Unlock()
	return id
}

// Remove releases a pin. It reports false if the handle is unknown.
func (p *pinSet) Remove(id uint64) bool {
	p.mu.Lock()
	_, ok := p.heap.Unpin(id)
	p.mu.Unlock()
	return ok
}

// PinLatest pins the current value of latest. Loading and pinning happen
// under the same lock Trimmable takes, so a concurrent vacuum either sees
// the pin or computed its watermark from an older latest.
func (p *pinSet) PinLatest(latest *atomic.Uint64) (id, version uint64) {
	id = p.nextID.Add(1)
	p.mu.Lock()
	version = latest.Load()
	p.heap.Pin(id, version)
	p.mu.Unlock()
	return id, version
}

// watermark returns the lowest pinned version, or MaxUint64 if nothing is
// pinned. Callers hold mu.
func (p *pinSet) watermark() uint64 {
	if v, ok := p.heap.Min(); ok {
		return v
	}
	return math.MaxUint64
}

// Trimmable returns min(lowest pin, latest)
func (p *pinSet) Trimmable(latest *atomic.Uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return min(p.watermark(), latest.Load())
}

// Pinned returns all pinned versions in ascending order
func (p *pinSet) Pinned() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heap.Versions()
}

// AddVersionConstraint pins version. History visible at version is kept
// until the returned handle is passed to RemoveVersionConstraint.
func (s *Store) AddVersionConstraint(version uint64) uint64 {
	return s.pins.Add(version)
}

// RemoveVersionConstraint releases a pin taken with AddVersionConstraint
func (s *Store) RemoveVersionConstraint(id uint64) {
	if s.pins.Remove(id) {
		s.vacuum.Relaunch()
	}
}

// GetMaxTrimmableVersion returns the highest version vacuum may compact:
// the lowest pin, or the newest committed version if nothing is pinned
func (s *Store) GetMaxTrimmableVersion() uint64 {
	return s.pins.Trimmable(&s.maxCommitVersion)
}
