package mvstore

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// Observer receives the diff of every local or merge commit, in commit
// order, on the dispatcher goroutine. It must not block for long.
type Observer func(diff *Diff)

type notification struct {
	begin  []byte // header before the commit, may be empty
	end    *Commit
	pin    uint64
	pinned bool
}

// observerHub delivers diffs asynchronously. The version before a commit is
// pinned until its diff was delivered, so vacuum keeps what the diff is
// computed against.
type observerHub struct {
	s         *Store
	observers *xsync.MapOf[uint64, Observer]
	nextID    atomic.Uint64
	inbox     *util.Mailbox[notification]
	done      sync.WaitGroup
}

func newObserverHub(s *Store) *observerHub {
	h := &observerHub{
		s:         s,
		observers: xsync.NewMapOf[uint64, Observer](),
		inbox:     util.NewMailbox[notification](),
	}
	h.done.Add(1)
	go h.run()
	return h
}

// RegisterObserver adds fn and returns the handle to remove it with
func (s *Store) RegisterObserver(fn Observer) uint64 {
	id := s.observers.nextID.Add(1)
	s.observers.observers.Store(id, fn)
	return id
}

// UnregisterObserver removes an observer
func (s *Store) UnregisterObserver(id uint64) {
	s.observers.observers.Delete(id)
}

// notify queues the diff of c. Called by the committer while it still holds
// the write slot, so notifications are queued in commit order.
func (h *observerHub) notify(c *Commit) {
	if h.observers.Size() == 0 {
		return
	}
	n := &notification{begin: c.Left, end: c}
	if c.Version > 0 {
		n.pin = h.s.pins.Add(c.Version - 1)
		n.pinned = true
	}
	if !h.inbox.Push(n) && n.pinned {
		h.s.pins.Remove(n.pin)
	}
}

func (h *observerHub) run() {
	defer h.done.Done()
	for n := range h.inbox.Recv() {
		h.deliver(n)
		if n.pinned {
			h.s.pins.Remove(n.pin)
			if !h.inbox.IsClosed() {
				h.s.vacuum.Relaunch()
			}
		}
	}
}

func (h *observerHub) deliver(n *notification) {
	if h.observers.Size() == 0 {
		return
	}
	diff, err := h.s.diff(n.begin, n.end.ID)
	if err != nil {
		log.Warningf("diff of commit %x: %v", n.end.ID, err)
		return
	}
	h.observers.Range(func(_ uint64, fn Observer) bool {
		fn(diff)
		return true
	})
}

// close stops accepting notifications and waits for queued ones
func (h *observerHub) close() {
	h.inbox.Close()
	h.done.Wait()
}
