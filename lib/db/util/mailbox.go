// Package util
//
// This file provides Mailbox, an unbounded multi-producer single-consumer
// queue used as the inbox of actor goroutines (the vacuum scheduler and the
// commit observer dispatcher).
//
// Properties:
//   - Push never blocks: producers append to a linked list with CAS.
//   - A pump goroutine moves items from the list into the channel returned
//     by Recv, so the consumer can select on it together with other events.
//   - Items pushed by one producer are received in push order. Items pushed
//     concurrently by different producers are ordered by whichever CAS
//     succeeds first.
//   - Close stops further pushes; items already queued are still delivered,
//     then the Recv channel is closed.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type mailboxNode[T any] struct {
	value *T
	next  atomic.Pointer[mailboxNode[T]]
}

// Mailbox is an unbounded lock-free MPSC queue
type Mailbox[T any] struct {
	head   atomic.Pointer[mailboxNode[T]] // sentinel, only touched by the pump
	tail   atomic.Pointer[mailboxNode[T]]
	out    chan *T
	pump   sync.WaitGroup
	closed atomic.Bool
	queued atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMailbox creates a mailbox and starts its pump goroutine
func NewMailbox[T any]() *Mailbox[T] {
	sentinel := &mailboxNode[T]{}
	m := &Mailbox[T]{out: make(chan *T)}
	m.cond = sync.NewCond(&m.mu)
	m.head.Store(sentinel)
	m.tail.Store(sentinel)

	m.pump.Add(1)
	go m.run()
	return m
}

// Push appends value. It returns false if value is nil or the mailbox is
// closed.
//
// Thread-safety: safe for any number of concurrent producers.
func (m *Mailbox[T]) Push(value *T) bool {
	if value == nil || m.closed.Load() {
		return false
	}

	n := &mailboxNode[T]{value: value}
	var spins uint8
	for {
		tail := m.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// a failed swap means another producer already advanced tail
				m.tail.CompareAndSwap(tail, n)
				m.queued.Add(1)
				m.wake()
				return true
			}
		} else {
			m.tail.CompareAndSwap(tail, next)
		}

		// back off exponentially under contention
		if spins < 10 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the pump while holding the lock, so a wakeup cannot slip in
// between the pump's emptiness check and its Wait.
func (m *Mailbox[T]) wake() {
	m.mu.Lock()
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *Mailbox[T]) run() {
	defer m.pump.Done()
	defer close(m.out)

	for {
		delivered := false
		for {
			head := m.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			delivered = true

			value := next.value
			m.head.Store(next)
			m.out <- value
			m.queued.Add(-1)
			next.value = nil
		}

		if !delivered {
			m.mu.Lock()
			if m.head.Load().next.Load() == nil {
				if m.closed.Load() {
					m.mu.Unlock()
					return
				}
				m.cond.Wait()
			}
			m.mu.Unlock()
		}
	}
}

// Recv returns the channel the consumer reads from. It is closed after
// Close once every queued item was delivered.
func (m *Mailbox[T]) Recv() <-chan *T {
	return m.out
}

// Close rejects further pushes. Queued items are still delivered.
func (m *Mailbox[T]) Close() {
	m.closed.Store(true)
	m.wake()
}

// IsClosed reports whether Close was called
func (m *Mailbox[T]) IsClosed() bool {
	return m.closed.Load()
}

// Len returns the number of items pushed but not yet received
func (m *Mailbox[T]) Len() int {
	return int(m.queued.Load())
}
