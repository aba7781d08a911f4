// Package util
//
// This file provides PinHeap, a min-heap of pinned versions that can also be
// addressed by pin id.
//
// A pin holds a version in place: history at or above the smallest pinned
// version must not be reclaimed. Many readers may pin the same version, so
// pins are identified by a unique id and the heap is effectively a multiset
// of versions.
//
// Complexity:
//   - O(log n) Pin, Unpin and Repin
//   - O(1) Min and Contains
//
// PinHeap is not thread-safe. Callers serialize access themselves.
//
// Example usage:
//
//	pins := NewPinHeap()
//	pins.Pin(1, 42)  // pin id 1 holds version 42
//	pins.Pin(2, 17)
//	v, ok := pins.Min() // 17, true
//	pins.Unpin(2)
//	v, ok = pins.Min()  // 42, true
package util

import (
	"container/heap"
	"strconv"
)

// pin is one entry of a PinHeap
type pin struct {
	ID      uint64 // Unique id of the pin
	Version uint64 // Pinned version, the heap priority
	index   int    // Index in the heap, maintained by container/heap
}

func (p *pin) String() string {
	return "{ID: " + strconv.FormatUint(p.ID, 10) + ", Version: " + strconv.FormatUint(p.Version, 10) + "}"
}

// pinSlice is the heap.Interface backing a PinHeap
type pinSlice struct {
	items []*pin
	byID  map[uint64]*pin
}

func (s *pinSlice) Len() int           { return len(s.items) }
func (s *pinSlice) Less(i, j int) bool { return s.items[i].Version < s.items[j].Version }

func (s *pinSlice) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.items[i].index = i
	s.items[j].index = j
}

func (s *pinSlice) Push(x any) {
	p := x.(*pin)
	p.index = len(s.items)
	s.items = append(s.items, p)
	s.byID[p.ID] = p
}

func (s *pinSlice) Pop() any {
	old := s.items
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	s.items = old[:n-1]
	delete(s.byID, p.ID)
	return p
}

// PinHeap is a multiset of pinned versions ordered by version
type PinHeap struct {
	s pinSlice
}

// NewPinHeap creates an empty PinHeap
func NewPinHeap() *PinHeap {
	return &PinHeap{s: pinSlice{byID: make(map[uint64]*pin)}}
}

// Len returns the number of pins
func (h *PinHeap) Len() int { return h.s.Len() }

// Pin adds a pin with the given id. If the id is already pinned its
// version is replaced.
func (h *PinHeap) Pin(id, version uint64) {
	if p, ok := h.s.byID[id]; ok {
		p.Version = version
		heap.Fix(&h.s, p.index)
		return
	}
	heap.Push(&h.s, &pin{ID: id, Version: version})
}

// Unpin removes the pin with the given id and returns its version
func (h *PinHeap) Unpin(id uint64) (uint64, bool) {
	p, ok := h.s.byID[id]
	if !ok {
		return 0, false
	}
	heap.Remove(&h.s, p.index)
	return p.Version, true
}

// Min returns the smallest pinned version
func (h *PinHeap) Min() (uint64, bool) {
	if len(h.s.items) == 0 {
		return 0, false
	}
	return h.s.items[0].Version, true
}

// Contains reports whether id is pinned
func (h *PinHeap) Contains(id uint64) bool {
	_, ok := h.s.byID[id]
	return ok
}

// Version returns the version held by pin id
func (h *PinHeap) Version(id uint64) (uint64, bool) {
	p, ok := h.s.byID[id]
	if !ok {
		return 0, false
	}
	return p.Version, true
}

// Versions returns all pinned versions in ascending order. The heap is left
// unchanged.
func (h *PinHeap) Versions() []uint64 {
	cp := &pinSlice{
		items: make([]*pin, len(h.s.items)),
		byID:  make(map[uint64]*pin, len(h.s.items)),
	}
	for i, p := range h.s.items {
		c := *p
		cp.items[i] = &c
		cp.byID[c.ID] = &c
	}
	out := make([]uint64, 0, len(cp.items))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(cp).(*pin).Version)
	}
	return out
}
