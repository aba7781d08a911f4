package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNewPinHeap(t *testing.T) {
	h := NewPinHeap()
	if h.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", h.Len())
	}
	if _, ok := h.Min(); ok {
		t.Error("Min() on an empty heap should report false")
	}
}

func TestPinAndMin(t *testing.T) {
	h := NewPinHeap()
	h.Pin(1, 100)
	h.Pin(2, 200)
	h.Pin(3, 50)

	if h.Len() != 3 {
		t.Errorf("Heap should have 3 pins, but has %d", h.Len())
	}
	for _, id := range []uint64{1, 2, 3} {
		if !h.Contains(id) {
			t.Errorf("Heap should contain pin %d", id)
		}
	}
	if v, ok := h.Min(); !ok || v != 50 {
		t.Errorf("Expected min version 50, got %d (%v)", v, ok)
	}
}

func TestSameVersionManyPins(t *testing.T) {
	h := NewPinHeap()
	h.Pin(1, 7)
	h.Pin(2, 7)
	h.Pin(3, 9)

	h.Unpin(1)
	if v, _ := h.Min(); v != 7 {
		t.Errorf("Version 7 is still pinned by id 2, got min %d", v)
	}
	h.Unpin(2)
	if v, _ := h.Min(); v != 9 {
		t.Errorf("Expected min 9 after releasing both pins of 7, got %d", v)
	}
}

func TestRepin(t *testing.T) {
	h := NewPinHeap()
	h.Pin(1, 100)
	h.Pin(2, 200)
	h.Pin(1, 300)

	if v, ok := h.Version(1); !ok || v != 300 {
		t.Errorf("Expected pin 1 to hold 300, got %d (%v)", v, ok)
	}
	if v, _ := h.Min(); v != 200 {
		t.Errorf("Expected min 200 after repin, got %d", v)
	}
	if h.Len() != 2 {
		t.Errorf("Repin must not add a pin, len = %d", h.Len())
	}
}

func TestUnpin(t *testing.T) {
	h := NewPinHeap()
	h.Pin(1, 100)
	h.Pin(2, 200)

	v, ok := h.Unpin(1)
	if !ok || v != 100 {
		t.Errorf("Expected Unpin(1) = 100, got %d (%v)", v, ok)
	}
	if h.Contains(1) {
		t.Error("Pin 1 should be removed")
	}
	if _, ok := h.Unpin(1); ok {
		t.Error("Unpin of a missing id should report false")
	}
}

func TestVersionsSorted(t *testing.T) {
	h := NewPinHeap()
	r := rand.New(rand.NewSource(1))

	var expected []uint64
	for id := uint64(0); id < 200; id++ {
		v := uint64(r.Intn(1000))
		h.Pin(id, v)
		expected = append(expected, v)
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })

	got := h.Versions()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d versions, got %d", len(expected), len(got))
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("Versions()[%d] = %d, expected %d", i, got[i], expected[i])
		}
	}
	if h.Len() != 200 {
		t.Errorf("Versions() must not modify the heap, len = %d", h.Len())
	}
}
