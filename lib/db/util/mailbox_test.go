package util

import (
	"sync"
	"testing"
	"time"
)

func TestMailboxOrder(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !m.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-m.Recv():
			if *v != i {
				t.Errorf("Expected %d, got %d", i, *v)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-m.Recv():
		t.Errorf("Mailbox should be empty, got %v", *v)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMailboxPushNil(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()
	if m.Push(nil) {
		t.Error("Push(nil) should be rejected")
	}
}

func TestMailboxConcurrentProducers(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	const producers = 8
	const perProducer = 500
	total := producers * perProducer

	done := make(chan map[int]bool)
	go func() {
		seen := make(map[int]bool, total)
		for len(seen) < total {
			select {
			case v := <-m.Recv():
				if seen[*v] {
					t.Errorf("Duplicate item %d", *v)
				}
				seen[*v] = true
			case <-time.After(5 * time.Second):
				t.Errorf("Timeout, received %d of %d", len(seen), total)
				done <- seen
				return
			}
		}
		done <- seen
	}()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			// per producer order must be kept
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				if !m.Push(&v) {
					t.Errorf("Producer %d failed to push %d", p, i)
				}
			}
		}(p)
	}
	wg.Wait()

	if seen := <-done; len(seen) != total {
		t.Errorf("Expected %d items, got %d", total, len(seen))
	}
}

func TestMailboxCloseDrains(t *testing.T) {
	m := NewMailbox[string]()

	for _, s := range []string{"a", "b", "c"} {
		v := s
		m.Push(&v)
	}
	m.Close()

	if !m.IsClosed() {
		t.Error("IsClosed should report true after Close")
	}
	v := "late"
	if m.Push(&v) {
		t.Error("Push after Close should fail")
	}

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-m.Recv():
			if !ok {
				if len(got) != 3 {
					t.Errorf("Expected 3 drained items, got %v", got)
				}
				return
			}
			got = append(got, *v)
		case <-timeout:
			t.Fatalf("Recv channel was not closed, got %v", got)
		}
	}
}

func TestMailboxLen(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	for i := 0; i < 5; i++ {
		v := i
		m.Push(&v)
	}
	// at most one item is in flight inside the pump
	if l := m.Len(); l < 4 || l > 5 {
		t.Errorf("Expected Len 4 or 5, got %d", l)
	}
	for i := 0; i < 5; i++ {
		<-m.Recv()
	}
	deadline := time.Now().Add(time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty mailbox, got Len %d", m.Len())
	}
}

func BenchmarkMailboxPush(b *testing.B) {
	m := NewMailbox[int]()
	defer m.Close()
	go func() {
		for range m.Recv() {
		}
	}()

	v := 1
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Push(&v)
		}
	})
}
